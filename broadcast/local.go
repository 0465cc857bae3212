package broadcast

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/wfunc/planningpoker/logger"
)

// LocalNotifier delivers changes between clients living in the same process.
type LocalNotifier struct {
	subs   map[string]map[uint64]subscriber // roomID -> id -> subscriber
	nextID uint64
	closed bool
	mutex  sync.RWMutex
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{subs: make(map[string]map[uint64]subscriber)}
}

// Publish runs every matching handler and waits for them. A panicking
// handler is logged and does not affect the others.
func (n *LocalNotifier) Publish(ctx context.Context, change Change) error {
	n.mutex.RLock()
	if n.closed {
		n.mutex.RUnlock()
		return ErrClosed
	}
	targets := make([]Handler, 0, len(n.subs[change.RoomID]))
	for _, s := range n.subs[change.RoomID] {
		if s.origin == change.Origin {
			continue
		}
		targets = append(targets, s.fn)
	}
	n.mutex.RUnlock()

	var wg conc.WaitGroup
	for _, fn := range targets {
		fn := fn
		wg.Go(func() { fn(change) })
	}
	if r := wg.WaitAndRecover(); r != nil {
		logger.Log.Errorf("Change handler for room %s panicked: %v", change.RoomID, r.Value)
	}
	return nil
}

func (n *LocalNotifier) Subscribe(ctx context.Context, roomID, origin string, fn Handler) (func(), error) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if n.closed {
		return nil, ErrClosed
	}
	if _, exists := n.subs[roomID]; !exists {
		n.subs[roomID] = make(map[uint64]subscriber)
	}
	n.nextID++
	id := n.nextID
	n.subs[roomID][id] = subscriber{origin: origin, fn: fn}

	var once sync.Once
	return func() {
		once.Do(func() { n.remove(roomID, id) })
	}, nil
}

// Subscribers returns how many handlers are registered for a room.
func (n *LocalNotifier) Subscribers(roomID string) int {
	n.mutex.RLock()
	defer n.mutex.RUnlock()
	return len(n.subs[roomID])
}

func (n *LocalNotifier) Close() error {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.closed = true
	n.subs = make(map[string]map[uint64]subscriber)
	return nil
}

func (n *LocalNotifier) remove(roomID string, id uint64) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	delete(n.subs[roomID], id)
	if len(n.subs[roomID]) == 0 {
		delete(n.subs, roomID)
	}
}
