package broadcast

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/wfunc/planningpoker/logger"
)

// PQNotifier uses postgres LISTEN/NOTIFY. One listener connection is shared
// by every subscription of the process.
type PQNotifier struct {
	db       *sql.DB
	listener *pq.Listener
	subs     map[string]map[uint64]subscriber // channel -> id -> subscriber
	nextID   uint64
	mutex    sync.Mutex
	done     chan struct{}
}

// NewPQNotifier publishes through db and listens on a dedicated connection
// opened from dsn.
func NewPQNotifier(dsn string, db *sql.DB) *PQNotifier {
	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Log.Errorf("Postgres listener event %d: %v", ev, err)
		}
	})

	n := &PQNotifier{
		db:       db,
		listener: listener,
		subs:     make(map[string]map[uint64]subscriber),
		done:     make(chan struct{}),
	}
	go n.dispatch()
	return n
}

// pgChannel maps a room id to a LISTEN channel name.
func pgChannel(roomID string) string {
	return "planning_poker_" + strings.ToLower(roomID)
}

func (n *PQNotifier) Publish(ctx context.Context, change Change) error {
	payload, err := encodeChange(change)
	if err != nil {
		return err
	}
	if _, err := n.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", pgChannel(change.RoomID), string(payload)); err != nil {
		return fmt.Errorf("postgres: failed to notify room %s: %w", change.RoomID, err)
	}
	return nil
}

func (n *PQNotifier) Subscribe(ctx context.Context, roomID, origin string, fn Handler) (func(), error) {
	channel := pgChannel(roomID)

	n.mutex.Lock()
	defer n.mutex.Unlock()

	if _, exists := n.subs[channel]; !exists {
		if err := n.listener.Listen(channel); err != nil && !errors.Is(err, pq.ErrChannelAlreadyOpen) {
			return nil, fmt.Errorf("postgres: failed to listen on %s: %w", channel, err)
		}
		n.subs[channel] = make(map[uint64]subscriber)
	}
	n.nextID++
	id := n.nextID
	n.subs[channel][id] = subscriber{origin: origin, fn: fn}

	var once sync.Once
	return func() {
		once.Do(func() { n.remove(channel, id) })
	}, nil
}

func (n *PQNotifier) remove(channel string, id uint64) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	delete(n.subs[channel], id)
	if len(n.subs[channel]) == 0 {
		delete(n.subs, channel)
		if err := n.listener.Unlisten(channel); err != nil && !errors.Is(err, pq.ErrChannelNotOpen) {
			logger.Log.Warnf("Postgres unlisten %s: %v", channel, err)
		}
	}
}

func (n *PQNotifier) dispatch() {
	for {
		select {
		case notification := <-n.listener.Notify:
			// nil after a reconnect; notifications may have been lost
			if notification == nil {
				continue
			}
			change, err := decodeChange([]byte(notification.Extra))
			if err != nil {
				logger.Log.Warnf("Ignoring malformed change on %s: %v", notification.Channel, err)
				continue
			}
			for _, fn := range n.handlers(notification.Channel, change.Origin) {
				fn(change)
			}
		case <-time.After(90 * time.Second):
			if err := n.listener.Ping(); err != nil {
				logger.Log.Warnf("Postgres listener ping failed: %v", err)
			}
		case <-n.done:
			return
		}
	}
}

func (n *PQNotifier) handlers(channel, origin string) []Handler {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	fns := make([]Handler, 0, len(n.subs[channel]))
	for _, s := range n.subs[channel] {
		if s.origin != origin {
			fns = append(fns, s.fn)
		}
	}
	return fns
}

func (n *PQNotifier) Close() error {
	close(n.done)
	return n.listener.Close()
}
