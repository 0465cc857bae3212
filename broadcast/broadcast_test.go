package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects delivered changes.
type recorder struct {
	mu      sync.Mutex
	changes []Change
	ch      chan Change
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Change, 16)}
}

func (r *recorder) handle(c Change) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
	r.ch <- c
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

func TestLocalNotifier_SkipsOrigin(t *testing.T) {
	n := NewLocalNotifier()
	ctx := context.Background()

	alice, bob := newRecorder(), newRecorder()
	_, err := n.Subscribe(ctx, "ABC12", "tab-alice", alice.handle)
	require.NoError(t, err)
	_, err = n.Subscribe(ctx, "ABC12", "tab-bob", bob.handle)
	require.NoError(t, err)

	require.NoError(t, n.Publish(ctx, Change{RoomID: "ABC12", Origin: "tab-alice"}))

	assert.Equal(t, 0, alice.count())
	assert.Equal(t, 1, bob.count())
}

func TestLocalNotifier_OtherRoomsAndUnsubscribe(t *testing.T) {
	n := NewLocalNotifier()
	ctx := context.Background()

	rec := newRecorder()
	unsubscribe, err := n.Subscribe(ctx, "ABC12", "tab-1", rec.handle)
	require.NoError(t, err)
	assert.Equal(t, 1, n.Subscribers("ABC12"))

	require.NoError(t, n.Publish(ctx, Change{RoomID: "ZZZ99", Origin: "tab-2"}))
	assert.Equal(t, 0, rec.count())

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, n.Subscribers("ABC12"))

	require.NoError(t, n.Publish(ctx, Change{RoomID: "ABC12", Origin: "tab-2"}))
	assert.Equal(t, 0, rec.count())
}

func TestLocalNotifier_PanickingHandler(t *testing.T) {
	n := NewLocalNotifier()
	ctx := context.Background()

	rec := newRecorder()
	_, err := n.Subscribe(ctx, "ABC12", "tab-1", func(Change) { panic("boom") })
	require.NoError(t, err)
	_, err = n.Subscribe(ctx, "ABC12", "tab-2", rec.handle)
	require.NoError(t, err)

	assert.NoError(t, n.Publish(ctx, Change{RoomID: "ABC12", Origin: "tab-3"}))
	assert.Equal(t, 1, rec.count())
}

func TestLocalNotifier_Closed(t *testing.T) {
	n := NewLocalNotifier()
	require.NoError(t, n.Close())

	_, err := n.Subscribe(context.Background(), "ABC12", "tab-1", func(Change) {})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, n.Publish(context.Background(), Change{RoomID: "ABC12"}), ErrClosed)
}

func TestRedisNotifier_Delivery(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	n := NewRedisNotifier(client, "")
	ctx := context.Background()

	self, other := newRecorder(), newRecorder()
	unsubSelf, err := n.Subscribe(ctx, "ABC12", "node-a", self.handle)
	require.NoError(t, err)
	defer unsubSelf()
	unsubOther, err := n.Subscribe(ctx, "ABC12", "node-b", other.handle)
	require.NoError(t, err)
	defer unsubOther()

	require.NoError(t, n.Publish(ctx, Change{RoomID: "ABC12", Key: "planning-poker:room:ABC12", Origin: "node-a"}))

	select {
	case c := <-other.ch:
		assert.Equal(t, "ABC12", c.RoomID)
		assert.Equal(t, "node-a", c.Origin)
		assert.Equal(t, "planning-poker:room:ABC12", c.Key)
	case <-time.After(2 * time.Second):
		t.Fatal("change was not delivered to the other subscriber")
	}
	assert.Equal(t, 0, self.count())
}

func TestChangePayload(t *testing.T) {
	raw, err := encodeChange(Change{RoomID: "ABC12", Origin: "tab-1", Raw: []byte("ignored")})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "ignored")

	c, err := decodeChange(raw)
	require.NoError(t, err)
	assert.Equal(t, Change{RoomID: "ABC12", Origin: "tab-1"}, c)
}

func TestPGChannel(t *testing.T) {
	assert.Equal(t, "planning_poker_abc12", pgChannel("ABC12"))
}
