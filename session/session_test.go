package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/planningpoker/broadcast"
	"github.com/wfunc/planningpoker/network"
	"github.com/wfunc/planningpoker/persistence"
	"github.com/wfunc/planningpoker/room"
	"github.com/wfunc/planningpoker/services"
)

// MockConnection is a test double for the network.Connection interface
// that records every packet sent to the client.
type MockConnection struct {
	mutex   sync.Mutex
	packets []network.Packet
	closed  bool
}

func (m *MockConnection) Send(msgID uint16, data []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.packets = append(m.packets, network.Packet{MsgID: msgID, Data: data, Length: uint32(len(data))})
	return nil
}
func (m *MockConnection) Close() error                         { m.closed = true; return nil }
func (m *MockConnection) RemoteAddr() net.Addr                 { return &net.TCPAddr{} }
func (m *MockConnection) SetHeartbeat(interval time.Duration)  {}
func (m *MockConnection) ReadPacket() (*network.Packet, error) { return nil, nil }

func (m *MockConnection) last(msgID uint16) (network.Packet, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for i := len(m.packets) - 1; i >= 0; i-- {
		if m.packets[i].MsgID == msgID {
			return m.packets[i], true
		}
	}
	return network.Packet{}, false
}

func (m *MockConnection) lastReport(t *testing.T) services.Report {
	t.Helper()
	p, ok := m.last(network.MsgTypeRoomState)
	require.True(t, ok, "no room state pushed")
	var rep services.Report
	require.NoError(t, json.Unmarshal(p.Data, &rep))
	return rep
}

type manualClock struct {
	mutex sync.Mutex
	t     time.Time
}

func (c *manualClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mutex.Lock()
	c.t = c.t.Add(d)
	c.mutex.Unlock()
}

type fixture struct {
	store    *persistence.MemoryStore
	notifier *broadcast.LocalNotifier
	engine   *room.Engine
	clock    *manualClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := persistence.NewMemoryStore("test:")
	require.NoError(t, err)
	clock := &manualClock{t: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)}
	n := 0
	ids := func() (string, error) {
		n++
		return fmt.Sprintf("ROOM%d", n), nil
	}
	notifier := broadcast.NewLocalNotifier()
	engine := room.NewEngine(store, notifier, room.WithClock(clock.Now), room.WithIDGenerator(ids))
	return &fixture{store: store, notifier: notifier, engine: engine, clock: clock}
}

func (f *fixture) session(id string) (*Session, *MockConnection) {
	conn := &MockConnection{}
	return NewSession(id, conn, f.engine, f.notifier, WithClock(f.clock.Now), WithPresenceInterval(30*time.Second)), conn
}

func TestSession_CreateBecomesOwner(t *testing.T) {
	f := newFixture(t)
	alice, conn := f.session("tab-a")

	r, err := alice.Create(context.Background(), "Alice", nil, 5)
	require.NoError(t, err)
	assert.Equal(t, "ROOM1", r.ID)
	assert.Equal(t, "ROOM1", alice.RoomID())
	assert.Equal(t, "Alice", alice.View().Owner)

	rep := conn.lastReport(t)
	assert.Equal(t, "Alice", rep.Room.Owner)
	assert.Len(t, rep.Participants, 1)
	assert.Equal(t, 1, f.notifier.Subscribers("ROOM1"))
}

func TestSession_OtherClientsSeeChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, aliceConn := f.session("tab-a")
	bob, _ := f.session("tab-b")

	r, err := alice.Create(ctx, "Alice", nil, 5)
	require.NoError(t, err)
	_, err = bob.Join(ctx, r.ID, "Bob")
	require.NoError(t, err)

	assert.Contains(t, alice.View().Participants, "Bob")
	_, err = bob.SetCard(ctx, "5")
	require.NoError(t, err)
	assert.Equal(t, "5", alice.View().Participants["Bob"].Card)

	_, err = alice.Reveal(ctx)
	require.NoError(t, err)
	assert.True(t, bob.View().Reveal)

	rep := aliceConn.lastReport(t)
	require.NotNil(t, rep.Average)
	assert.Equal(t, "5.00", *rep.Average)
}

func TestSession_OwnerOnlyActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.session("tab-a")
	bob, _ := f.session("tab-b")

	r, err := alice.Create(ctx, "Alice", nil, 5)
	require.NoError(t, err)
	_, err = bob.Join(ctx, r.ID, "Bob")
	require.NoError(t, err)

	_, err = bob.Reveal(ctx)
	assert.ErrorIs(t, err, ErrNotOwner)
	_, err = bob.Kick(ctx, "Alice")
	assert.ErrorIs(t, err, ErrNotOwner)
	_, err = bob.UpdateDeck(ctx, []string{"S", "M", "L"})
	assert.ErrorIs(t, err, ErrNotOwner)

	stored, err := f.engine.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, stored.Reveal)
	assert.Contains(t, stored.Participants, "Alice")
}

func TestSession_KickedClientIsNotified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.session("tab-a")
	bob, bobConn := f.session("tab-b")

	r, err := alice.Create(ctx, "Alice", nil, 5)
	require.NoError(t, err)
	_, err = bob.Join(ctx, r.ID, "Bob")
	require.NoError(t, err)

	_, err = alice.Kick(ctx, "Bob")
	require.NoError(t, err)

	_, kicked := bobConn.last(network.MsgTypeKicked)
	assert.True(t, kicked)
	assert.Empty(t, bob.RoomID())
	assert.Nil(t, bob.View())
	assert.Eventually(t, func() bool { return f.notifier.Subscribers(r.ID) == 1 }, time.Second, 10*time.Millisecond)

	_, err = bob.SetCard(ctx, "3")
	assert.ErrorIs(t, err, ErrNotInRoom)
}

func TestSession_LeaveHandsOverOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.session("tab-a")
	bob, _ := f.session("tab-b")

	r, err := alice.Create(ctx, "Alice", nil, 5)
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = bob.Join(ctx, r.ID, "Bob")
	require.NoError(t, err)

	require.NoError(t, alice.Leave(ctx))
	assert.Empty(t, alice.RoomID())
	assert.Equal(t, "Bob", bob.View().Owner)

	_, err = bob.Reveal(ctx)
	assert.NoError(t, err)

	assert.ErrorIs(t, alice.Leave(ctx), ErrNotInRoom)
}

func TestSession_JoinMovesBetweenRooms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.session("tab-a")

	first, err := alice.Create(ctx, "Alice", nil, 5)
	require.NoError(t, err)
	second, err := alice.Create(ctx, "Alice", nil, 5)
	require.NoError(t, err)

	assert.Equal(t, second.ID, alice.RoomID())
	stored, err := f.engine.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Participants)
	assert.Equal(t, 0, f.notifier.Subscribers(first.ID))
}

func TestSession_RejoinSameRoomKeepsOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.session("tab-a")
	bob, _ := f.session("tab-b")

	r, err := alice.Create(ctx, "Alice", nil, 5)
	require.NoError(t, err)
	_, err = bob.Join(ctx, r.ID, "Bob")
	require.NoError(t, err)

	again, err := alice.Join(ctx, "room1", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", again.Owner)
	assert.Equal(t, "ROOM1", alice.RoomID())
	assert.Equal(t, 2, f.notifier.Subscribers("ROOM1"), "rejoin keeps a single subscription")

	stored, err := f.engine.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", stored.Owner)
	assert.Len(t, stored.Participants, 2)
}

func TestSession_CommandsKeepSessionActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := NewManager()
	alice, _ := f.session("tab-a")
	m.Add(alice)

	_, err := alice.Create(ctx, "Alice", nil, 5)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		f.clock.Advance(time.Minute)
		_, err = alice.SetCard(ctx, "5")
		require.NoError(t, err)
	}
	assert.Empty(t, m.Idle(f.clock.Now(), 2*time.Minute))

	f.clock.Advance(3 * time.Minute)
	assert.Len(t, m.Idle(f.clock.Now(), 2*time.Minute), 1)

	alice.MarkActive()
	assert.Zero(t, alice.IdleSince(f.clock.Now()))
}

func TestSession_SetCardValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.session("tab-a")

	_, err := alice.Create(ctx, "Alice", []string{"S", "M"}, 5)
	require.NoError(t, err)

	_, err = alice.SetCard(ctx, "XL")
	assert.ErrorIs(t, err, room.ErrValidation)

	_, err = alice.SetCard(ctx, "M")
	require.NoError(t, err)
	_, err = alice.ClearCard(ctx)
	require.NoError(t, err)
	assert.False(t, alice.View().Participants["Alice"].HasCard())
}

func TestSession_HeartbeatThrottlesTouch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.session("tab-a")

	r, err := alice.Create(ctx, "Alice", nil, 5)
	require.NoError(t, err)
	joined := r.Participants["Alice"].LastSeen

	f.clock.Advance(10 * time.Second)
	require.NoError(t, alice.Heartbeat(ctx))
	stored, err := f.engine.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, joined, stored.Participants["Alice"].LastSeen)
	assert.Zero(t, alice.IdleSince(f.clock.Now()))

	f.clock.Advance(25 * time.Second)
	require.NoError(t, alice.Heartbeat(ctx))
	stored, err = f.engine.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, joined.Add(35*time.Second), stored.Participants["Alice"].LastSeen)
}

func TestSession_HeartbeatOutsideRoom(t *testing.T) {
	f := newFixture(t)
	s, _ := f.session("tab-a")
	f.clock.Advance(time.Minute)
	assert.NoError(t, s.Heartbeat(context.Background()))
	assert.Zero(t, s.IdleSince(f.clock.Now()))
}

func TestSession_SendError(t *testing.T) {
	f := newFixture(t)
	s, conn := f.session("tab-a")

	require.NoError(t, s.SendError(network.MsgTypeReveal, ErrNotInRoom))
	p, ok := conn.last(network.MsgTypeError)
	require.True(t, ok)
	var msg network.ErrorMessage
	require.NoError(t, json.Unmarshal(p.Data, &msg))
	assert.Equal(t, uint16(network.MsgTypeReveal), msg.Request)
	assert.Equal(t, "not_in_room", msg.Code)
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{room.ErrRoomNotFound, "room_not_found"},
		{fmt.Errorf("room X: %w", room.ErrNotAParticipant), "not_a_participant"},
		{room.ErrValidation, "validation"},
		{room.ErrAlreadyExists, "already_exists"},
		{room.ErrStaleWrite, "stale_write"},
		{ErrNotOwner, "not_owner"},
		{ErrNotInRoom, "not_in_room"},
		{errors.New("boom"), "internal"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, ErrorCode(tc.err), tc.err.Error())
	}
}

func TestSession_Close(t *testing.T) {
	f := newFixture(t)
	s, conn := f.session("tab-a")
	_, err := s.Create(context.Background(), "Alice", nil, 5)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.True(t, conn.closed)
	assert.Equal(t, 0, f.notifier.Subscribers("ROOM1"))

	stored, err := f.engine.Get(context.Background(), "ROOM1")
	require.NoError(t, err)
	assert.Contains(t, stored.Participants, "Alice")
}

func TestNewManager(t *testing.T) {
	manager := NewManager()
	if manager == nil {
		t.Fatal("NewManager should not return nil")
	}
	if manager.sessions == nil {
		t.Fatal("NewManager should initialize the sessions map")
	}
}

func TestManager_Add_Get_Remove(t *testing.T) {
	f := newFixture(t)
	manager := NewManager()
	sess, _ := f.session("test_session_1")

	manager.Add(sess)
	assert.Equal(t, 1, manager.Count())

	retrieved, exists := manager.Get("test_session_1")
	require.True(t, exists)
	assert.Same(t, sess, retrieved)

	manager.Remove("test_session_1")
	assert.Equal(t, 0, manager.Count())
	_, exists = manager.Get("test_session_1")
	assert.False(t, exists)
}

func TestManager_InRoomAndIdle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	manager := NewManager()

	alice, _ := f.session("tab-a")
	bob, _ := f.session("tab-b")
	carol, _ := f.session("tab-c")
	manager.Add(alice)
	manager.Add(bob)
	manager.Add(carol)

	r, err := alice.Create(ctx, "Alice", nil, 5)
	require.NoError(t, err)
	_, err = bob.Join(ctx, r.ID, "Bob")
	require.NoError(t, err)

	assert.Len(t, manager.InRoom(r.ID), 2)
	assert.Empty(t, manager.InRoom("NOPE1"))

	f.clock.Advance(time.Minute)
	require.NoError(t, bob.Heartbeat(ctx))
	idle := manager.Idle(f.clock.Now(), 30*time.Second)
	ids := []string{}
	for _, s := range idle {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []string{"tab-a", "tab-c"}, ids)
}
