// session/session.go
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wfunc/planningpoker/broadcast"
	"github.com/wfunc/planningpoker/logger"
	"github.com/wfunc/planningpoker/models"
	"github.com/wfunc/planningpoker/network"
	"github.com/wfunc/planningpoker/room"
	"github.com/wfunc/planningpoker/services"
)

var (
	ErrNotOwner  = errors.New("only the room owner can do this")
	ErrNotInRoom = errors.New("session has not joined a room")
)

// Subscriber is the read side of the change feed.
type Subscriber interface {
	Subscribe(ctx context.Context, roomID, origin string, fn broadcast.Handler) (func(), error)
}

// Session is one connected client. Its ID is the origin stamped on every
// change it writes, so it never hears its own writes back; it applies the
// returned document to its local view instead.
type Session struct {
	ID         string
	Conn       network.Connection
	CreatedAt  time.Time
	LastActive time.Time

	engine   *room.Engine
	notifier Subscriber
	presence time.Duration
	now      func() time.Time

	ops         sync.Mutex // serializes operations of this client
	mutex       sync.RWMutex
	roomID      string
	name        string
	view        *models.Room
	unsubscribe func()
	lastTouch   time.Time
}

type Option func(*Session)

// WithPresenceInterval sets the minimum gap between two presence touches.
func WithPresenceInterval(d time.Duration) Option {
	return func(s *Session) { s.presence = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// NewSession binds conn to a copy of engine acting as origin id. notifier
// may be nil, in which case the view is only refreshed by own writes.
func NewSession(id string, conn network.Connection, engine *room.Engine, notifier Subscriber, opts ...Option) *Session {
	s := &Session{
		ID:       id,
		Conn:     conn,
		engine:   engine.WithOrigin(id),
		notifier: notifier,
		presence: 30 * time.Second,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.CreatedAt = s.now()
	s.LastActive = s.CreatedAt
	return s
}

func (s *Session) GetID() string {
	return s.ID
}

func (s *Session) RoomID() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.roomID
}

func (s *Session) Name() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.name
}

// View returns a copy of the last document this client has seen, or nil.
func (s *Session) View() *models.Room {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.view == nil {
		return nil
	}
	return s.view.Clone()
}

// IdleSince reports how long the client has been silent.
func (s *Session) IdleSince(now time.Time) time.Duration {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return now.Sub(s.LastActive)
}

func (s *Session) Send(msgID uint16, data []byte) error {
	return s.Conn.Send(msgID, data)
}

// SendError reports err for the request with id req.
func (s *Session) SendError(req uint16, err error) error {
	data, _ := json.Marshal(network.ErrorMessage{Request: req, Code: ErrorCode(err), Message: err.Error()})
	return s.Send(network.MsgTypeError, data)
}

// ErrorCode maps an operation error to a stable code for clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, room.ErrNotAParticipant):
		return "not_a_participant"
	case errors.Is(err, room.ErrValidation):
		return "validation"
	case errors.Is(err, room.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, room.ErrStaleWrite):
		return "stale_write"
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	case errors.Is(err, ErrNotInRoom):
		return "not_in_room"
	}
	return "internal"
}

// --- 房间 ---

// Create makes a new room and joins it as name, becoming its owner.
// Identifier collisions are retried up to attempts times.
func (s *Session) Create(ctx context.Context, name string, deck []string, attempts int) (*models.Room, error) {
	r, err := room.CreateWithRetry(ctx, s.engine, deck, attempts)
	if err != nil {
		return nil, err
	}
	return s.Join(ctx, r.ID, name)
}

// Join enters roomID as name. A previous room is left first, unless it is
// the same room under the same name, which rejoins in place.
func (s *Session) Join(ctx context.Context, roomID, name string) (*models.Room, error) {
	s.ops.Lock()
	defer s.ops.Unlock()
	s.MarkActive()

	current := s.RoomID()
	if current != "" && current == models.NormalizeRoomID(roomID) && s.Name() == models.NormalizeName(name) {
		r, err := s.engine.JoinRoom(ctx, current, name)
		if err != nil {
			return nil, err
		}
		s.apply(r)
		return r, nil
	}
	if current != "" {
		if err := s.leave(ctx); err != nil && !errors.Is(err, room.ErrRoomNotFound) {
			logger.Log.Warnf("Session %s failed to leave room %s: %v", s.ID, current, err)
		}
	}

	r, err := s.engine.JoinRoom(ctx, roomID, name)
	if err != nil {
		return nil, err
	}

	var unsubscribe func()
	if s.notifier != nil {
		unsubscribe, err = s.notifier.Subscribe(ctx, r.ID, s.ID, s.onChange)
		if err != nil {
			return nil, fmt.Errorf("subscribe to room %s: %w", r.ID, err)
		}
	}

	s.mutex.Lock()
	s.roomID = r.ID
	s.name = models.NormalizeName(name)
	s.unsubscribe = unsubscribe
	s.lastTouch = s.now()
	s.mutex.Unlock()

	logger.Log.Infof("Session %s joined room %s as %s", s.ID, r.ID, s.Name())
	s.apply(r)
	return r, nil
}

// Leave removes this client from its room.
func (s *Session) Leave(ctx context.Context) error {
	s.ops.Lock()
	defer s.ops.Unlock()
	return s.leave(ctx)
}

func (s *Session) leave(ctx context.Context) error {
	roomID, name := s.RoomID(), s.Name()
	if roomID == "" {
		return ErrNotInRoom
	}
	s.detach()
	if _, err := s.engine.LeaveRoom(ctx, roomID, name); err != nil {
		return err
	}
	logger.Log.Infof("Session %s left room %s", s.ID, roomID)
	return nil
}

// Detach stops listening for changes without leaving the room. The
// participant stays in the document until it leaves, is kicked or swept.
func (s *Session) Detach() {
	s.ops.Lock()
	defer s.ops.Unlock()
	s.detach()
}

func (s *Session) detach() {
	s.mutex.Lock()
	unsubscribe := s.unsubscribe
	s.roomID, s.name, s.view, s.unsubscribe = "", "", nil, nil
	s.mutex.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// --- 出牌 ---

func (s *Session) SetCard(ctx context.Context, card string) (*models.Room, error) {
	return s.participantOp(func(roomID, name string) (*models.Room, error) {
		return s.engine.SetCard(ctx, roomID, name, card)
	})
}

func (s *Session) ClearCard(ctx context.Context) (*models.Room, error) {
	return s.SetCard(ctx, "")
}

// MarkActive records that the client just sent something.
func (s *Session) MarkActive() {
	now := s.now()
	s.mutex.Lock()
	s.LastActive = now
	s.mutex.Unlock()
}

// Heartbeat marks the client active. At most once per presence interval it
// also refreshes the participant's lastSeen in the shared document.
func (s *Session) Heartbeat(ctx context.Context) error {
	now := s.now()
	s.mutex.Lock()
	s.LastActive = now
	due := s.roomID != "" && now.Sub(s.lastTouch) >= s.presence
	if due {
		s.lastTouch = now
	}
	s.mutex.Unlock()

	if !due {
		return nil
	}
	_, err := s.participantOp(func(roomID, name string) (*models.Room, error) {
		return s.engine.Touch(ctx, roomID, name)
	})
	return err
}

// --- 房主操作 ---

func (s *Session) Kick(ctx context.Context, name string) (*models.Room, error) {
	return s.ownerOp(func(roomID string) (*models.Room, error) {
		return s.engine.KickParticipant(ctx, roomID, name)
	})
}

func (s *Session) Reveal(ctx context.Context) (*models.Room, error) {
	return s.ownerOp(func(roomID string) (*models.Room, error) {
		return s.engine.Reveal(ctx, roomID)
	})
}

func (s *Session) Hide(ctx context.Context) (*models.Room, error) {
	return s.ownerOp(func(roomID string) (*models.Room, error) {
		return s.engine.Hide(ctx, roomID)
	})
}

func (s *Session) ToggleReveal(ctx context.Context) (*models.Room, error) {
	return s.ownerOp(func(roomID string) (*models.Room, error) {
		return s.engine.ToggleReveal(ctx, roomID)
	})
}

func (s *Session) ResetRound(ctx context.Context) (*models.Room, error) {
	return s.ownerOp(func(roomID string) (*models.Room, error) {
		return s.engine.ResetRound(ctx, roomID)
	})
}

func (s *Session) UpdateDeck(ctx context.Context, labels []string) (*models.Room, error) {
	return s.ownerOp(func(roomID string) (*models.Room, error) {
		return s.engine.UpdateDeck(ctx, roomID, labels)
	})
}

func (s *Session) participantOp(fn func(roomID, name string) (*models.Room, error)) (*models.Room, error) {
	s.ops.Lock()
	defer s.ops.Unlock()
	s.MarkActive()

	roomID, name := s.RoomID(), s.Name()
	if roomID == "" {
		return nil, ErrNotInRoom
	}
	r, err := fn(roomID, name)
	if err != nil {
		return nil, err
	}
	s.apply(r)
	return r, nil
}

// ownerOp checks ownership against the local view, which is the document as
// this client currently knows it.
func (s *Session) ownerOp(fn func(roomID string) (*models.Room, error)) (*models.Room, error) {
	s.ops.Lock()
	defer s.ops.Unlock()
	s.MarkActive()

	s.mutex.RLock()
	roomID, name, view := s.roomID, s.name, s.view
	s.mutex.RUnlock()

	if roomID == "" {
		return nil, ErrNotInRoom
	}
	if view == nil || view.Owner != name {
		return nil, fmt.Errorf("%w: %s does not own room %s", ErrNotOwner, name, roomID)
	}
	r, err := fn(roomID)
	if err != nil {
		return nil, err
	}
	s.apply(r)
	return r, nil
}

// --- 同步 ---

// onChange re-reads the room after another client wrote it. If this client
// is no longer a participant it was kicked.
func (s *Session) onChange(change broadcast.Change) {
	s.mutex.RLock()
	roomID, name := s.roomID, s.name
	s.mutex.RUnlock()
	if roomID == "" || change.RoomID != roomID {
		return
	}

	r, err := s.engine.Get(context.Background(), roomID)
	if err != nil {
		logger.Log.Warnf("Session %s failed to re-read room %s: %v", s.ID, roomID, err)
		return
	}

	if _, ok := r.Participants[name]; !ok {
		s.mutex.Lock()
		if s.roomID != roomID {
			s.mutex.Unlock()
			return
		}
		unsubscribe := s.unsubscribe
		s.roomID, s.name, s.view, s.unsubscribe = "", "", nil, nil
		s.mutex.Unlock()

		// Unsubscribing waits for the delivery goroutine we are running on.
		if unsubscribe != nil {
			go unsubscribe()
		}
		logger.Log.Infof("Session %s was removed from room %s", s.ID, roomID)
		data, _ := json.Marshal(map[string]string{"room_id": roomID})
		if err := s.Send(network.MsgTypeKicked, data); err != nil {
			logger.Log.Debugf("Session %s: failed to send kick notice: %v", s.ID, err)
		}
		return
	}
	s.apply(r)
}

// apply replaces the local view and pushes it to the client.
func (s *Session) apply(r *models.Room) {
	s.mutex.Lock()
	if s.roomID != r.ID {
		s.mutex.Unlock()
		return
	}
	s.view = r.Clone()
	s.mutex.Unlock()

	data, err := json.Marshal(services.BuildReport(r))
	if err != nil {
		logger.Log.Errorf("Session %s: failed to encode room %s: %v", s.ID, r.ID, err)
		return
	}
	if err := s.Send(network.MsgTypeRoomState, data); err != nil {
		logger.Log.Debugf("Session %s: failed to push room state: %v", s.ID, err)
	}
}

func (s *Session) Close() error {
	s.Detach()
	return s.Conn.Close()
}

// Session管理器
type Manager struct {
	sessions map[string]*Session
	mutex    sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Add(session *Session) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sessions[session.ID] = session
}

func (m *Manager) Remove(sessionID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.sessions, sessionID)
}

func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	session, exists := m.sessions[sessionID]
	return session, exists
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// InRoom returns the sessions currently joined to roomID.
func (m *Manager) InRoom(roomID string) []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var result []*Session
	for _, session := range m.sessions {
		if session.RoomID() == roomID {
			result = append(result, session)
		}
	}
	return result
}

// Idle returns the sessions silent for at least timeout.
func (m *Manager) Idle(now time.Time, timeout time.Duration) []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var result []*Session
	for _, session := range m.sessions {
		if session.IdleSince(now) >= timeout {
			result = append(result, session)
		}
	}
	return result
}
