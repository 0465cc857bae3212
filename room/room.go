// room/room.go
package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wfunc/planningpoker/broadcast"
	"github.com/wfunc/planningpoker/logger"
	"github.com/wfunc/planningpoker/models"
	"github.com/wfunc/planningpoker/persistence"
	"github.com/wfunc/planningpoker/state"
)

// Policy decides what happens when two clients write the same room from the
// same snapshot.
type Policy int

const (
	// LastWriteWins overwrites the document unconditionally. A concurrent
	// mutation made between our read and our write is silently lost.
	LastWriteWins Policy = iota
	// Optimistic writes only if the stored version is still the one we read,
	// and fails with ErrStaleWrite otherwise. Nothing is retried.
	Optimistic
)

// ParsePolicy accepts "last_write_wins" (or "") and "optimistic".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "last_write_wins":
		return LastWriteWins, nil
	case "optimistic":
		return Optimistic, nil
	}
	return LastWriteWins, fmt.Errorf("unknown concurrency policy %q", s)
}

// Engine applies room mutations as read-modify-write cycles against a shared
// store. It holds no room state itself; one Engine value is one client.
type Engine struct {
	store     persistence.RoomStore
	publisher Publisher
	machine   *state.Machine
	observer  Observer
	origin    string
	keyPrefix string
	policy    Policy
	now       func() time.Time
	newID     IDGenerator
	deck      []string
}

type Option func(*Engine)

// WithOrigin sets the client id stamped on published changes.
func WithOrigin(origin string) Option {
	return func(e *Engine) { e.origin = origin }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator replaces the random room code generator.
func WithIDGenerator(gen IDGenerator) Option {
	return func(e *Engine) { e.newID = gen }
}

func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithKeyPrefix sets the storage key prefix reported in published changes.
func WithKeyPrefix(prefix string) Option {
	return func(e *Engine) { e.keyPrefix = prefix }
}

// WithDefaultDeck sets the deck used by CreateRoom when the caller gives none.
func WithDefaultDeck(deck []string) Option {
	return func(e *Engine) { e.deck = deck }
}

// NewEngine builds an engine. publisher may be nil when no other client
// needs to hear about writes.
func NewEngine(store persistence.RoomStore, publisher Publisher, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		publisher: publisher,
		machine:   state.NewMachine(),
		observer:  nopObserver{},
		now:       time.Now,
		newID:     RandomCodes(DefaultCodeLength),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithOrigin returns a copy of the engine acting for another client.
func (e *Engine) WithOrigin(origin string) *Engine {
	c := *e
	c.origin = origin
	return &c
}

// Origin returns the client id of this engine.
func (e *Engine) Origin() string {
	return e.origin
}

// --- 读取 ---

// Get reads the current document without modifying it.
func (e *Engine) Get(ctx context.Context, roomID string) (*models.Room, error) {
	id, err := validRoomID(roomID)
	if err != nil {
		return nil, err
	}
	r, _, err := e.load(ctx, id)
	return r, err
}

// --- 房间生命周期 ---

// CreateRoom writes a fresh active room under a newly generated code. An
// empty deck falls back to the configured or built-in default. A code
// collision fails with ErrAlreadyExists; see CreateWithRetry.
func (e *Engine) CreateRoom(ctx context.Context, deck []string) (r *models.Room, err error) {
	defer e.observe("create", &err)

	code, err := e.newID()
	if err != nil {
		return nil, err
	}
	id, err := validRoomID(code)
	if err != nil {
		return nil, err
	}
	if len(deck) == 0 {
		deck = e.deck
	}

	r = models.NewRoom(id, e.now().UTC(), deck)
	if _, err := e.store.Insert(ctx, id, r); err != nil {
		if errors.Is(err, persistence.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, id)
		}
		return nil, err
	}

	e.observer.ObserveRoomCreated()
	logger.Log.Infof("Room %s created by %s", id, e.origin)
	e.publish(ctx, r)
	return r, nil
}

// CreateWithRetry calls CreateRoom until a code does not collide, giving up
// after attempts tries. At least one attempt is made.
func CreateWithRetry(ctx context.Context, e *Engine, deck []string, attempts int) (*models.Room, error) {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		var r *models.Room
		r, err = e.CreateRoom(ctx, deck)
		if !errors.Is(err, ErrAlreadyExists) {
			return r, err
		}
		logger.Log.Debugf("Room code collision, retrying (%d/%d)", i+1, attempts)
	}
	return nil, err
}

// JoinRoom adds name with no card and fresh timestamps, or overwrites the
// existing record under that name. The first participant of an ownerless
// room becomes its owner.
func (e *Engine) JoinRoom(ctx context.Context, roomID, name string) (r *models.Room, err error) {
	defer e.observe("join", &err)

	name, err = validName(name)
	if err != nil {
		return nil, err
	}
	r, err = e.mutate(ctx, roomID, func(r *models.Room) error {
		now := e.now().UTC()
		r.Participants[name] = &models.Participant{Name: name, JoinedAt: now, LastSeen: now}
		if r.Owner == "" {
			r.Owner = name
		}
		return nil
	})
	if err == nil {
		logger.Log.Infof("%s joined room %s", name, r.ID)
	}
	return r, err
}

// LeaveRoom removes name. If name owned the room, ownership passes to the
// longest-present participant.
func (e *Engine) LeaveRoom(ctx context.Context, roomID, name string) (r *models.Room, err error) {
	defer e.observe("leave", &err)
	return e.remove(ctx, roomID, name, "left")
}

// KickParticipant has the same effect as LeaveRoom. Whether the caller may
// kick is decided by the caller.
func (e *Engine) KickParticipant(ctx context.Context, roomID, name string) (r *models.Room, err error) {
	defer e.observe("kick", &err)
	return e.remove(ctx, roomID, name, "was kicked from")
}

func (e *Engine) remove(ctx context.Context, roomID, name, verb string) (*models.Room, error) {
	name = models.NormalizeName(name)
	r, err := e.mutate(ctx, roomID, func(r *models.Room) error {
		if r.Participants[name] == nil && r.Participants[r.Owner] != nil {
			return errUnchanged
		}
		delete(r.Participants, name)
		if r.Owner == name || r.Participants[r.Owner] == nil {
			r.Owner = nextOwner(r.Participants)
		}
		return nil
	})
	if err == nil {
		logger.Log.Infof("%s %s room %s", name, verb, r.ID)
	}
	return r, err
}

// nextOwner picks the participant with the earliest JoinedAt, breaking ties
// by name, or "" if there is nobody left.
func nextOwner(participants map[string]*models.Participant) string {
	var best *models.Participant
	for _, p := range participants {
		if best == nil ||
			p.JoinedAt.Before(best.JoinedAt) ||
			(p.JoinedAt.Equal(best.JoinedAt) && p.Name < best.Name) {
			best = p
		}
	}
	if best == nil {
		return ""
	}
	return best.Name
}

// --- 出牌 ---

// SetCard selects card for name; an empty card clears the selection. The
// card must be in the room's deck. A name that is not in the room fails with
// ErrNotAParticipant and the document is left untouched.
func (e *Engine) SetCard(ctx context.Context, roomID, name, card string) (r *models.Room, err error) {
	defer e.observe("set_card", &err)

	name = models.NormalizeName(name)
	return e.mutate(ctx, roomID, func(r *models.Room) error {
		p, ok := r.Participants[name]
		if !ok {
			return fmt.Errorf("%w: %q in room %s, rejoin to continue", ErrNotAParticipant, name, r.ID)
		}
		if card != "" && !r.HasLabel(card) {
			return fmt.Errorf("%w: card %q is not in the deck", ErrValidation, card)
		}
		p.Card = card
		p.LastSeen = e.now().UTC()
		return nil
	})
}

// Touch refreshes name's LastSeen without changing anything else.
func (e *Engine) Touch(ctx context.Context, roomID, name string) (r *models.Room, err error) {
	defer e.observe("touch", &err)

	name = models.NormalizeName(name)
	return e.mutate(ctx, roomID, func(r *models.Room) error {
		p, ok := r.Participants[name]
		if !ok {
			return fmt.Errorf("%w: %q in room %s", ErrNotAParticipant, name, r.ID)
		}
		p.LastSeen = e.now().UTC()
		return nil
	})
}

// --- 回合 ---

// Reveal shows all cards. Revealing twice is a no-op.
func (e *Engine) Reveal(ctx context.Context, roomID string) (r *models.Room, err error) {
	defer e.observe("reveal", &err)
	return e.fire(ctx, roomID, state.EventReveal)
}

// Hide archives the current cards as a new round, clears them and hides.
// It archives even if the room was not revealed.
func (e *Engine) Hide(ctx context.Context, roomID string) (r *models.Room, err error) {
	defer e.observe("hide", &err)
	return e.fire(ctx, roomID, state.EventHide)
}

// ToggleReveal flips the reveal flag; only the revealed -> hidden edge archives.
func (e *Engine) ToggleReveal(ctx context.Context, roomID string) (r *models.Room, err error) {
	defer e.observe("toggle", &err)
	return e.fire(ctx, roomID, state.EventToggle)
}

// ResetRound clears all cards and hides them without recording a round.
func (e *Engine) ResetRound(ctx context.Context, roomID string) (r *models.Room, err error) {
	defer e.observe("reset", &err)
	return e.fire(ctx, roomID, state.EventReset)
}

func (e *Engine) fire(ctx context.Context, roomID string, event state.Event) (*models.Room, error) {
	return e.mutate(ctx, roomID, func(r *models.Room) error {
		t, err := e.machine.Fire(state.PhaseOf(r.Reveal), event)
		if err != nil {
			return err
		}
		if t.Archive {
			r.History = Archive(r.History, models.Round{At: e.now().UTC(), Cards: r.Cards()})
		}
		if t.ClearCards {
			r.ClearCards()
		}
		r.Reveal = t.To.Revealed()
		return nil
	})
}

// UpdateDeck replaces the deck. Blank labels are dropped and an empty result
// falls back to the default deck.
func (e *Engine) UpdateDeck(ctx context.Context, roomID string, labels []string) (r *models.Room, err error) {
	defer e.observe("update_deck", &err)
	return e.mutate(ctx, roomID, func(r *models.Room) error {
		r.Deck = models.NormalizeDeck(labels)
		return nil
	})
}

// --- 读改写 ---

// errUnchanged lets a mutation report that the document needs no write.
var errUnchanged = errors.New("room unchanged")

// mutate reads the room, applies fn and writes the whole document back.
// If fn fails nothing is written.
func (e *Engine) mutate(ctx context.Context, roomID string, fn func(r *models.Room) error) (*models.Room, error) {
	id, err := validRoomID(roomID)
	if err != nil {
		return nil, err
	}
	r, version, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(r); err != nil {
		if errors.Is(err, errUnchanged) {
			return r, nil
		}
		return nil, err
	}

	expected := persistence.AnyVersion
	if e.policy == Optimistic {
		expected = version
	}
	if _, err := e.store.Put(ctx, id, r, expected); err != nil {
		if errors.Is(err, persistence.ErrVersionConflict) {
			return nil, fmt.Errorf("%w: %s", ErrStaleWrite, id)
		}
		return nil, err
	}

	e.publish(ctx, r)
	return r, nil
}

func (e *Engine) load(ctx context.Context, id string) (*models.Room, persistence.Version, error) {
	r, version, err := e.store.Get(ctx, id)
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return nil, 0, fmt.Errorf("%w: %s", ErrRoomNotFound, id)
	}
	return r, version, err
}

// publish is best effort: the write has already happened.
func (e *Engine) publish(ctx context.Context, r *models.Room) {
	if e.publisher == nil {
		return
	}
	raw, _ := models.EncodeRoom(r)
	change := broadcast.Change{RoomID: r.ID, Key: e.keyPrefix + r.ID, Origin: e.origin, Raw: raw}
	if err := e.publisher.Publish(ctx, change); err != nil {
		logger.Log.Errorf("Failed to publish change for room %s: %v", r.ID, err)
	}
}

func (e *Engine) observe(op string, err *error) {
	e.observer.ObserveOperation(op, *err)
	if *err != nil {
		logger.Log.Debugf("Room operation %s by %s failed: %v", op, e.origin, *err)
	}
}

func validRoomID(roomID string) (string, error) {
	id := models.NormalizeRoomID(roomID)
	if id == "" {
		return "", fmt.Errorf("%w: room id is required", ErrValidation)
	}
	return id, nil
}

func validName(name string) (string, error) {
	name = models.NormalizeName(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrValidation)
	}
	return name, nil
}
