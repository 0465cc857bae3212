package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// HistoryLimit is the maximum number of archived rounds kept on a room.
const HistoryLimit = 50

// DefaultDeck is used whenever a room would otherwise end up with no cards.
var DefaultDeck = []string{"0", "1/2", "1", "2", "3", "5", "8", "13", "20", "40", "100", "?", "☕️"}

// Room is the shared session document. It is stored and replaced as a whole.
// An empty Owner means nobody owns the room, which only happens while
// Participants is empty.
type Room struct {
	ID           string                  `json:"id"`
	CreatedAt    time.Time               `json:"createdAt"`
	Deck         []string                `json:"deck"`
	Reveal       bool                    `json:"reveal"`
	Owner        string                  `json:"owner"`
	Participants map[string]*Participant `json:"participants"`
	History      []Round                 `json:"history"`
}

// Participant is keyed by Name inside Room.Participants. An empty Card means
// no selection; deck labels are never blank so the two cannot collide.
type Participant struct {
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
	Card     string    `json:"card"`
	LastSeen time.Time `json:"lastSeen"`
}

// Round is an archived snapshot of name -> card taken when cards are hidden.
type Round struct {
	At    time.Time         `json:"at"`
	Cards map[string]string `json:"cards"`
}

// NewRoom returns an empty room in the active phase.
func NewRoom(id string, createdAt time.Time, deck []string) *Room {
	return &Room{
		ID:           id,
		CreatedAt:    createdAt,
		Deck:         NormalizeDeck(deck),
		Participants: make(map[string]*Participant),
		History:      []Round{},
	}
}

// HasCard reports whether the participant has selected a card.
func (p *Participant) HasCard() bool {
	return p.Card != ""
}

// HasLabel reports whether label is part of the room's deck.
func (r *Room) HasLabel(label string) bool {
	for _, c := range r.Deck {
		if c == label {
			return true
		}
	}
	return false
}

// Cards returns an independent copy of the current name -> card assignments.
func (r *Room) Cards() map[string]string {
	cards := make(map[string]string, len(r.Participants))
	for name, p := range r.Participants {
		cards[name] = p.Card
	}
	return cards
}

// ClearCards removes every participant's selection.
func (r *Room) ClearCards() {
	for _, p := range r.Participants {
		p.Card = ""
	}
}

// ParticipantList returns the participants sorted by name.
func (r *Room) ParticipantList() []*Participant {
	list := make([]*Participant, 0, len(r.Participants))
	for _, p := range r.Participants {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Clone returns a deep copy of the room.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.Deck = append([]string(nil), r.Deck...)
	c.Participants = make(map[string]*Participant, len(r.Participants))
	for name, p := range r.Participants {
		cp := *p
		c.Participants[name] = &cp
	}
	c.History = make([]Round, len(r.History))
	for i, h := range r.History {
		cards := make(map[string]string, len(h.Cards))
		for k, v := range h.Cards {
			cards[k] = v
		}
		c.History[i] = Round{At: h.At, Cards: cards}
	}
	return &c
}

// ErrMalformedDocument is returned by DecodeRoom for values that are not a room.
var ErrMalformedDocument = errors.New("malformed room document")

// EncodeRoom serializes a room to its stored textual form.
func EncodeRoom(r *Room) ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRoom parses a stored document. Missing collections are filled in so
// callers can mutate the result directly.
func DecodeRoom(raw []byte) (*Room, error) {
	var r Room
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	if r.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedDocument)
	}
	if len(r.Deck) == 0 {
		r.Deck = NormalizeDeck(nil)
	}
	if r.Participants == nil {
		r.Participants = make(map[string]*Participant)
	}
	for name, p := range r.Participants {
		if p == nil {
			delete(r.Participants, name)
			continue
		}
		p.Name = name
	}
	if r.History == nil {
		r.History = []Round{}
	}
	return &r, nil
}

// NormalizeRoomID upper-cases and trims a room code so lookups are
// case-insensitive.
func NormalizeRoomID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// NormalizeName trims a participant name and puts it in NFC form so visually
// identical names map to the same key.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// NormalizeDeck trims labels, drops blanks and duplicates, and falls back to
// DefaultDeck when nothing is left.
func NormalizeDeck(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	deck := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		deck = append(deck, l)
	}
	if len(deck) == 0 {
		return append([]string(nil), DefaultDeck...)
	}
	return deck
}

// ParseDeck splits comma separated input, e.g. "1, 2, 3, ?".
func ParseDeck(text string) []string {
	return NormalizeDeck(strings.Split(text, ","))
}
