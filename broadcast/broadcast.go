// broadcast/broadcast.go
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
)

// Change tells subscribers that a room's document may have changed. It is a
// re-read trigger only: handlers must load the room from the store rather
// than trust Raw, which is a best-effort copy of the written value.
type Change struct {
	RoomID string `json:"roomId"`
	Key    string `json:"key,omitempty"`
	Origin string `json:"origin"`
	Raw    []byte `json:"-"`
}

// Handler receives changes made by other clients.
type Handler func(Change)

// Notifier is the cross-client change feed. A change published with origin X
// is never delivered to subscribers registered with origin X.
type Notifier interface {
	Publish(ctx context.Context, change Change) error
	Subscribe(ctx context.Context, roomID, origin string, fn Handler) (unsubscribe func(), err error)
	Close() error
}

var ErrClosed = errors.New("notifier closed")

// subscriber is a registered handler and the client it belongs to.
type subscriber struct {
	origin string
	fn     Handler
}

func encodeChange(c Change) ([]byte, error) {
	return json.Marshal(c)
}

func decodeChange(payload []byte) (Change, error) {
	var c Change
	err := json.Unmarshal(payload, &c)
	return c, err
}
