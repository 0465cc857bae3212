package room

import (
	"context"

	"github.com/wfunc/planningpoker/broadcast"
)

// Publisher is the write side of the change feed. It is defined here so the
// engine only depends on what it uses.
type Publisher interface {
	Publish(ctx context.Context, change broadcast.Change) error
}

// Observer receives one call per engine operation, e.g. for metrics.
type Observer interface {
	ObserveOperation(op string, err error)
	ObserveRoomCreated()
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, error) {}
func (nopObserver) ObserveRoomCreated()            {}
