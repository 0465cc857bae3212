// persistence/interface.go
package persistence

import (
	"context"
	"errors"

	"github.com/wfunc/planningpoker/models"
)

// Version identifies one stored revision of a room document. Every write
// produces a new version.
type Version uint64

// AnyVersion passed to Put skips the version check: the write overwrites
// whatever is stored (last-write-wins).
const AnyVersion Version = 0

// RoomStore persists one document per room id. It has no business logic.
//
// Get never reports a corrupt document as an error: a value that cannot be
// decoded is logged and treated as absent, ErrRecordNotFound.
type RoomStore interface {
	Get(ctx context.Context, roomID string) (*models.Room, Version, error)
	// Put replaces the whole document. With expected != AnyVersion the write
	// fails with ErrVersionConflict unless the stored version still matches.
	Put(ctx context.Context, roomID string, room *models.Room, expected Version) (Version, error)
	// Insert stores a new document and fails with ErrAlreadyExists if one is present.
	Insert(ctx context.Context, roomID string, room *models.Room) (Version, error)
	Close() error
}

// 错误定义
var (
	ErrRecordNotFound  = errors.New("record not found")
	ErrAlreadyExists   = errors.New("record already exists")
	ErrVersionConflict = errors.New("version conflict")
)
