package persistence

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-memdb"

	"github.com/wfunc/planningpoker/models"
)

const entryTable = "entries"

// entry is one string-keyed value in the shared medium.
type entry struct {
	Key     string
	Value   []byte
	Version uint64
}

var memorySchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		entryTable: {
			Name: entryTable,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Key"},
				},
			},
		},
	},
}

// MemoryStore is a string-keyed medium shared by every client in the process.
// Keys are KeyPrefix + room id and values are the serialized document.
type MemoryStore struct {
	db     *memdb.MemDB
	prefix string
}

// NewMemoryStore creates an empty in-process medium.
func NewMemoryStore(prefix string) (*MemoryStore, error) {
	db, err := memdb.NewMemDB(memorySchema)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{db: db, prefix: prefix}, nil
}

// Key returns the medium key of a room.
func (s *MemoryStore) Key(roomID string) string {
	return s.prefix + roomID
}

func (s *MemoryStore) Get(ctx context.Context, roomID string) (*models.Room, Version, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	e, err := s.lookup(txn, roomID)
	if err != nil {
		return nil, 0, err
	}
	if e == nil {
		return nil, 0, ErrRecordNotFound
	}

	room, err := decode(roomID, e.Value)
	if err != nil {
		return nil, 0, err
	}
	return room, Version(e.Version), nil
}

func (s *MemoryStore) Put(ctx context.Context, roomID string, room *models.Room, expected Version) (Version, error) {
	raw, err := models.EncodeRoom(room)
	if err != nil {
		return 0, fmt.Errorf("encode room %s: %w", roomID, err)
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	current, err := s.lookup(txn, roomID)
	if err != nil {
		return 0, err
	}
	var version uint64
	if current != nil {
		version = current.Version
	}
	if expected != AnyVersion && Version(version) != expected {
		return 0, ErrVersionConflict
	}

	next := &entry{Key: s.Key(roomID), Value: raw, Version: version + 1}
	if err := txn.Insert(entryTable, next); err != nil {
		return 0, err
	}
	txn.Commit()
	return Version(next.Version), nil
}

func (s *MemoryStore) Insert(ctx context.Context, roomID string, room *models.Room) (Version, error) {
	raw, err := models.EncodeRoom(room)
	if err != nil {
		return 0, fmt.Errorf("encode room %s: %w", roomID, err)
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	current, err := s.lookup(txn, roomID)
	if err != nil {
		return 0, err
	}
	if current != nil {
		return 0, ErrAlreadyExists
	}

	if err := txn.Insert(entryTable, &entry{Key: s.Key(roomID), Value: raw, Version: 1}); err != nil {
		return 0, err
	}
	txn.Commit()
	return 1, nil
}

// SetRaw stores an arbitrary value under a room's key, bypassing the codec.
// It stands in for another writer sharing the medium.
func (s *MemoryStore) SetRaw(roomID string, raw []byte) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	current, err := s.lookup(txn, roomID)
	if err != nil {
		return err
	}
	var version uint64
	if current != nil {
		version = current.Version
	}
	if err := txn.Insert(entryTable, &entry{Key: s.Key(roomID), Value: raw, Version: version + 1}); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) lookup(txn *memdb.Txn, roomID string) (*entry, error) {
	raw, err := txn.First(entryTable, "id", s.Key(roomID))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*entry), nil
}
