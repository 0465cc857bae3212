// persistence/gorm_store.go
package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/wfunc/planningpoker/logger"
	"github.com/wfunc/planningpoker/models"
)

// GormStore keeps room documents in a SQL table, one row per room.
type GormStore struct {
	db *gorm.DB
}

// NewGormPostgreSQL 创建GORM PostgreSQL数据库连接
func NewGormPostgreSQL(host string, port int, user, password, dbname string) (*GormStore, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)
	return NewGormPostgreSQLDSN(dsn)
}

func NewGormPostgreSQLDSN(dsn string) (*GormStore, error) {
	return openGorm(postgres.Open(dsn), 100)
}

// NewGormSQLite opens a sqlite database file. Use "file::memory:?cache=shared"
// style DSNs for throwaway databases.
func NewGormSQLite(path string) (*GormStore, error) {
	// sqlite allows a single writer
	return openGorm(sqlite.Open(path), 1)
}

func openGorm(dialector gorm.Dialector, maxOpen int) (*GormStore, error) {
	gormLogger := gormlogger.New(
		zap.NewStdLog(logger.Log.Desugar()),
		gormlogger.Config{
			SlowThreshold: time.Second,
			LogLevel:      gormlogger.Silent,
			Colorful:      false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&models.RoomRecord{}); err != nil {
		return nil, err
	}

	return &GormStore{db: db}, nil
}

func (p *GormStore) Get(ctx context.Context, roomID string) (*models.Room, Version, error) {
	var rec models.RoomRecord
	if err := p.db.WithContext(ctx).Where("room_id = ?", roomID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, ErrRecordNotFound
		}
		return nil, 0, err
	}

	room, err := decode(roomID, []byte(rec.Document))
	if err != nil {
		return nil, 0, err
	}
	return room, Version(rec.Version), nil
}

func (p *GormStore) Put(ctx context.Context, roomID string, room *models.Room, expected Version) (Version, error) {
	raw, err := models.EncodeRoom(room)
	if err != nil {
		return 0, fmt.Errorf("encode room %s: %w", roomID, err)
	}

	if expected != AnyVersion {
		// conditional update: the row only changes if nobody wrote in between
		res := p.db.WithContext(ctx).Model(&models.RoomRecord{}).
			Where("room_id = ? AND version = ?", roomID, uint64(expected)).
			Updates(map[string]interface{}{
				"document": string(raw),
				"version":  uint64(expected) + 1,
			})
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected == 0 {
			return 0, ErrVersionConflict
		}
		return expected + 1, nil
	}

	var version uint64
	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec models.RoomRecord
		result := tx.Where("room_id = ?", roomID).First(&rec)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			rec = models.RoomRecord{RoomID: roomID, Document: string(raw), Version: 1}
			version = rec.Version
			return tx.Create(&rec).Error
		} else if result.Error != nil {
			return result.Error
		}

		rec.Document = string(raw)
		rec.Version++
		version = rec.Version
		return tx.Save(&rec).Error
	})
	if err != nil {
		return 0, err
	}
	return Version(version), nil
}

func (p *GormStore) Insert(ctx context.Context, roomID string, room *models.Room) (Version, error) {
	raw, err := models.EncodeRoom(room)
	if err != nil {
		return 0, fmt.Errorf("encode room %s: %w", roomID, err)
	}

	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.RoomRecord{}).Where("room_id = ?", roomID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrAlreadyExists
		}
		return tx.Create(&models.RoomRecord{RoomID: roomID, Document: string(raw), Version: 1}).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return 0, ErrAlreadyExists
	}
	if err != nil {
		return 0, err
	}
	return 1, nil
}

// Close 关闭数据库连接
func (p *GormStore) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB exposes the underlying handle, e.g. for the postgres change feed.
func (p *GormStore) DB() *gorm.DB {
	return p.db
}
