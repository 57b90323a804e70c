package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/DoyleJ11/race-board-backend/internal/engine"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Entity struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// A finished round.
type Match struct {
	Entity
	RoomCode string    `gorm:"size:6;index;not null" json:"room_code"`
	EndedAt  time.Time `json:"ended_at"`

	Placements []Placement `gorm:"constraint:OnDelete:CASCADE" json:"placements"`
}

type Placement struct {
	Entity
	MatchID uint   `gorm:"not null;index" json:"-"`
	Rank    int    `gorm:"column:place;not null" json:"rank"`
	Name    string `gorm:"size:64;not null" json:"name"`
	Avatar  string `gorm:"size:16" json:"avatar"`
}

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to the archive database and migrates the schema.
// driver is "postgres" or "sqlite".
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported archive driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open %s archive: %w", driver, err)
	}
	if err := db.AutoMigrate(&Match{}, &Placement{}); err != nil {
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) RecordMatch(ctx context.Context, code string, rankings []engine.Rank) error {
	m := Match{RoomCode: code, EndedAt: s.now().UTC()}
	for _, r := range rankings {
		m.Placements = append(m.Placements, Placement{Rank: r.Rank, Name: r.Name, Avatar: string(r.Avatar)})
	}
	// Create writes the match and its placements in one transaction.
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("record match for %s: %w", code, err)
	}
	return nil
}

// Results returns the most recent matches for a room, newest first.
func (s *Store) Results(ctx context.Context, code string, limit int) ([]Match, error) {
	var matches []Match
	err := s.db.WithContext(ctx).
		Where("room_code = ?", code).
		Order("ended_at DESC").
		Order("id DESC").
		Limit(limit).
		Preload("Placements", func(db *gorm.DB) *gorm.DB { return db.Order("place ASC") }).
		Find(&matches).Error
	if err != nil {
		return nil, fmt.Errorf("load results for %s: %w", code, err)
	}
	return matches, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
