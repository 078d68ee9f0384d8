// Package storage persists orders, position snapshots, and meltdown
// snapshots via gorm, completing the teacher's declared-but-unwired
// gorm dependency (storage/database.go used raw database/sql +
// lib/pq despite go.mod carrying gorm.io/gorm). Backs onto sqlite by
// default and postgres when a DSN is supplied, grounded on the
// teacher's migrate()/LogTrade()/GetOpenPositions() shapes.
package storage

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/okx-scalper/core/internal/core"
)

// OrderRecord is the persisted row for one order, spanning its entire
// lifecycle from submit to terminal status.
type OrderRecord struct {
	ID         uint `gorm:"primarykey"`
	OrderID    string `gorm:"index"`
	ClOrdID    string `gorm:"index"`
	Symbol     string
	Side       string
	OrderType  string
	Price      string
	Size       string
	FilledSize string
	Status     string
	StrategyID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PositionSnapshot is a point-in-time record of an exchange-reported
// position, written on every EventPositionUpdate.
type PositionSnapshot struct {
	ID            uint `gorm:"primarykey"`
	Symbol        string `gorm:"index"`
	SignedSize    string
	AvgEntryPrice string
	UnrealizedPnL string
	Ts            time.Time
}

// MeltdownSnapshot mirrors the JSON file Guardian writes to disk, kept
// in the database too so history survives a disk wipe.
type MeltdownSnapshot struct {
	ID            uint `gorm:"primarykey"`
	TriggerReason string
	TotalEquity   string
	Ts            time.Time
}

// Store wraps a gorm.DB with the narrow set of operations the OMS and
// Guardian need; nothing upstream touches gorm directly.
type Store struct {
	db *gorm.DB
}

// Open connects to sqlite at path, or to postgres if dsn is non-empty,
// and runs auto-migration. Grounded on the teacher's NewDatabase()
// fail-open-without-persistence shape, but here persistence is assumed
// configured since the OMS's audit trail is not optional.
func Open(sqlitePath, postgresDSN string) (*Store, error) {
	var (
		db  *gorm.DB
		err error
	)
	gcfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}

	if postgresDSN != "" {
		db, err = gorm.Open(postgres.Open(postgresDSN), gcfg)
	} else {
		db, err = gorm.Open(sqlite.Open(sqlitePath), gcfg)
	}
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&OrderRecord{}, &PositionSnapshot{}, &MeltdownSnapshot{}); err != nil {
		return nil, err
	}

	log.Info().Str("sqlite_path", sqlitePath).Bool("postgres", postgresDSN != "").Msg("💾 storage connected")
	return &Store{db: db}, nil
}

// UpsertOrder writes the current state of an order, keyed by OrderID.
func (s *Store) UpsertOrder(o *core.Order) error {
	rec := OrderRecord{
		OrderID:    o.OrderID,
		ClOrdID:    o.ClOrdID,
		Symbol:     o.Symbol,
		Side:       string(o.Side),
		OrderType:  string(o.OrderType),
		Price:      o.Price.String(),
		Size:       o.Size.String(),
		FilledSize: o.FilledSize.String(),
		Status:     string(o.Status),
		StrategyID: o.StrategyID,
		CreatedAt:  o.CreatedAt,
	}
	return s.db.Where(OrderRecord{OrderID: o.OrderID}).
		Assign(rec).
		FirstOrCreate(&OrderRecord{}).Error
}

// RecordPosition appends a position snapshot row.
func (s *Store) RecordPosition(p core.Position) error {
	rec := PositionSnapshot{
		Symbol:        p.Symbol,
		SignedSize:    p.SignedSize.String(),
		AvgEntryPrice: p.AvgEntryPrice.String(),
		UnrealizedPnL: p.UnrealizedPnL.String(),
		Ts:            time.Now(),
	}
	return s.db.Create(&rec).Error
}

// RecordMeltdown appends a meltdown snapshot row.
func (s *Store) RecordMeltdown(reason string, totalEquity decimal.Decimal) error {
	rec := MeltdownSnapshot{TriggerReason: reason, TotalEquity: totalEquity.String(), Ts: time.Now()}
	return s.db.Create(&rec).Error
}

// RecentOrders returns up to limit orders, most recently updated first.
func (s *Store) RecentOrders(limit int) ([]OrderRecord, error) {
	var out []OrderRecord
	err := s.db.Order("updated_at desc").Limit(limit).Find(&out).Error
	return out, err
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
