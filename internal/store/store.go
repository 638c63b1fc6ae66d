// Package store is the persistence layer: checkpoint, raw event tables,
// LP position snapshot, point totals and the point history ledger.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrNoCheckpoint is returned when the sync checkpoint row has never
// been created, i.e. the indexer has not run yet.
var ErrNoCheckpoint = errors.New("store: sync checkpoint not initialized")

// checkpointID is the primary key of the singleton IndexedRecord row.
const checkpointID = 1

// Config configures the database connection.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// DefaultConfig returns sensible connection pool defaults. DSN must
// still be set.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		LogLevel:        logger.Warn,
	}
}

// Store wraps the gorm handle.
type Store struct {
	db *gorm.DB
}

// New opens the database and verifies connectivity.
func New(cfg Config) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(cfg.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("store: access sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying gorm handle for read queries and tests.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("store: access sql db: %w", err)
	}
	return sqlDB.Close()
}

// Migrate creates or updates the full schema.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&IndexedRecord{},
		&LockEvent{},
		&AddLiquidityEvent{},
		&RemoveLiquidityEvent{},
		&BridgeEvent{},
		&RawLog{},
		&UserLPAmount{},
		&Point{},
		&PointHistory{},
		&TokenMap{},
	)
}

// Transaction runs fn inside a database transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- Checkpoint ---

// GetCheckpoint loads the singleton checkpoint row, ErrNoCheckpoint if
// it was never created.
func (s *Store) GetCheckpoint(ctx context.Context) (*IndexedRecord, error) {
	var rec IndexedRecord
	err := s.db.WithContext(ctx).First(&rec, checkpointID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, fmt.Errorf("store: load checkpoint: %w", err)
	}
	return &rec, nil
}

// EnsureCheckpoint loads the checkpoint, creating it at startBlock on
// first run.
func (s *Store) EnsureCheckpoint(ctx context.Context, startBlock uint64) (*IndexedRecord, error) {
	rec, err := s.GetCheckpoint(ctx)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrNoCheckpoint) {
		return nil, err
	}

	rec = &IndexedRecord{ID: checkpointID, BlockNumber: startBlock}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("store: create checkpoint: %w", err)
	}
	return rec, nil
}

// AdvanceBlock moves the block high-water mark forward inside tx.
func AdvanceBlock(tx *gorm.DB, block uint64) error {
	res := tx.Model(&IndexedRecord{}).
		Where("id = ? AND block_number <= ?", checkpointID, block).
		Update("block_number", block)
	if res.Error != nil {
		return fmt.Errorf("store: advance block checkpoint: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("store: advance block checkpoint to %d: checkpoint missing or ahead", block)
	}
	return nil
}

// AdvancePointCheckpoint moves the accrual tick high-water mark forward
// inside tx.
func AdvancePointCheckpoint(tx *gorm.DB, tick uint64) error {
	res := tx.Model(&IndexedRecord{}).
		Where("id = ? AND point_checkpoint <= ?", checkpointID, tick).
		Update("point_checkpoint", tick)
	if res.Error != nil {
		return fmt.Errorf("store: advance point checkpoint: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("store: advance point checkpoint to %d: checkpoint missing or ahead", tick)
	}
	return nil
}

// MarkCleanCredited flips the one-shot re-basing flag inside tx.
func MarkCleanCredited(tx *gorm.DB) error {
	err := tx.Model(&IndexedRecord{}).
		Where("id = ?", checkpointID).
		Update("clean_credited", true).Error
	if err != nil {
		return fmt.Errorf("store: mark clean credited: %w", err)
	}
	return nil
}

// --- Event ingestion ---

// insertDedup bulk-inserts rows, silently skipping event_id conflicts.
func insertDedup(tx *gorm.DB, rows interface{}) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).CreateInBatches(rows, 200).Error
}

// InsertLockEvents appends lock events, deduplicated by event id.
func InsertLockEvents(tx *gorm.DB, rows []LockEvent) error {
	if len(rows) == 0 {
		return nil
	}
	if err := insertDedup(tx, rows); err != nil {
		return fmt.Errorf("store: insert lock events: %w", err)
	}
	return nil
}

// InsertAddLiquidityEvents appends liquidity deposits, deduplicated by
// event id.
func InsertAddLiquidityEvents(tx *gorm.DB, rows []AddLiquidityEvent) error {
	if len(rows) == 0 {
		return nil
	}
	if err := insertDedup(tx, rows); err != nil {
		return fmt.Errorf("store: insert add liquidity events: %w", err)
	}
	return nil
}

// InsertRemoveLiquidityEvents appends liquidity withdrawals,
// deduplicated by event id.
func InsertRemoveLiquidityEvents(tx *gorm.DB, rows []RemoveLiquidityEvent) error {
	if len(rows) == 0 {
		return nil
	}
	if err := insertDedup(tx, rows); err != nil {
		return fmt.Errorf("store: insert remove liquidity events: %w", err)
	}
	return nil
}

// InsertBridgeEvents appends bridge swap-ins, deduplicated by event id.
func InsertBridgeEvents(tx *gorm.DB, rows []BridgeEvent) error {
	if len(rows) == 0 {
		return nil
	}
	if err := insertDedup(tx, rows); err != nil {
		return fmt.Errorf("store: insert bridge events: %w", err)
	}
	return nil
}

// InsertRawLogs appends audit rows, deduplicated by event id.
func InsertRawLogs(tx *gorm.DB, rows []RawLog) error {
	if len(rows) == 0 {
		return nil
	}
	if err := insertDedup(tx, rows); err != nil {
		return fmt.Errorf("store: insert raw logs: %w", err)
	}
	return nil
}

// UpsertTokenMap records the token to lToken pairing seen on a lock
// event, overwriting a stale pairing.
func UpsertTokenMap(tx *gorm.DB, token, lToken string) error {
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"l_token", "updated_at"}),
	}).Create(&TokenMap{Token: token, LToken: lToken}).Error
	if err != nil {
		return fmt.Errorf("store: upsert token map: %w", err)
	}
	return nil
}

// --- Accrual queries ---

// LiquidityWindow holds the deposits and withdrawals of one tick window.
type LiquidityWindow struct {
	Adds    []AddLiquidityEvent
	Removes []RemoveLiquidityEvent
}

// LiquidityEventsInWindow loads liquidity events with timestamp in
// [start, end). validOnly restricts to events passing the one-sided
// deposit rule.
func (s *Store) LiquidityEventsInWindow(ctx context.Context, start, end uint64, validOnly bool) (*LiquidityWindow, error) {
	var w LiquidityWindow

	addQ := s.db.WithContext(ctx).Where("timestamp >= ? AND timestamp < ?", start, end)
	remQ := s.db.WithContext(ctx).Where("timestamp >= ? AND timestamp < ?", start, end)
	if validOnly {
		addQ = addQ.Where("valid = ?", true)
		remQ = remQ.Where("valid = ?", true)
	}

	if err := addQ.Order("timestamp ASC, id ASC").Find(&w.Adds).Error; err != nil {
		return nil, fmt.Errorf("store: load add liquidity window [%d, %d): %w", start, end, err)
	}
	if err := remQ.Order("timestamp ASC, id ASC").Find(&w.Removes).Error; err != nil {
		return nil, fmt.Errorf("store: load remove liquidity window [%d, %d): %w", start, end, err)
	}
	return &w, nil
}

// FirstAddLiquidityTimestamp returns the timestamp of the earliest
// liquidity deposit, 0 if none exist.
func (s *Store) FirstAddLiquidityTimestamp(ctx context.Context) (uint64, error) {
	var ts *uint64
	err := s.db.WithContext(ctx).Model(&AddLiquidityEvent{}).
		Select("MIN(timestamp)").Scan(&ts).Error
	if err != nil {
		return 0, fmt.Errorf("store: first add liquidity timestamp: %w", err)
	}
	if ts == nil {
		return 0, nil
	}
	return *ts, nil
}

// --- LP position snapshot ---

// LoadLPSnapshot returns the full position snapshot keyed by user.
func (s *Store) LoadLPSnapshot(ctx context.Context) (map[string]decimal.Decimal, error) {
	var rows []UserLPAmount
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: load lp snapshot: %w", err)
	}
	snapshot := make(map[string]decimal.Decimal, len(rows))
	for _, r := range rows {
		snapshot[r.UserAddr] = r.Amount
	}
	return snapshot, nil
}

// UpsertLPAmount sets a user's position to amount inside tx.
func UpsertLPAmount(tx *gorm.DB, user string, amount decimal.Decimal) error {
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_addr"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "updated_at"}),
	}).Create(&UserLPAmount{UserAddr: user, Amount: amount}).Error
	if err != nil {
		return fmt.Errorf("store: upsert lp amount for %s: %w", user, err)
	}
	return nil
}

// ReplaceLPSnapshot wipes the snapshot table and writes positions from
// scratch. Used by the one-time clean credit re-basing.
func ReplaceLPSnapshot(tx *gorm.DB, positions map[string]decimal.Decimal) error {
	if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&UserLPAmount{}).Error; err != nil {
		return fmt.Errorf("store: clear lp snapshot: %w", err)
	}
	rows := make([]UserLPAmount, 0, len(positions))
	for user, amount := range positions {
		rows = append(rows, UserLPAmount{UserAddr: user, Amount: amount})
	}
	if len(rows) == 0 {
		return nil
	}
	if err := tx.CreateInBatches(rows, 200).Error; err != nil {
		return fmt.Errorf("store: rebuild lp snapshot: %w", err)
	}
	return nil
}

// --- Points ---

// AddPoints increments a user's cumulative totals inside tx. hive and
// mapo are the deltas for the respective sources; the grand total gets
// their sum.
func AddPoints(tx *gorm.DB, user string, hive, mapo decimal.Decimal) error {
	total := hive.Add(mapo)
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_addr"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"hive_point": gorm.Expr("point.hive_point + EXCLUDED.hive_point"),
			"mapo_point": gorm.Expr("point.mapo_point + EXCLUDED.mapo_point"),
			"point":      gorm.Expr("point.point + EXCLUDED.point"),
			"updated_at": time.Now(),
		}),
	}).Create(&Point{
		UserAddr:  user,
		HivePoint: hive,
		MapoPoint: mapo,
		Point:     total,
	}).Error
	if err != nil {
		return fmt.Errorf("store: add points for %s: %w", user, err)
	}
	return nil
}

// CreditPoints appends one ledger row and, only when that row is new,
// increments the user's totals. The ledger insert is the idempotency
// gate: replaying an already-committed credit changes nothing and
// reports false.
func CreditPoints(tx *gorm.DB, row PointHistory, hive, mapo decimal.Decimal) (bool, error) {
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("store: credit points for %s: %w", row.UserAddr, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	if err := AddPoints(tx, row.UserAddr, hive, mapo); err != nil {
		return false, err
	}
	return true, nil
}

// AppendPointHistory appends ledger rows inside tx, deduplicated by
// event id so a replayed tick never double-credits.
func AppendPointHistory(tx *gorm.DB, rows []PointHistory) error {
	if len(rows) == 0 {
		return nil
	}
	if err := insertDedup(tx, rows); err != nil {
		return fmt.Errorf("store: append point history: %w", err)
	}
	return nil
}

// --- Read API queries ---

// TopPoints returns the top limit users by total points.
func (s *Store) TopPoints(ctx context.Context, limit int) ([]Point, error) {
	var rows []Point
	err := s.db.WithContext(ctx).
		Order("point DESC, user_addr ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: top points: %w", err)
	}
	return rows, nil
}

// GetPoint returns a user's totals, nil if the user has none.
func (s *Store) GetPoint(ctx context.Context, user string) (*Point, error) {
	var row Point
	err := s.db.WithContext(ctx).Where("user_addr = ?", user).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get point for %s: %w", user, err)
	}
	return &row, nil
}

// GetRank returns a user's 1-based rank by total points, 0 if the user
// has no points row.
func (s *Store) GetRank(ctx context.Context, user string) (int64, error) {
	row, err := s.GetPoint(ctx, user)
	if err != nil {
		return 0, err
	}
	if row == nil {
		return 0, nil
	}
	var ahead int64
	err = s.db.WithContext(ctx).Model(&Point{}).
		Where("point > ?", row.Point).
		Count(&ahead).Error
	if err != nil {
		return 0, fmt.Errorf("store: rank for %s: %w", user, err)
	}
	return ahead + 1, nil
}

// GetPointHistory returns a user's most recent ledger rows.
func (s *Store) GetPointHistory(ctx context.Context, user string, limit int) ([]PointHistory, error) {
	var rows []PointHistory
	err := s.db.WithContext(ctx).
		Where("user_addr = ?", user).
		Order("epoch_id DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: point history for %s: %w", user, err)
	}
	return rows, nil
}

// GetLPAmount returns a user's current position, nil if absent.
func (s *Store) GetLPAmount(ctx context.Context, user string) (*UserLPAmount, error) {
	var row UserLPAmount
	err := s.db.WithContext(ctx).Where("user_addr = ?", user).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get lp amount for %s: %w", user, err)
	}
	return &row, nil
}
