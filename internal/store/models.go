package store

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// IndexedRecord is the singleton sync checkpoint. BlockNumber is the
// last fully indexed block; PointCheckpoint is the last committed
// accrual tick boundary in unix seconds. Both only move forward.
type IndexedRecord struct {
	ID              uint      `gorm:"primaryKey"`
	BlockNumber     uint64    `gorm:"not null"`
	PointCheckpoint uint64    `gorm:"not null"`
	CleanCredited   bool      `gorm:"not null;default:false"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for IndexedRecord.
func (IndexedRecord) TableName() string {
	return "indexed_record"
}

// BaseEvent contains common fields for all chain event models.
// EventID is txHash-logIndex, the insert-dedup key.
type BaseEvent struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	EventID     string    `gorm:"column:event_id;type:varchar(80);uniqueIndex;not null"`
	BlockNumber uint64    `gorm:"index;not null"`
	TxHash      string    `gorm:"type:varchar(66);not null"`
	LogIndex    uint      `gorm:"not null"`
	Timestamp   uint64    `gorm:"index;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

// LockEvent is a staking Lock event.
type LockEvent struct {
	BaseEvent
	UserAddr string `gorm:"type:varchar(42);index;not null"`
	Amount   string `gorm:"type:numeric(78);not null"` // uint256 max is 78 digits
	Token    string `gorm:"type:varchar(42);not null"`
	LToken   string `gorm:"type:varchar(42);not null"`
}

// TableName returns the table name for LockEvent.
func (LockEvent) TableName() string {
	return "lock_event"
}

// AddLiquidityEvent is a liquidity deposit. Valid reflects the
// one-sided deposit rule computed at ingestion.
type AddLiquidityEvent struct {
	BaseEvent
	UserAddr string `gorm:"type:varchar(42);index;not null"`
	PoolID   string `gorm:"type:numeric(40);not null"`
	AmountX  string `gorm:"type:numeric(78);not null"`
	AmountY  string `gorm:"type:numeric(78);not null"`
	TokenX   string `gorm:"type:varchar(42);not null"`
	TokenY   string `gorm:"type:varchar(42);not null"`
	Valid    bool   `gorm:"index;not null"`
}

// TableName returns the table name for AddLiquidityEvent.
func (AddLiquidityEvent) TableName() string {
	return "add_liquidity_event"
}

// RemoveLiquidityEvent is a liquidity withdrawal, same shape as adds.
type RemoveLiquidityEvent struct {
	BaseEvent
	UserAddr string `gorm:"type:varchar(42);index;not null"`
	PoolID   string `gorm:"type:numeric(40);not null"`
	AmountX  string `gorm:"type:numeric(78);not null"`
	AmountY  string `gorm:"type:numeric(78);not null"`
	TokenX   string `gorm:"type:varchar(42);not null"`
	TokenY   string `gorm:"type:varchar(42);not null"`
	Valid    bool   `gorm:"index;not null"`
}

// TableName returns the table name for RemoveLiquidityEvent.
func (RemoveLiquidityEvent) TableName() string {
	return "remove_liquidity_event"
}

// BridgeEvent is a cross-chain swap-in that passed the chain and token
// filters. Points for bridge volume are credited inline at indexing time.
type BridgeEvent struct {
	BaseEvent
	UserAddr  string `gorm:"type:varchar(42);index;not null"`
	FromChain uint64 `gorm:"not null"`
	ToChain   uint64 `gorm:"not null"`
	OrderID   string `gorm:"type:varchar(66);not null"`
	Token     string `gorm:"type:varchar(42);not null"`
	Amount    string `gorm:"type:numeric(78);not null"`
}

// TableName returns the table name for BridgeEvent.
func (BridgeEvent) TableName() string {
	return "bridge_event"
}

// RawLog is an append-only audit row with the decoded arguments as JSON.
type RawLog struct {
	ID          uint64         `gorm:"primaryKey;autoIncrement"`
	EventID     string         `gorm:"column:event_id;type:varchar(80);uniqueIndex;not null"`
	BlockNumber uint64         `gorm:"index;not null"`
	TxHash      string         `gorm:"type:varchar(66);not null"`
	LogIndex    uint           `gorm:"not null"`
	EventName   string         `gorm:"type:varchar(40);not null"`
	Topic       string         `gorm:"type:varchar(66);not null"`
	Data        datatypes.JSON `gorm:"not null"`
	CreatedAt   time.Time      `gorm:"autoCreateTime"`
}

// TableName returns the table name for RawLog.
func (RawLog) TableName() string {
	return "raw_logs"
}

// UserLPAmount is the running USD-valued net liquidity position per user.
type UserLPAmount struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement"`
	UserAddr  string          `gorm:"type:varchar(42);uniqueIndex;not null"`
	Amount    decimal.Decimal `gorm:"type:numeric(40,18);not null"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime"`
}

// TableName returns the table name for UserLPAmount.
func (UserLPAmount) TableName() string {
	return "user_current_lp_amount"
}

// Point is the per-user cumulative total. HivePoint accumulates hourly
// liquidity accrual, MapoPoint accumulates bridge credits, Point is the
// grand total.
type Point struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement"`
	UserAddr  string          `gorm:"type:varchar(42);uniqueIndex;not null"`
	HivePoint decimal.Decimal `gorm:"type:numeric(40,6);not null"`
	MapoPoint decimal.Decimal `gorm:"type:numeric(40,6);not null"`
	Point     decimal.Decimal `gorm:"type:numeric(40,6);not null"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime"`
}

// TableName returns the table name for Point.
func (Point) TableName() string {
	return "point"
}

// Point history actions.
const (
	ActionAccrual int16 = 1
)

// PointHistory is the append-only credit ledger. EventID is
// user-tick-action for hourly rows and txHash-logIndex for bridge rows.
type PointHistory struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement"`
	EventID   string          `gorm:"column:event_id;type:varchar(120);uniqueIndex;not null"`
	UserAddr  string          `gorm:"type:varchar(42);index;not null"`
	Point     decimal.Decimal `gorm:"type:numeric(40,6);not null"`
	Action    int16           `gorm:"not null"`
	Timestamp uint64          `gorm:"not null"`
	EpochID   uint64          `gorm:"index;not null"`
	CreatedAt time.Time       `gorm:"autoCreateTime"`
}

// TableName returns the table name for PointHistory.
func (PointHistory) TableName() string {
	return "point_history"
}

// TokenMap records the staking token to lToken pairing observed on lock
// events.
type TokenMap struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Token     string    `gorm:"type:varchar(42);uniqueIndex;not null"`
	LToken    string    `gorm:"type:varchar(42);not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for TokenMap.
func (TokenMap) TableName() string {
	return "token_map"
}
