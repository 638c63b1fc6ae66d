package accrual

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hiveswap/hive-points/internal/store"
	"github.com/hiveswap/hive-points/pkg/tokens"
)

func setupAccrualStore(t *testing.T) (*store.Store, func()) {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("hive_points_accrual_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cfg := store.DefaultConfig()
	cfg.DSN = dsn
	cfg.LogLevel = logger.Silent

	st, err := store.New(cfg)
	require.NoError(t, err)
	require.NoError(t, st.Migrate())

	cleanup := func() {
		st.Close()
		container.Terminate(context.Background())
	}
	return st, cleanup
}

// usdtAdd is a deposit of `units` whole USDT (price $1) so the USD
// value equals the unit count.
func usdtAdd(eventID string, timestamp uint64, user string, units int64) store.AddLiquidityEvent {
	amount := decimal.NewFromInt(units).Shift(18).String()
	return store.AddLiquidityEvent{
		BaseEvent: store.BaseEvent{
			EventID:     eventID,
			BlockNumber: 10500000,
			TxHash:      "0x" + eventID,
			LogIndex:    0,
			Timestamp:   timestamp,
		},
		UserAddr: user,
		PoolID:   "7",
		AmountX:  amount,
		AmountY:  "0",
		TokenX:   tokens.USDT.Address,
		TokenY:   tokens.IUSD.Address,
		Valid:    true,
	}
}

func insertAdds(t *testing.T, st *store.Store, events ...store.AddLiquidityEvent) {
	t.Helper()
	err := st.Transaction(context.Background(), func(tx *gorm.DB) error {
		return store.InsertAddLiquidityEvents(tx, events)
	})
	require.NoError(t, err)
}

func TestProcessTickDistributesProportionally(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	st, cleanup := setupAccrualStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := st.EnsureCheckpoint(ctx, 10500000)
	require.NoError(t, err)

	const tickStart = uint64(1712145600)
	insertAdds(t, st,
		usdtAdd("e1", tickStart+10, "0xaaa", 75),
		usdtAdd("e2", tickStart+20, "0xbbb", 25),
	)

	job := New(st, Config{
		PointsPerHour:    decimal.NewFromInt(12500),
		PointsStartTime:  tickStart,
		NewRuleValidTime: tickStart, // boundary already passed
		RetryAttempts:    1,
	})
	// Consume the boundary crossing so the tick itself is clean.
	require.NoError(t, job.maybeCleanCredit(ctx, tickStart, tickStart+tickSeconds))
	require.NoError(t, job.processTick(ctx, tickStart))

	a, err := st.GetPoint(ctx, "0xaaa")
	require.NoError(t, err)
	require.NotNil(t, a)
	require.Equal(t, "9375", a.Point.String())

	b, err := st.GetPoint(ctx, "0xbbb")
	require.NoError(t, err)
	require.NotNil(t, b)
	require.Equal(t, "3125", b.Point.String())

	cp, err := st.GetCheckpoint(ctx)
	require.NoError(t, err)
	require.Equal(t, tickStart+tickSeconds, cp.PointCheckpoint)

	history, err := st.GetPointHistory(ctx, "0xaaa", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, fmt.Sprintf("0xaaa-%d-1", tickStart), history[0].EventID)

	// Positions carry into the next tick even with no new events.
	require.NoError(t, job.processTick(ctx, tickStart+tickSeconds))
	a, err = st.GetPoint(ctx, "0xaaa")
	require.NoError(t, err)
	require.Equal(t, "18750", a.Point.String())
}

func TestTickCommitReplayCreditsOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	st, cleanup := setupAccrualStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := st.EnsureCheckpoint(ctx, 10500000)
	require.NoError(t, err)

	const tickStart = uint64(1712145600)
	job := New(st, Config{
		PointsPerHour:   decimal.NewFromInt(12500),
		PointsStartTime: tickStart,
		RetryAttempts:   1,
	})

	deltas := map[string]decimal.Decimal{"0xaaa": decimal.NewFromInt(100)}
	totals := map[string]decimal.Decimal{"0xaaa": decimal.NewFromInt(100)}
	shares := map[string]decimal.Decimal{"0xaaa": decimal.NewFromInt(12500)}

	// An ambiguous commit error makes the retry wrapper re-run the
	// whole transaction after it already landed.
	require.NoError(t, job.commitTick(ctx, tickStart, deltas, totals, shares, true))
	require.NoError(t, job.commitTick(ctx, tickStart, deltas, totals, shares, true))

	point, err := st.GetPoint(ctx, "0xaaa")
	require.NoError(t, err)
	require.NotNil(t, point)
	require.Equal(t, "12500", point.Point.String())

	history, err := st.GetPointHistory(ctx, "0xaaa", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)

	cp, err := st.GetCheckpoint(ctx)
	require.NoError(t, err)
	require.Equal(t, tickStart+tickSeconds, cp.PointCheckpoint)
}

func TestCleanCreditRunsExactlyOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	st, cleanup := setupAccrualStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := st.EnsureCheckpoint(ctx, 10500000)
	require.NoError(t, err)

	const boundary = uint64(1713132000)
	tickStart := boundary - tickSeconds // tick end lands exactly on the boundary

	// History before the boundary: one valid 100 USDT deposit plus a
	// stale snapshot entry that the re-basing must wipe.
	insertAdds(t, st, usdtAdd("clean1", tickStart-7200, "0xaaa", 100))
	err = st.Transaction(ctx, func(tx *gorm.DB) error {
		return store.UpsertLPAmount(tx, "0xstale", decimal.NewFromInt(999))
	})
	require.NoError(t, err)

	job := New(st, Config{
		PointsPerHour:    decimal.NewFromInt(12500),
		PointsStartTime:  0,
		NewRuleValidTime: boundary,
		RetryAttempts:    1,
	})

	// Before the boundary: no-op.
	require.NoError(t, job.maybeCleanCredit(ctx, tickStart-tickSeconds, tickStart))
	snap, err := st.LoadLPSnapshot(ctx)
	require.NoError(t, err)
	require.Contains(t, snap, "0xstale")

	// First crossing: snapshot rebuilt over valid history only.
	require.NoError(t, job.maybeCleanCredit(ctx, tickStart, boundary))
	snap, err = st.LoadLPSnapshot(ctx)
	require.NoError(t, err)
	require.NotContains(t, snap, "0xstale")
	require.True(t, snap["0xaaa"].Equal(decimal.NewFromInt(100)))

	cp, err := st.GetCheckpoint(ctx)
	require.NoError(t, err)
	require.True(t, cp.CleanCredited)

	// Second crossing: flag holds, the snapshot is left alone.
	err = st.Transaction(ctx, func(tx *gorm.DB) error {
		return store.UpsertLPAmount(tx, "0xaaa", decimal.NewFromInt(42))
	})
	require.NoError(t, err)

	require.NoError(t, job.maybeCleanCredit(ctx, tickStart+tickSeconds, boundary+tickSeconds))
	snap, err = st.LoadLPSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, snap["0xaaa"].Equal(decimal.NewFromInt(42)))
}
