package indexer

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hiveswap/hive-points/internal/store"
	"github.com/hiveswap/hive-points/pkg/decoder"
	"github.com/hiveswap/hive-points/pkg/handler"
	"github.com/hiveswap/hive-points/pkg/tokens"
)

func setupIndexerStore(t *testing.T) (*store.Store, func()) {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("hive_points_indexer_test"),
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

func swapInEvent() *decoder.Event {
	oneToken := new(big.Int)
	oneToken.SetString("1000000000000000000", 10)
	return &decoder.Event{
		Kind:        decoder.KindBridgeSwapIn,
		TxHash:      common.HexToHash("0xbead"),
		LogIndex:    3,
		BlockNumber: 11044400,
		Bridge: &decoder.BridgeFields{
			FromChain: big.NewInt(1),
			ToChain:   big.NewInt(22776),
			OrderID:   common.HexToHash("0x01"),
			Token:     common.HexToAddress(tokens.IUSD.Address),
			From:      []byte{0x01, 0x02},
			ToAddress: common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
			AmountOut: oneToken,
		},
	}
}

func TestHandleBridgeReplayCreditsOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	st, cleanup := setupIndexerStore(t)
	defer cleanup()
	ctx := context.Background()

	idx := &Indexer{bridgeRate: decimal.RequireFromString("0.04")}
	ev := swapInEvent()
	user := tokens.Normalize(ev.Bridge.ToAddress.Hex())

	handle := func() error {
		return st.Transaction(ctx, func(tx *gorm.DB) error {
			return idx.handleBridge(&handler.Context{
				DB:    tx,
				Block: handler.BlockInfo{Number: ev.BlockNumber, Time: 1712150000},
				Event: ev,
			})
		})
	}

	// First commit lands, then the identical envelope is replayed as
	// the retry wrapper would after an ambiguous commit error.
	require.NoError(t, handle())
	require.NoError(t, handle())

	var eventCount int64
	require.NoError(t, st.DB().Model(&store.BridgeEvent{}).Count(&eventCount).Error)
	require.EqualValues(t, 1, eventCount)

	history, err := st.GetPointHistory(ctx, user, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "0.04", history[0].Point.String())

	point, err := st.GetPoint(ctx, user)
	require.NoError(t, err)
	require.NotNil(t, point)
	require.Equal(t, "0.04", point.Point.String())
	require.Equal(t, "0.04", point.MapoPoint.String())
	require.True(t, point.HivePoint.IsZero())
}
