package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hiveswap/hive-points/internal/store"
)

func setupAPI(t *testing.T) (*gin.Engine, *store.Store, func()) {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("hive_points_api_test"),
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
	return New(st).Router(), st, cleanup
}

func doGet(t *testing.T, router *gin.Engine, path string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func seedPoints(t *testing.T, st *store.Store) {
	t.Helper()
	err := st.Transaction(context.Background(), func(tx *gorm.DB) error {
		for i, user := range []string{"0xaaa", "0xbbb", "0xccc"} {
			amount := decimal.NewFromInt(int64((i + 1) * 100))
			if err := store.AddPoints(tx, user, amount, decimal.Zero); err != nil {
				return err
			}
		}
		return store.AppendPointHistory(tx, []store.PointHistory{{
			EventID:   "0xaaa-1712149200-1",
			UserAddr:  "0xaaa",
			Point:     decimal.RequireFromString("100"),
			Action:    store.ActionAccrual,
			Timestamp: 1712152800,
			EpochID:   1712149200,
		}})
	})
	require.NoError(t, err)
}

func TestHealthz(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	router, _, cleanup := setupAPI(t)
	defer cleanup()

	code, body := doGet(t, router, "/healthz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["status"])
}

func TestRankEndpoint(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	router, st, cleanup := setupAPI(t)
	defer cleanup()
	seedPoints(t, st)

	code, body := doGet(t, router, "/rank?size=2")
	require.Equal(t, http.StatusOK, code)

	entries := body["rank"].([]interface{})
	require.Len(t, entries, 2)

	first := entries[0].(map[string]interface{})
	require.Equal(t, "0xccc", first["userAddr"])
	require.Equal(t, float64(1), first["rank"])
	require.Equal(t, "300", first["point"])
}

func TestPointsEndpoint(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	router, st, cleanup := setupAPI(t)
	defer cleanup()
	seedPoints(t, st)

	code, body := doGet(t, router, "/points/0xAAA")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "0xaaa", body["userAddr"]) // address is normalized
	require.Equal(t, "100", body["point"])
	require.Equal(t, float64(3), body["rank"])

	// Unknown user responds with zeroes, not 404
	code, body = doGet(t, router, "/points/0xdddddddddddddddddddddddddddddddddddddddd")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "0", body["point"])
	require.Equal(t, float64(0), body["rank"])
}

func TestHistoryEndpoint(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	router, st, cleanup := setupAPI(t)
	defer cleanup()
	seedPoints(t, st)

	code, body := doGet(t, router, "/points/0xaaa/history")
	require.Equal(t, http.StatusOK, code)

	entries := body["history"].([]interface{})
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]interface{})
	require.Equal(t, "0xaaa-1712149200-1", entry["eventId"])
	require.Equal(t, "100", entry["point"])
}

func TestLPEndpoint(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	router, st, cleanup := setupAPI(t)
	defer cleanup()

	err := st.Transaction(context.Background(), func(tx *gorm.DB) error {
		return store.UpsertLPAmount(tx, "0xaaa", decimal.RequireFromString("42.5"))
	})
	require.NoError(t, err)

	code, body := doGet(t, router, "/lp/0xaaa")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "42.5", body["amount"])

	code, body = doGet(t, router, "/lp/0xeee")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "0", body["amount"])
}

func TestIntQueryBounds(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{name: "missing uses fallback", query: "", want: 100},
		{name: "valid value", query: "size=25", want: 25},
		{name: "above limit clamps", query: "size=9999", want: 500},
		{name: "zero uses fallback", query: "size=0", want: 100},
		{name: "garbage uses fallback", query: "size=abc", want: 100},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/rank?"+tc.query, nil)
			require.Equal(t, tc.want, intQuery(c, "size", 100, 500))
		})
	}
}
