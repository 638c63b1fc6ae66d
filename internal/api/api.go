// Package api serves the read-only rank and statistics endpoints over
// the point, point_history and user_current_lp_amount tables.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/hiveswap/hive-points/internal/store"
	"github.com/hiveswap/hive-points/pkg/tokens"
)

const (
	defaultRankSize    = 100
	maxRankSize        = 500
	defaultHistorySize = 50
	maxHistorySize     = 200
)

// Server is the read API.
type Server struct {
	store *store.Store
}

// New creates a Server over the store.
func New(st *store.Store) *Server {
	return &Server{store: st}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.health)
	r.GET("/rank", s.rank)
	r.GET("/points/:addr", s.points)
	r.GET("/points/:addr/history", s.history)
	r.GET("/lp/:addr", s.lpAmount)

	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// rankEntry is one row of the leaderboard.
type rankEntry struct {
	Rank      int    `json:"rank"`
	UserAddr  string `json:"userAddr"`
	HivePoint string `json:"hivePoint"`
	MapoPoint string `json:"mapoPoint"`
	Point     string `json:"point"`
}

func (s *Server) rank(c *gin.Context) {
	size := intQuery(c, "size", defaultRankSize, maxRankSize)

	rows, err := s.store.TopPoints(c.Request.Context(), size)
	if err != nil {
		serverError(c, err)
		return
	}

	entries := make([]rankEntry, 0, len(rows))
	for idx, row := range rows {
		entries = append(entries, rankEntry{
			Rank:      idx + 1,
			UserAddr:  row.UserAddr,
			HivePoint: row.HivePoint.String(),
			MapoPoint: row.MapoPoint.String(),
			Point:     row.Point.String(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"rank": entries})
}

func (s *Server) points(c *gin.Context) {
	addr := tokens.Normalize(c.Param("addr"))

	row, err := s.store.GetPoint(c.Request.Context(), addr)
	if err != nil {
		serverError(c, err)
		return
	}

	rank, err := s.store.GetRank(c.Request.Context(), addr)
	if err != nil {
		serverError(c, err)
		return
	}

	resp := gin.H{
		"userAddr":  addr,
		"hivePoint": "0",
		"mapoPoint": "0",
		"point":     "0",
		"rank":      rank,
	}
	if row != nil {
		resp["hivePoint"] = row.HivePoint.String()
		resp["mapoPoint"] = row.MapoPoint.String()
		resp["point"] = row.Point.String()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) history(c *gin.Context) {
	addr := tokens.Normalize(c.Param("addr"))
	size := intQuery(c, "size", defaultHistorySize, maxHistorySize)

	rows, err := s.store.GetPointHistory(c.Request.Context(), addr, size)
	if err != nil {
		serverError(c, err)
		return
	}

	type historyEntry struct {
		EventID   string `json:"eventId"`
		Point     string `json:"point"`
		Action    int16  `json:"action"`
		Timestamp uint64 `json:"timestamp"`
		EpochID   uint64 `json:"epochId"`
	}
	entries := make([]historyEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, historyEntry{
			EventID:   row.EventID,
			Point:     row.Point.String(),
			Action:    row.Action,
			Timestamp: row.Timestamp,
			EpochID:   row.EpochID,
		})
	}
	c.JSON(http.StatusOK, gin.H{"userAddr": addr, "history": entries})
}

func (s *Server) lpAmount(c *gin.Context) {
	addr := tokens.Normalize(c.Param("addr"))

	row, err := s.store.GetLPAmount(c.Request.Context(), addr)
	if err != nil {
		serverError(c, err)
		return
	}

	amount := "0"
	if row != nil {
		amount = row.Amount.String()
	}
	c.JSON(http.StatusOK, gin.H{"userAddr": addr, "amount": amount})
}

func intQuery(c *gin.Context, name string, fallback, limit int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return fallback
	}
	if v > limit {
		return limit
	}
	return v
}

func serverError(c *gin.Context, err error) {
	log.Error().Str("component", "api").Err(err).Str("path", c.FullPath()).Msg("query failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
