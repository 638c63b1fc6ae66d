// Package accrual implements the hourly points distribution job: it
// walks hourly ticks from the persisted checkpoint, converts liquidity
// flow to USD, maintains the per-user position snapshot and credits
// proportional point shares.
package accrual

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/hiveswap/hive-points/internal/retry"
	"github.com/hiveswap/hive-points/internal/store"
	"github.com/hiveswap/hive-points/pkg/tokens"
)

// tickSeconds is the tick width. Ticks are aligned to the checkpoint,
// not the wall clock.
const tickSeconds = 3600

// Config tunes one Job.
type Config struct {
	// PointsPerHour is the budget distributed across users each tick.
	PointsPerHour decimal.Decimal
	// PointsStartTime is the unix second before which ticks maintain
	// positions but credit no points.
	PointsStartTime uint64
	// NewRuleValidTime is the unix boundary of the one-time re-basing
	// that retroactively drops invalid events.
	NewRuleValidTime uint64
	// RetryAttempts and RetryDelay bound the per-tick commit retry.
	RetryAttempts int
	RetryDelay    time.Duration
}

// Job is the hourly accrual state machine. Single instance per
// deployment; ticks are processed strictly in order, each committed
// before the next starts.
type Job struct {
	store *store.Store
	cfg   Config
	log   zerolog.Logger
}

// New creates a Job.
func New(s *store.Store, cfg Config) *Job {
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	return &Job{
		store: s,
		cfg:   cfg,
		log:   log.With().Str("component", "accrual").Logger(),
	}
}

// Run executes one scheduled invocation: every complete tick between
// the checkpoint and now is processed and committed independently, so a
// failure mid-run loses at most the in-flight tick. Unexpected panics
// are recovered and abort the run, never the process.
func (j *Job) Run(ctx context.Context) (err error) {
	runLog := j.log.With().Str("run_id", uuid.NewString()).Logger()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("accrual: run panicked: %v", r)
			runLog.Error().Err(err).Msg("run aborted")
		}
	}()

	started, err := j.resumeFrom(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNoCheckpoint) {
			runLog.Warn().Msg("checkpoint missing, indexer has not run yet")
			return nil
		}
		return err
	}
	if started == 0 {
		runLog.Debug().Msg("no liquidity events yet, nothing to accrue")
		return nil
	}

	ended := uint64(time.Now().Unix())
	ticks := 0
	for tickStart := started; tickStart+tickSeconds <= ended; tickStart += tickSeconds {
		if err := j.processTick(ctx, tickStart); err != nil {
			runLog.Error().
				Err(err).
				Uint64("tick_start", tickStart).
				Uint64("tick_end", tickStart+tickSeconds).
				Msg("tick failed, deferring remaining ticks to next run")
			return err
		}
		ticks++
		ticksProcessed.Inc()
	}

	if ticks > 0 {
		runLog.Info().Int("ticks", ticks).Uint64("from", started).Msg("accrual run complete")
	}
	return nil
}

// resumeFrom returns the start of the next unprocessed tick: the
// checkpoint if one was committed, otherwise the first liquidity
// deposit ever seen, 0 when there is nothing to do.
func (j *Job) resumeFrom(ctx context.Context) (uint64, error) {
	cp, err := j.store.GetCheckpoint(ctx)
	if err != nil {
		return 0, err
	}
	if cp.PointCheckpoint > 0 {
		return cp.PointCheckpoint, nil
	}
	first, err := j.store.FirstAddLiquidityTimestamp(ctx)
	if err != nil {
		return 0, err
	}
	return first, nil
}

// processTick aggregates [tickStart, tickStart+3600) and commits the
// checkpoint advance, snapshot updates and point credits in one
// transaction. The commit is retried whole; inner calls are not
// individually retried.
func (j *Job) processTick(ctx context.Context, tickStart uint64) error {
	tickEnd := tickStart + tickSeconds

	if err := j.maybeCleanCredit(ctx, tickStart, tickEnd); err != nil {
		return err
	}

	window, err := j.store.LiquidityEventsInWindow(ctx, tickStart, tickEnd, true)
	if err != nil {
		return err
	}
	deltas := SignedDeltas(window)

	snapshot, err := j.store.LoadLPSnapshot(ctx)
	if err != nil {
		return err
	}
	totals := ApplyDeltas(snapshot, deltas)

	shares := Distribute(totals, j.cfg.PointsPerHour)

	creditPoints := tickStart >= j.cfg.PointsStartTime

	name := fmt.Sprintf("accrual tick %d", tickStart)
	err = retry.Do(ctx, name, j.cfg.RetryAttempts, j.cfg.RetryDelay, func() error {
		return j.commitTick(ctx, tickStart, deltas, totals, shares, creditPoints)
	})
	if err != nil {
		return err
	}

	if creditPoints {
		for _, share := range shares {
			distributed, _ := share.Float64()
			pointsDistributed.Add(distributed)
		}
	}
	lastTick.Set(float64(tickEnd))
	return nil
}

// commitTick writes one aggregated tick in a single transaction. The
// whole transaction may be replayed after an ambiguous commit error:
// the ledger row gates each point increment, so a credit that already
// landed is skipped rather than applied twice.
func (j *Job) commitTick(ctx context.Context, tickStart uint64, deltas, totals, shares map[string]decimal.Decimal, creditPoints bool) error {
	tickEnd := tickStart + tickSeconds
	return j.store.Transaction(ctx, func(tx *gorm.DB) error {
		if err := store.AdvancePointCheckpoint(tx, tickEnd); err != nil {
			return err
		}
		for user := range deltas {
			if err := store.UpsertLPAmount(tx, user, totals[user]); err != nil {
				return err
			}
		}
		if !creditPoints {
			return nil
		}
		for user, share := range shares {
			if share.IsZero() {
				continue
			}
			row := store.PointHistory{
				EventID:   fmt.Sprintf("%s-%d-%d", user, tickStart, store.ActionAccrual),
				UserAddr:  user,
				Point:     share,
				Action:    store.ActionAccrual,
				Timestamp: tickEnd,
				EpochID:   tickStart,
			}
			if _, err := store.CreditPoints(tx, row, share, decimal.Zero); err != nil {
				return err
			}
		}
		return nil
	})
}

// maybeCleanCredit runs the one-time re-basing when a tick end first
// crosses the rule-change boundary: the position snapshot is rebuilt
// from scratch over valid events only, permanently excluding invalid
// history. Guarded by the persisted CleanCredited flag so it fires
// exactly once.
func (j *Job) maybeCleanCredit(ctx context.Context, tickStart, tickEnd uint64) error {
	if tickEnd < j.cfg.NewRuleValidTime {
		return nil
	}
	cp, err := j.store.GetCheckpoint(ctx)
	if err != nil {
		return err
	}
	if cp.CleanCredited {
		return nil
	}

	window, err := j.store.LiquidityEventsInWindow(ctx, 0, tickStart, true)
	if err != nil {
		return err
	}
	positions := ApplyDeltas(nil, SignedDeltas(window))

	j.log.Info().
		Uint64("boundary", j.cfg.NewRuleValidTime).
		Uint64("tick_end", tickEnd).
		Int("users", len(positions)).
		Msg("re-basing position snapshot over valid events")

	return retry.Do(ctx, "clean credit", j.cfg.RetryAttempts, j.cfg.RetryDelay, func() error {
		return j.store.Transaction(ctx, func(tx *gorm.DB) error {
			if err := store.ReplaceLPSnapshot(tx, positions); err != nil {
				return err
			}
			return store.MarkCleanCredited(tx)
		})
	})
}

// EventUSD prices one liquidity event in USD:
// price(tokenX)*amountX/1e18 + price(tokenY)*amountY/1e18. Amounts
// that fail to parse or tokens without a price contribute zero.
func EventUSD(tokenX, tokenY, amountX, amountY string) decimal.Decimal {
	return sideUSD(tokenX, amountX).Add(sideUSD(tokenY, amountY))
}

func sideUSD(token, amount string) decimal.Decimal {
	price, ok := tokens.PriceUSD(token)
	if !ok {
		return decimal.Zero
	}
	raw, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero
	}
	// Shift is exact; Div would round at its configured precision.
	return raw.Shift(-18).Mul(price)
}

// SignedDeltas merges a window's events into a per-user signed USD
// delta map: deposits positive, withdrawals negative.
func SignedDeltas(w *store.LiquidityWindow) map[string]decimal.Decimal {
	deltas := make(map[string]decimal.Decimal)
	if w == nil {
		return deltas
	}
	for _, ev := range w.Adds {
		deltas[ev.UserAddr] = deltas[ev.UserAddr].Add(EventUSD(ev.TokenX, ev.TokenY, ev.AmountX, ev.AmountY))
	}
	for _, ev := range w.Removes {
		deltas[ev.UserAddr] = deltas[ev.UserAddr].Sub(EventUSD(ev.TokenX, ev.TokenY, ev.AmountX, ev.AmountY))
	}
	return deltas
}

// ApplyDeltas produces the new position totals: snapshot plus delta per
// user, clamped at zero since a user cannot hold negative liquidity.
// Snapshot users without a delta keep their position in the result so
// the tick total covers everyone.
func ApplyDeltas(snapshot, deltas map[string]decimal.Decimal) map[string]decimal.Decimal {
	totals := make(map[string]decimal.Decimal, len(snapshot)+len(deltas))
	for user, amount := range snapshot {
		totals[user] = amount
	}
	for user, delta := range deltas {
		next := totals[user].Add(delta)
		if next.IsNegative() {
			next = decimal.Zero
		}
		totals[user] = next
	}
	return totals
}

// Distribute splits pointsPerHour across users proportionally to their
// position, rounded to 6 decimal places. An empty or all-zero total
// distributes nothing.
func Distribute(totals map[string]decimal.Decimal, pointsPerHour decimal.Decimal) map[string]decimal.Decimal {
	shares := make(map[string]decimal.Decimal, len(totals))
	total := decimal.Zero
	for _, amount := range totals {
		total = total.Add(amount)
	}
	if total.IsZero() {
		return shares
	}
	for user, amount := range totals {
		shares[user] = amount.Mul(pointsPerHour).Div(total).Round(6)
	}
	return shares
}
