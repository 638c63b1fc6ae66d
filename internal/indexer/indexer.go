// Package indexer is the block-scanning loop: it polls the chain head,
// fetches logs for the tracked contracts, decodes and enriches them and
// commits typed event rows together with the checkpoint advance.
package indexer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/hiveswap/hive-points/internal/retry"
	"github.com/hiveswap/hive-points/internal/rpc"
	"github.com/hiveswap/hive-points/internal/store"
	"github.com/hiveswap/hive-points/pkg/config"
	"github.com/hiveswap/hive-points/pkg/decoder"
	"github.com/hiveswap/hive-points/pkg/handler"
	"github.com/hiveswap/hive-points/pkg/tokens"
)

// poolPair is the memoized token pair of a liquidity pool.
type poolPair struct {
	tokenX common.Address
	tokenY common.Address
}

// Indexer is the scanning state machine. Single instance per contract
// set; concurrent instances would double-count through the shared
// checkpoint.
type Indexer struct {
	cfg      *config.Config
	rpc      *rpc.Client
	store    *store.Store
	decoder  *decoder.Decoder
	handlers *handler.Registry
	log      zerolog.Logger

	lastBlock  uint64
	bridgeRate decimal.Decimal
	fromChains map[uint64]struct{}
	poolCache  map[string]poolPair
}

// envelope pairs a decoded event with its raw log and block time for
// the commit phase.
type envelope struct {
	log       types.Log
	event     *decoder.Event
	blockTime uint64
	blockHash string
}

// New builds an Indexer and seeds the checkpoint on first run.
func New(ctx context.Context, cfg *config.Config, client *rpc.Client, st *store.Store, dec *decoder.Decoder) (*Indexer, error) {
	rate, err := decimal.NewFromString(cfg.Bridge.PointsPerDollar)
	if err != nil {
		return nil, fmt.Errorf("indexer: parse bridge points per dollar %q: %w", cfg.Bridge.PointsPerDollar, err)
	}

	cp, err := st.EnsureCheckpoint(ctx, cfg.Sync.StartBlock)
	if err != nil {
		return nil, err
	}

	i := &Indexer{
		cfg:        cfg,
		rpc:        client,
		store:      st,
		decoder:    dec,
		handlers:   handler.NewRegistry(),
		log:        log.With().Str("component", "indexer").Logger(),
		lastBlock:  cp.BlockNumber,
		bridgeRate: rate,
		fromChains: make(map[uint64]struct{}, len(cfg.Bridge.FromChains)),
		poolCache:  make(map[string]poolPair),
	}
	for _, chain := range cfg.Bridge.FromChains {
		i.fromChains[chain] = struct{}{}
	}

	i.handlers.Register(decoder.KindLock, i.handleLock)
	i.handlers.Register(decoder.KindAddLiquidity, i.handleAddLiquidity)
	i.handlers.Register(decoder.KindRemoveLiquidity, i.handleRemoveLiquidity)
	i.handlers.Register(decoder.KindBridgeSwapIn, i.handleBridge)

	return i, nil
}

// Run polls until ctx is canceled. A failed iteration is logged and the
// range re-scanned next time; dedup on insert keeps replays harmless.
func (i *Indexer) Run(ctx context.Context) error {
	i.log.Info().
		Uint64("last_block", i.lastBlock).
		Dur("poll_interval", i.cfg.PollInterval).
		Msg("indexer started")

	ticker := time.NewTicker(i.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			i.log.Info().Msg("indexer stopped")
			return ctx.Err()
		case <-ticker.C:
			iterLog := i.log.With().Str("iteration_id", uuid.NewString()).Logger()
			if err := i.syncOnce(ctx); err != nil {
				iterLog.Error().
					Err(err).
					Uint64("from", i.lastBlock+1).
					Msg("iteration failed, range will be re-scanned")
			}
		}
	}
}

// syncOnce scans (lastBlock, head] and commits everything in a single
// transaction. On any failure lastBlock is not advanced.
func (i *Indexer) syncOnce(ctx context.Context) error {
	attempts := i.cfg.Sync.MaxRetries
	delay := i.cfg.Sync.RetryDelay

	head, err := retry.Do1(ctx, "block number", attempts, delay, func() (uint64, error) {
		return i.rpc.BlockNumber(ctx)
	})
	if err != nil {
		return err
	}

	i.observeLag(head)

	// Stale or reorged height guard
	if head <= i.lastBlock {
		return nil
	}

	from := i.lastBlock + 1
	logs, err := i.fetchLogs(ctx, from, head)
	if err != nil {
		return err
	}

	envelopes, err := i.prepare(ctx, logs)
	if err != nil {
		return err
	}

	err = retry.Do(ctx, "commit range", attempts, delay, func() error {
		return i.store.Transaction(ctx, func(tx *gorm.DB) error {
			for _, env := range envelopes {
				hctx := &handler.Context{
					DB: tx,
					Block: handler.BlockInfo{
						Number: env.event.BlockNumber,
						Hash:   env.blockHash,
						Time:   env.blockTime,
					},
					Log:   env.log,
					Event: env.event,
				}
				if err := i.handlers.Handle(hctx); err != nil {
					return err
				}
			}
			return store.AdvanceBlock(tx, head)
		})
	})
	if err != nil {
		return err
	}

	blocksIndexed.Add(float64(head - i.lastBlock))
	currentBlock.Set(float64(head))
	syncLag.Set(0)
	eventsIndexed.Add(float64(len(envelopes)))
	i.lastBlock = head

	if len(envelopes) > 0 {
		i.log.Info().
			Uint64("from", from).
			Uint64("to", head).
			Int("events", len(envelopes)).
			Msg("range indexed")
	}
	return nil
}

// observeLag records how far the checkpoint trails the chain head.
func (i *Indexer) observeLag(head uint64) {
	if head <= i.lastBlock {
		syncLag.Set(0)
		return
	}
	syncLag.Set(float64(head - i.lastBlock))
}

// fetchLogs queries each tracked topic over [from, to]. The bridge
// lower bound is clamped to the bridge deployment block.
func (i *Indexer) fetchLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	attempts := i.cfg.Sync.MaxRetries
	delay := i.cfg.Sync.RetryDelay

	queries := []struct {
		name    string
		address string
		topics  []common.Hash
		from    uint64
	}{
		{
			name:    "stake logs",
			address: i.cfg.Contracts.Stake,
			topics:  []common.Hash{i.decoder.LockTopic()},
			from:    from,
		},
		{
			name:    "liquidity logs",
			address: i.cfg.Contracts.Liquidity,
			topics:  []common.Hash{i.decoder.AddLiquidityTopic(), i.decoder.DecLiquidityTopic()},
			from:    from,
		},
		{
			name:    "bridge logs",
			address: i.cfg.Contracts.Bridge,
			topics:  []common.Hash{i.decoder.SwapInTopic()},
			from:    max(from, i.cfg.Sync.BridgeStartBlock),
		},
	}

	var all []types.Log
	for _, q := range queries {
		if q.from > to {
			continue
		}
		query := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(q.from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{common.HexToAddress(q.address)},
			Topics:    [][]common.Hash{q.topics},
		}
		logs, err := retry.Do1(ctx, q.name, attempts, delay, func() ([]types.Log, error) {
			return i.rpc.FilterLogs(ctx, query)
		})
		if err != nil {
			return nil, err
		}
		all = append(all, logs...)
	}
	return all, nil
}

// prepare decodes and enriches raw logs. Foreign signatures, filtered
// bridge events and unresolvable pools are skipped, never errors.
func (i *Indexer) prepare(ctx context.Context, logs []types.Log) ([]envelope, error) {
	blockTimes := make(map[uint64]uint64)
	var envelopes []envelope

	for _, lg := range logs {
		if lg.Removed {
			continue
		}

		ev, err := i.decoder.Decode(lg)
		if err != nil {
			i.log.Debug().
				Str("tx", lg.TxHash.Hex()).
				Uint("log_index", lg.Index).
				Err(err).
				Msg("skipping undecodable log")
			continue
		}

		switch ev.Kind {
		case decoder.KindAddLiquidity, decoder.KindRemoveLiquidity:
			ok, err := i.enrichLiquidity(ctx, lg, ev)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		case decoder.KindBridgeSwapIn:
			if !i.acceptBridge(ev.Bridge) {
				continue
			}
		}

		blockTime, ok := blockTimes[lg.BlockNumber]
		if !ok {
			header, err := retry.Do1(ctx, "block header", i.cfg.Sync.MaxRetries, i.cfg.Sync.RetryDelay, func() (*types.Header, error) {
				return i.rpc.HeaderByNumber(ctx, new(big.Int).SetUint64(lg.BlockNumber))
			})
			if err != nil {
				return nil, err
			}
			blockTime = header.Time
			blockTimes[lg.BlockNumber] = blockTime
		}

		envelopes = append(envelopes, envelope{
			log:       lg,
			event:     ev,
			blockTime: blockTime,
			blockHash: lg.BlockHash.Hex(),
		})
	}
	return envelopes, nil
}

// enrichLiquidity resolves the originating sender and the pool token
// pair, then stamps the one-sided validity flag. Returns false when the
// pool is unknown and the event must be skipped.
func (i *Indexer) enrichLiquidity(ctx context.Context, lg types.Log, ev *decoder.Event) (bool, error) {
	fields := ev.Liquidity

	sender, err := retry.Do1(ctx, "transaction sender", i.cfg.Sync.MaxRetries, i.cfg.Sync.RetryDelay, func() (common.Address, error) {
		return i.rpc.TransactionSender(ctx, lg.TxHash, lg.BlockHash, lg.TxIndex)
	})
	if err != nil {
		return false, err
	}
	fields.Sender = sender

	pair, ok, err := i.poolTokens(ctx, fields.PoolID)
	if err != nil {
		return false, err
	}
	if !ok {
		i.log.Debug().
			Str("pool_id", fields.PoolID.String()).
			Str("tx", lg.TxHash.Hex()).
			Msg("skipping event from unknown pool")
		return false, nil
	}
	fields.TokenX = pair.tokenX
	fields.TokenY = pair.tokenY
	fields.Valid = tokens.ValidLiquidity(pair.tokenX.Hex(), pair.tokenY.Hex(), fields.AmountX, fields.AmountY)
	return true, nil
}

// poolTokens resolves a pool id to its token pair via the poolMetas
// view, memoized per process.
func (i *Indexer) poolTokens(ctx context.Context, poolID *big.Int) (poolPair, bool, error) {
	key := poolID.String()
	if pair, ok := i.poolCache[key]; ok {
		return pair, true, nil
	}

	calldata, err := i.decoder.PoolMetasCalldata(poolID)
	if err != nil {
		return poolPair{}, false, err
	}
	liquidityAddr := common.HexToAddress(i.cfg.Contracts.Liquidity)
	ret, err := retry.Do1(ctx, "pool metas", i.cfg.Sync.MaxRetries, i.cfg.Sync.RetryDelay, func() ([]byte, error) {
		return i.rpc.CallContract(ctx, ethereum.CallMsg{To: &liquidityAddr, Data: calldata}, nil)
	})
	if err != nil {
		return poolPair{}, false, err
	}

	tokenX, tokenY, err := i.decoder.UnpackPoolMetas(ret)
	if err != nil || (tokenX == common.Address{}) || (tokenY == common.Address{}) {
		return poolPair{}, false, nil
	}

	pair := poolPair{tokenX: tokenX, tokenY: tokenY}
	i.poolCache[key] = pair
	return pair, true, nil
}

// acceptBridge applies the bridge business filters: destination must be
// the home chain, origin in the allow-list, token in the supported set.
// Rejections are silent skips, not errors.
func (i *Indexer) acceptBridge(b *decoder.BridgeFields) bool {
	if b.ToChain == nil || !b.ToChain.IsUint64() || b.ToChain.Uint64() != i.cfg.ChainID {
		return false
	}
	if b.FromChain == nil || !b.FromChain.IsUint64() {
		return false
	}
	if _, ok := i.fromChains[b.FromChain.Uint64()]; !ok {
		return false
	}
	return tokens.IsSupportedBridge(b.Token.Hex())
}

// --- Persistence handlers ---

func (i *Indexer) handleLock(ctx *handler.Context) error {
	f := ctx.Event.Lock
	row := store.LockEvent{
		BaseEvent: baseEvent(ctx),
		UserAddr:  tokens.Normalize(f.User.Hex()),
		Amount:    bigString(f.Amount),
		Token:     tokens.Normalize(f.Token.Hex()),
		LToken:    tokens.Normalize(f.LToken.Hex()),
	}
	if err := store.InsertLockEvents(ctx.DB, []store.LockEvent{row}); err != nil {
		return err
	}
	if err := store.UpsertTokenMap(ctx.DB, row.Token, row.LToken); err != nil {
		return err
	}
	return i.auditLog(ctx)
}

func (i *Indexer) handleAddLiquidity(ctx *handler.Context) error {
	row := store.AddLiquidityEvent(liquidityRow(ctx))
	if err := store.InsertAddLiquidityEvents(ctx.DB, []store.AddLiquidityEvent{row}); err != nil {
		return err
	}
	return i.auditLog(ctx)
}

func (i *Indexer) handleRemoveLiquidity(ctx *handler.Context) error {
	row := store.RemoveLiquidityEvent(liquidityRow(ctx))
	if err := store.InsertRemoveLiquidityEvents(ctx.DB, []store.RemoveLiquidityEvent{row}); err != nil {
		return err
	}
	return i.auditLog(ctx)
}

// handleBridge persists the swap-in and credits its points inline:
// bridge volume has a flat per-dollar rate independent of time
// bucketing, so it does not wait for the hourly job.
func (i *Indexer) handleBridge(ctx *handler.Context) error {
	f := ctx.Event.Bridge
	user := tokens.Normalize(f.ToAddress.Hex())
	token := tokens.Normalize(f.Token.Hex())

	row := store.BridgeEvent{
		BaseEvent: baseEvent(ctx),
		UserAddr:  user,
		FromChain: f.FromChain.Uint64(),
		ToChain:   f.ToChain.Uint64(),
		OrderID:   f.OrderID.Hex(),
		Token:     token,
		Amount:    bigString(f.AmountOut),
	}
	if err := store.InsertBridgeEvents(ctx.DB, []store.BridgeEvent{row}); err != nil {
		return err
	}

	points := BridgePoints(i.bridgeRate, bigString(f.AmountOut), token)
	if points.IsPositive() {
		// The ledger row gates the increment so a replayed commit
		// cannot credit the swap twice.
		credited, err := store.CreditPoints(ctx.DB, store.PointHistory{
			EventID:   ctx.Event.ID(),
			UserAddr:  user,
			Point:     points,
			Action:    store.ActionAccrual,
			Timestamp: ctx.Block.Time,
			EpochID:   ctx.Block.Time,
		}, decimal.Zero, points)
		if err != nil {
			return err
		}
		if credited {
			bridgePointsCredited, _ := points.Float64()
			bridgeCredits.Add(bridgePointsCredited)
		}
	}
	return i.auditLog(ctx)
}

// auditLog appends the decoded payload to the raw log audit table.
func (i *Indexer) auditLog(ctx *handler.Context) error {
	payload, err := json.Marshal(convertEventData(rawPayload(ctx.Event)))
	if err != nil {
		return fmt.Errorf("indexer: marshal raw payload: %w", err)
	}
	return store.InsertRawLogs(ctx.DB, []store.RawLog{{
		EventID:     ctx.Event.ID(),
		BlockNumber: ctx.Event.BlockNumber,
		TxHash:      ctx.Event.TxHash.Hex(),
		LogIndex:    ctx.Event.LogIndex,
		EventName:   ctx.Event.Kind.String(),
		Topic:       ctx.Log.Topics[0].Hex(),
		Data:        payload,
	}})
}

// BridgePoints prices a bridge swap-in:
// rate * amount / 1e18 * tokenPriceUSD, rounded to 6 decimal places.
// Unknown tokens and malformed amounts yield zero.
func BridgePoints(rate decimal.Decimal, amount, token string) decimal.Decimal {
	price, ok := tokens.PriceUSD(token)
	if !ok {
		return decimal.Zero
	}
	raw, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero
	}
	return rate.Mul(raw.Shift(-18)).Mul(price).Round(6)
}

func baseEvent(ctx *handler.Context) store.BaseEvent {
	return store.BaseEvent{
		EventID:     ctx.Event.ID(),
		BlockNumber: ctx.Event.BlockNumber,
		TxHash:      ctx.Event.TxHash.Hex(),
		LogIndex:    ctx.Event.LogIndex,
		Timestamp:   ctx.Block.Time,
	}
}

func liquidityRow(ctx *handler.Context) store.AddLiquidityEvent {
	f := ctx.Event.Liquidity
	return store.AddLiquidityEvent{
		BaseEvent: baseEvent(ctx),
		UserAddr:  tokens.Normalize(f.Sender.Hex()),
		PoolID:    bigString(f.PoolID),
		AmountX:   bigString(f.AmountX),
		AmountY:   bigString(f.AmountY),
		TokenX:    tokens.Normalize(f.TokenX.Hex()),
		TokenY:    tokens.Normalize(f.TokenY.Hex()),
		Valid:     f.Valid,
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// rawPayload flattens the decoded event fields for the audit table.
func rawPayload(ev *decoder.Event) map[string]interface{} {
	switch ev.Kind {
	case decoder.KindLock:
		return map[string]interface{}{
			"user":   ev.Lock.User,
			"amount": ev.Lock.Amount,
			"token":  ev.Lock.Token,
			"lToken": ev.Lock.LToken,
		}
	case decoder.KindAddLiquidity, decoder.KindRemoveLiquidity:
		return map[string]interface{}{
			"nftId":          ev.Liquidity.NFTID,
			"poolId":         ev.Liquidity.PoolID,
			"liquidityDelta": ev.Liquidity.LiquidityDelta,
			"amountX":        ev.Liquidity.AmountX,
			"amountY":        ev.Liquidity.AmountY,
			"sender":         ev.Liquidity.Sender,
			"tokenX":         ev.Liquidity.TokenX,
			"tokenY":         ev.Liquidity.TokenY,
			"valid":          ev.Liquidity.Valid,
		}
	case decoder.KindBridgeSwapIn:
		return map[string]interface{}{
			"fromChain": ev.Bridge.FromChain,
			"toChain":   ev.Bridge.ToChain,
			"orderId":   ev.Bridge.OrderID.Hex(),
			"token":     ev.Bridge.Token,
			"from":      ev.Bridge.From,
			"toAddress": ev.Bridge.ToAddress,
			"amountOut": ev.Bridge.AmountOut,
		}
	default:
		return map[string]interface{}{}
	}
}

// convertEventData makes decoded argument values JSON-friendly.
func convertEventData(input map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(input))
	for k, v := range input {
		switch val := v.(type) {
		case common.Address:
			out[k] = val.Hex()
		case *big.Int:
			if val == nil {
				out[k] = "0"
			} else {
				out[k] = val.String()
			}
		case []byte:
			out[k] = hex.EncodeToString(val)
		default:
			out[k] = v
		}
	}
	return out
}
