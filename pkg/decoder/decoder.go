// Package decoder turns raw chain logs into typed domain events.
package decoder

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrUnknownEvent marks a log whose signature is not a tracked event.
// Callers treat it as "not this event kind" and skip the log.
var ErrUnknownEvent = errors.New("unknown event signature")

// Kind discriminates the decoded event union.
type Kind int

const (
	KindLock Kind = iota + 1
	KindAddLiquidity
	KindRemoveLiquidity
	KindBridgeSwapIn
)

// String returns the event name for logging.
func (k Kind) String() string {
	switch k {
	case KindLock:
		return "Lock"
	case KindAddLiquidity:
		return "AddLiquidity"
	case KindRemoveLiquidity:
		return "DecLiquidity"
	case KindBridgeSwapIn:
		return "mapSwapIn"
	default:
		return "Unknown"
	}
}

// LockFields carries a decoded Lock event.
type LockFields struct {
	User   common.Address
	Amount *big.Int
	Token  common.Address
	LToken common.Address
}

// LiquidityFields carries a decoded AddLiquidity or DecLiquidity event.
// The tagged Kind on the enclosing Event tells the direction.
type LiquidityFields struct {
	NFTID          *big.Int
	PoolID         *big.Int
	LiquidityDelta *big.Int
	AmountX        *big.Int
	AmountY        *big.Int

	// Enrichment fields, filled by the indexer after decoding. The log
	// itself carries neither the originating sender nor the pool pair.
	Sender common.Address
	TokenX common.Address
	TokenY common.Address
	Valid  bool
}

// BridgeFields carries a decoded mapSwapIn event.
type BridgeFields struct {
	FromChain *big.Int
	ToChain   *big.Int
	OrderID   common.Hash
	Token     common.Address
	From      []byte
	ToAddress common.Address
	AmountOut *big.Int
}

// Event is the tagged union over the four tracked event kinds. Exactly one
// of the pointer fields matching Kind is non-nil.
type Event struct {
	Kind        Kind
	TxHash      common.Hash
	LogIndex    uint
	BlockNumber uint64

	Lock      *LockFields
	Liquidity *LiquidityFields
	Bridge    *BridgeFields
}

// ID returns the stable dedup key for the event: txHash-logIndex.
func (e *Event) ID() string {
	return fmt.Sprintf("%s-%d", e.TxHash.Hex(), e.LogIndex)
}

// Decoder holds the parsed ABIs and the topic dispatch table.
type Decoder struct {
	stake     abi.ABI
	liquidity abi.ABI
	bridge    abi.ABI

	lockTopic   common.Hash
	addTopic    common.Hash
	decTopic    common.Hash
	swapInTopic common.Hash
}

// New parses the contract ABIs and builds the topic table. It fails when an
// expected event is missing from an ABI; that is a deployment mismatch that
// cannot self-heal and must halt startup.
func New() (*Decoder, error) {
	d := &Decoder{}

	var err error
	if d.stake, err = abi.JSON(strings.NewReader(stakeABI)); err != nil {
		return nil, fmt.Errorf("parsing stake ABI: %w", err)
	}
	if d.liquidity, err = abi.JSON(strings.NewReader(liquidityABI)); err != nil {
		return nil, fmt.Errorf("parsing liquidity ABI: %w", err)
	}
	if d.bridge, err = abi.JSON(strings.NewReader(bridgeABI)); err != nil {
		return nil, fmt.Errorf("parsing bridge ABI: %w", err)
	}

	for _, ev := range []struct {
		contract *abi.ABI
		name     string
		topic    *common.Hash
	}{
		{&d.stake, "Lock", &d.lockTopic},
		{&d.liquidity, "AddLiquidity", &d.addTopic},
		{&d.liquidity, "DecLiquidity", &d.decTopic},
		{&d.bridge, "mapSwapIn", &d.swapInTopic},
	} {
		event, ok := ev.contract.Events[ev.name]
		if !ok {
			return nil, fmt.Errorf("event %s not found in ABI", ev.name)
		}
		*ev.topic = event.ID
	}

	return d, nil
}

// LockTopic returns the Lock event topic hash.
func (d *Decoder) LockTopic() common.Hash { return d.lockTopic }

// AddLiquidityTopic returns the AddLiquidity event topic hash.
func (d *Decoder) AddLiquidityTopic() common.Hash { return d.addTopic }

// DecLiquidityTopic returns the DecLiquidity event topic hash.
func (d *Decoder) DecLiquidityTopic() common.Hash { return d.decTopic }

// SwapInTopic returns the mapSwapIn event topic hash.
func (d *Decoder) SwapInTopic() common.Hash { return d.swapInTopic }

// CanDecode reports whether the log's signature is a tracked event.
func (d *Decoder) CanDecode(log types.Log) bool {
	if len(log.Topics) == 0 {
		return false
	}
	switch log.Topics[0] {
	case d.lockTopic, d.addTopic, d.decTopic, d.swapInTopic:
		return true
	}
	return false
}

// Decode parses a raw log into a typed event. Logs with foreign signatures
// return ErrUnknownEvent; malformed data for a known signature returns a
// decode error. Both are skip conditions for the indexer, never crashes.
func (d *Decoder) Decode(log types.Log) (*Event, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("decode: log has no topics: %w", ErrUnknownEvent)
	}

	ev := &Event{
		TxHash:      log.TxHash,
		LogIndex:    log.Index,
		BlockNumber: log.BlockNumber,
	}

	switch log.Topics[0] {
	case d.lockTopic:
		fields, err := d.decodeLock(log)
		if err != nil {
			return nil, err
		}
		ev.Kind = KindLock
		ev.Lock = fields
	case d.addTopic:
		fields, err := d.decodeLiquidity("AddLiquidity", log)
		if err != nil {
			return nil, err
		}
		ev.Kind = KindAddLiquidity
		ev.Liquidity = fields
	case d.decTopic:
		fields, err := d.decodeLiquidity("DecLiquidity", log)
		if err != nil {
			return nil, err
		}
		ev.Kind = KindRemoveLiquidity
		ev.Liquidity = fields
	case d.swapInTopic:
		fields, err := d.decodeSwapIn(log)
		if err != nil {
			return nil, err
		}
		ev.Kind = KindBridgeSwapIn
		ev.Bridge = fields
	default:
		return nil, ErrUnknownEvent
	}

	return ev, nil
}

func (d *Decoder) decodeLock(log types.Log) (*LockFields, error) {
	if len(log.Topics) < 2 {
		return nil, fmt.Errorf("decoding Lock: missing indexed user topic")
	}

	data := map[string]interface{}{}
	if err := d.stake.UnpackIntoMap(data, "Lock", log.Data); err != nil {
		return nil, fmt.Errorf("decoding Lock data: %w", err)
	}

	amount, ok := data["amount"].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("decoding Lock: amount is not uint256")
	}
	token, ok := data["token"].(common.Address)
	if !ok {
		return nil, fmt.Errorf("decoding Lock: token is not address")
	}
	lToken, ok := data["lToken"].(common.Address)
	if !ok {
		return nil, fmt.Errorf("decoding Lock: lToken is not address")
	}

	return &LockFields{
		User:   common.BytesToAddress(log.Topics[1].Bytes()),
		Amount: amount,
		Token:  token,
		LToken: lToken,
	}, nil
}

func (d *Decoder) decodeLiquidity(name string, log types.Log) (*LiquidityFields, error) {
	if len(log.Topics) < 2 {
		return nil, fmt.Errorf("decoding %s: missing indexed nftId topic", name)
	}

	data := map[string]interface{}{}
	if err := d.liquidity.UnpackIntoMap(data, name, log.Data); err != nil {
		return nil, fmt.Errorf("decoding %s data: %w", name, err)
	}

	fields := &LiquidityFields{
		NFTID: new(big.Int).SetBytes(log.Topics[1].Bytes()),
	}
	for _, f := range []struct {
		key string
		dst **big.Int
	}{
		{"pool", &fields.PoolID},
		{"liquidityDelta", &fields.LiquidityDelta},
		{"amountX", &fields.AmountX},
		{"amountY", &fields.AmountY},
	} {
		v, ok := data[f.key].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("decoding %s: %s is not an integer", name, f.key)
		}
		*f.dst = v
	}

	return fields, nil
}

func (d *Decoder) decodeSwapIn(log types.Log) (*BridgeFields, error) {
	if len(log.Topics) < 4 {
		return nil, fmt.Errorf("decoding mapSwapIn: missing indexed topics")
	}

	data := map[string]interface{}{}
	if err := d.bridge.UnpackIntoMap(data, "mapSwapIn", log.Data); err != nil {
		return nil, fmt.Errorf("decoding mapSwapIn data: %w", err)
	}

	token, ok := data["token"].(common.Address)
	if !ok {
		return nil, fmt.Errorf("decoding mapSwapIn: token is not address")
	}
	from, ok := data["from"].([]byte)
	if !ok {
		return nil, fmt.Errorf("decoding mapSwapIn: from is not bytes")
	}
	toAddress, ok := data["toAddress"].(common.Address)
	if !ok {
		return nil, fmt.Errorf("decoding mapSwapIn: toAddress is not address")
	}
	amountOut, ok := data["amountOut"].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("decoding mapSwapIn: amountOut is not uint256")
	}

	return &BridgeFields{
		FromChain: new(big.Int).SetBytes(log.Topics[1].Bytes()),
		ToChain:   new(big.Int).SetBytes(log.Topics[2].Bytes()),
		OrderID:   log.Topics[3],
		Token:     token,
		From:      from,
		ToAddress: toAddress,
		AmountOut: amountOut,
	}, nil
}

// PoolMetasCalldata encodes the poolMetas(poolId) view call used to resolve
// a pool id into its token pair.
func (d *Decoder) PoolMetasCalldata(poolID *big.Int) ([]byte, error) {
	calldata, err := d.liquidity.Pack("poolMetas", poolID)
	if err != nil {
		return nil, fmt.Errorf("encoding poolMetas calldata: %w", err)
	}
	return calldata, nil
}

// UnpackPoolMetas decodes a poolMetas return payload into the token pair.
func (d *Decoder) UnpackPoolMetas(ret []byte) (tokenX, tokenY common.Address, err error) {
	out, err := d.liquidity.Unpack("poolMetas", ret)
	if err != nil {
		return common.Address{}, common.Address{}, fmt.Errorf("decoding poolMetas return: %w", err)
	}
	if len(out) < 2 {
		return common.Address{}, common.Address{}, fmt.Errorf("decoding poolMetas return: short output")
	}
	tokenX, okX := out[0].(common.Address)
	tokenY, okY := out[1].(common.Address)
	if !okX || !okY {
		return common.Address{}, common.Address{}, fmt.Errorf("decoding poolMetas return: outputs are not addresses")
	}
	return tokenX, tokenY, nil
}
