// Package tokens holds the static token registry: addresses, USD prices
// and the allow-lists consumed by the indexer and the accrual job.
package tokens

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Token is a tracked ERC20 token.
type Token struct {
	// Address is the lowercase hex contract address.
	Address string

	// Symbol is the display symbol.
	Symbol string
}

// Tracked tokens on MAP Protocol mainnet.
var (
	WMAPO   = Token{Address: "0x13cb04d4a5dfb6398fc5ab005a6c84337256ee23", Symbol: "WMAPO"}
	BTC     = Token{Address: "0xb877e3562a660c7861117c2f1361a26abaf19beb", Symbol: "BTC"}
	MBTC    = Token{Address: "0x1d22c0ab633f393c84a98cf4f2fad10ba47bb7b3", Symbol: "M-BTC"}
	SolvBTC = Token{Address: "0x7eb8b1fe3ee3287fd5864e50f32322ce3285b39d", Symbol: "SolvBTC"}
	USDT    = Token{Address: "0x33daba9618a75a7aff103e53afe530fbacf4a3dd", Symbol: "USDT"}
	IUSD    = Token{Address: "0x61899ce1396ff351e5fdb9c8ad36fee9411c73c2", Symbol: "iUSD"}
	ETH     = Token{Address: "0x05ab928d446d8ce6761e368c8e7be03c3168a9ec", Symbol: "ETH"}
	LSGS    = Token{Address: "0x756af1d3810a01d3292fad62f295bbcc6c200aea", Symbol: "LSGS"}
	StMAPO  = Token{Address: "0x9bd1e0a3a727d0d4f4e9a6d59022e071ddc79924", Symbol: "stMAPO"}
	STST    = Token{Address: "0xf5a59f961a8e86285dae2e45ac4ae50e4e47ba97", Symbol: "STST"}
	ROUP    = Token{Address: "0x5a1c3f3aae616146c7b9bf9763e0aba9bafc5eae", Symbol: "ROUP"}
	FOX2    = Token{Address: "0x1ddecb7126028ea347408edef9d218f74b226d22", Symbol: "FOX2"}
	EEAA    = Token{Address: "0x040a66ed7def1c037c5c9848bc5d44dcd3b0fc62", Symbol: "EEAA"}
	MERL    = Token{Address: "0xbe5331d2c6fbf1799ac3bff6f7cc606cefb816d8", Symbol: "MERL"}
	MIRK    = Token{Address: "0x8dfaad2ecd2a46e892a1f5b76ba5a0571014abfd", Symbol: "MIRK"}
)

// priceUSD is the static token price table. Prices are pinned rather than
// fetched; reproducible accrual totals matter more than live pricing here.
var priceUSD = map[string]decimal.Decimal{
	WMAPO.Address:   decimal.RequireFromString("0.031"),
	BTC.Address:     decimal.RequireFromString("66611"),
	MBTC.Address:    decimal.RequireFromString("66611"),
	SolvBTC.Address: decimal.RequireFromString("66611"),
	USDT.Address:    decimal.RequireFromString("1"),
	IUSD.Address:    decimal.RequireFromString("1"),
	ETH.Address:     decimal.RequireFromString("3543.96"),
	StMAPO.Address:  decimal.RequireFromString("0.031"),
	ROUP.Address:    decimal.RequireFromString("0.0023332"),
	STST.Address:    decimal.RequireFromString("0.05495"),
	LSGS.Address:    decimal.RequireFromString("0.000151"),
	FOX2.Address:    decimal.RequireFromString("0.02532"),
	EEAA.Address:    decimal.RequireFromString("0.000134"),
	MERL.Address:    decimal.RequireFromString("1.3"),
	MIRK.Address:    decimal.RequireFromString("0.048"),
}

// activeOneSided lists the tokens accepted on the non-zero side of a
// one-sided liquidity deposit. Restricted to liquid BTC-pegged collateral
// so zero-value pairs cannot game the accrual.
var activeOneSided = map[string]struct{}{
	BTC.Address:     {},
	MBTC.Address:    {},
	SolvBTC.Address: {},
}

// supportedBridge lists tokens credited on bridge swap-in.
var supportedBridge = map[string]struct{}{
	BTC.Address:     {},
	MBTC.Address:    {},
	SolvBTC.Address: {},
	IUSD.Address:    {},
}

// Normalize lowercases a hex address for use as a map key.
func Normalize(addr string) string {
	return strings.ToLower(addr)
}

// PriceUSD returns the pinned USD price for a token address.
//
// Returns:
//   - decimal.Decimal: the price, zero if unknown
//   - bool: true if the token is priced
func PriceUSD(addr string) (decimal.Decimal, bool) {
	p, ok := priceUSD[Normalize(addr)]
	return p, ok
}

// IsPriced reports whether a token has a pinned USD price.
func IsPriced(addr string) bool {
	_, ok := priceUSD[Normalize(addr)]
	return ok
}

// IsActiveOneSided reports whether a token may carry a one-sided deposit.
func IsActiveOneSided(addr string) bool {
	_, ok := activeOneSided[Normalize(addr)]
	return ok
}

// IsSupportedBridge reports whether a bridge swap-in token earns points.
func IsSupportedBridge(addr string) bool {
	_, ok := supportedBridge[Normalize(addr)]
	return ok
}

// ValidLiquidity applies the one-sided deposit rule: a liquidity event
// counts when both sides are non-zero, or when exactly one side is zero
// and the non-zero side's token is in the active one-sided set.
func ValidLiquidity(tokenX, tokenY string, amountX, amountY *big.Int) bool {
	xZero := amountX == nil || amountX.Sign() == 0
	yZero := amountY == nil || amountY.Sign() == 0

	switch {
	case !xZero && !yZero:
		return true
	case xZero && yZero:
		return false
	case xZero:
		return IsActiveOneSided(tokenY)
	default:
		return IsActiveOneSided(tokenX)
	}
}
