package pumpfun

import (
	"math/big"

	solanago "github.com/gagliardetto/solana-go"
)

// Initial reserves of a freshly created bonding curve.
const (
	InitialVirtualTokenReserves uint64 = 1_073_000_000_000_000
	InitialVirtualSolReserves   uint64 = 30_000_000_000
	InitialRealTokenReserves    uint64 = 793_100_000_000_000
)

// Curve is a simulated constant product bonding curve. Buys inside one bundle
// land in order, so each quote moves the reserves for the next one.
type Curve struct {
	Creator              solanago.PublicKey
	VirtualTokenReserves uint64
	VirtualSolReserves   uint64
	RealTokenReserves    uint64
}

// NewCurve returns a curve with the program's initial reserves.
func NewCurve(creator solanago.PublicKey) *Curve {
	return &Curve{
		Creator:              creator,
		VirtualTokenReserves: InitialVirtualTokenReserves,
		VirtualSolReserves:   InitialVirtualSolReserves,
		RealTokenReserves:    InitialRealTokenReserves,
	}
}

// Quote returns how many tokens lamports buys without moving the curve.
func (c *Curve) Quote(lamports uint64) uint64 {
	if lamports == 0 {
		return 0
	}
	vt := new(big.Int).SetUint64(c.VirtualTokenReserves)
	vs := new(big.Int).SetUint64(c.VirtualSolReserves)
	in := new(big.Int).SetUint64(lamports)

	// tokens = vt - vt*vs/(vs+in)
	k := new(big.Int).Mul(vt, vs)
	denom := new(big.Int).Add(vs, in)
	remaining := new(big.Int).Div(k, denom)
	remaining.Add(remaining, big.NewInt(1))
	out := new(big.Int).Sub(vt, remaining)
	if out.Sign() <= 0 {
		return 0
	}

	tokens := out.Uint64()
	return min(tokens, c.RealTokenReserves)
}

// Buy quotes lamports and applies the trade to the reserves.
func (c *Curve) Buy(lamports uint64) uint64 {
	tokens := c.Quote(lamports)
	c.VirtualTokenReserves -= tokens
	c.RealTokenReserves -= tokens
	c.VirtualSolReserves += lamports
	return tokens
}

// MaxCost returns lamports plus the slippage allowance in basis points.
func MaxCost(lamports uint64, slippageBps uint64) uint64 {
	cost := new(big.Int).SetUint64(lamports)
	extra := new(big.Int).Mul(cost, new(big.Int).SetUint64(slippageBps))
	extra.Div(extra, big.NewInt(10_000))
	cost.Add(cost, extra)
	if !cost.IsUint64() {
		return ^uint64(0)
	}
	return cost.Uint64()
}
