package pumpfun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	solanago "github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/rpc"
)

var (
	ErrUnknownMint    = errors.New("no bonding curve registered for mint")
	ErrAmountTooSmall = errors.New("buy amount yields no tokens")
)

// BuyRequest asks for the instructions of one purchase.
type BuyRequest struct {
	Buyer       solanago.PublicKey
	Mint        solanago.PublicKey
	Lamports    uint64
	SlippageBps uint64
	Commitment  rpc.CommitmentType
}

// CreateRequest asks for the instructions that create a token and make the
// creator's first purchase.
type CreateRequest struct {
	Creator     solanago.PublicKey
	Mint        solanago.PublicKey
	Name        string
	Symbol      string
	URI         string
	Lamports    uint64
	SlippageBps uint64
	Commitment  rpc.CommitmentType
}

// Encoder produces pump.fun instructions against a simulated curve per mint.
// The curve does not exist on chain until the bundle lands, so quotes are
// computed locally in bundle order.
type Encoder struct {
	mu     sync.Mutex
	curves map[solanago.PublicKey]*Curve
	logger *slog.Logger
}

// NewEncoder creates an Encoder with no registered curves.
func NewEncoder(logger *slog.Logger) *Encoder {
	return &Encoder{
		curves: make(map[solanago.PublicKey]*Curve),
		logger: logger,
	}
}

// CreateAndBuyInstructions returns create, the creator's token account and
// the dev buy. Any previous curve for the mint is replaced.
func (e *Encoder) CreateAndBuyInstructions(ctx context.Context, req CreateRequest) ([]solanago.Instruction, error) {
	create, err := createInstruction(req.Creator, req.Mint, req.Name, req.Symbol, req.URI)
	if err != nil {
		return nil, fmt.Errorf("encode create: %w", err)
	}

	e.mu.Lock()
	curve := NewCurve(req.Creator)
	e.curves[req.Mint] = curve
	e.mu.Unlock()

	ixs := []solanago.Instruction{create}
	if req.Lamports == 0 {
		return ixs, nil
	}

	buy, err := e.BuyInstructions(ctx, BuyRequest{
		Buyer:       req.Creator,
		Mint:        req.Mint,
		Lamports:    req.Lamports,
		SlippageBps: req.SlippageBps,
		Commitment:  req.Commitment,
	})
	if err != nil {
		return nil, fmt.Errorf("encode dev buy: %w", err)
	}
	return append(ixs, buy...), nil
}

// BuyInstructions returns the buyer's token account creation and the buy.
func (e *Encoder) BuyInstructions(ctx context.Context, req BuyRequest) ([]solanago.Instruction, error) {
	e.mu.Lock()
	curve, ok := e.curves[req.Mint]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownMint, req.Mint)
	}
	tokens := curve.Buy(req.Lamports)
	creator := curve.Creator
	e.mu.Unlock()

	if tokens == 0 {
		return nil, fmt.Errorf("%w: %d lamports", ErrAmountTooSmall, req.Lamports)
	}
	maxCost := MaxCost(req.Lamports, req.SlippageBps)

	buy, err := buyInstruction(req.Buyer, req.Mint, creator, tokens, maxCost)
	if err != nil {
		return nil, fmt.Errorf("encode buy: %w", err)
	}
	ata := associatedtokenaccount.NewCreateInstruction(req.Buyer, req.Buyer, req.Mint).Build()

	e.logger.DebugContext(ctx, "encoded buy",
		"buyer", req.Buyer.String(),
		"mint", req.Mint.String(),
		"lamports", req.Lamports,
		"tokens", tokens,
		"max_sol_cost", maxCost,
		"commitment", req.Commitment,
	)
	return []solanago.Instruction{ata, buy}, nil
}

// Curve returns a copy of the simulated curve for mint.
func (e *Encoder) Curve(mint solanago.PublicKey) (Curve, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.curves[mint]
	if !ok {
		return Curve{}, false
	}
	return *c, true
}
