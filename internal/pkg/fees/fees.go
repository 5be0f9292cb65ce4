package fees

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	// PolicyBlockFlat charges a flat fee per completed threshold block.
	PolicyBlockFlat = "block_flat"
	// PolicyBasisPoints charges a percentage of gross once the threshold is reached.
	PolicyBasisPoints = "bps_percentage"

	DefaultThresholdCents   int64 = 5000
	DefaultFeePerBlockCents int64 = 333
	DefaultRateBps          int64 = 330
)

var (
	ErrNegativeGross = errors.New("gross amount must not be negative")
	ErrUnknownPolicy = errors.New("unknown fee policy")
	ErrInvalidPolicy = errors.New("invalid fee policy parameters")
)

// Result is the outcome of applying a fee policy to a gross amount.
// It is always recomputed and never stored on its own.
type Result struct {
	PlatformFeeCents   int64 `json:"platformFeeCents"`
	PayoutCents        int64 `json:"payoutCents"`
	ThresholdReached   bool  `json:"thresholdReached"`
	PlatformFeeRateBps int64 `json:"platformFeeRateBps"`
}

// Policy maps gross cents to platform fee and payout cents.
type Policy interface {
	Name() string
	Compute(grossCents int64) (Result, error)
}

// Config carries the tunables for every known policy.
type Config struct {
	ThresholdCents   int64
	FeePerBlockCents int64
	RateBps          int64
}

// DefaultConfig returns the canonical constants.
func DefaultConfig() Config {
	return Config{
		ThresholdCents:   DefaultThresholdCents,
		FeePerBlockCents: DefaultFeePerBlockCents,
		RateBps:          DefaultRateBps,
	}
}

// New resolves a policy by name. An empty name selects block_flat.
// Zero values in cfg fall back to the canonical constants.
func New(name string, cfg Config) (Policy, error) {
	if cfg.ThresholdCents <= 0 {
		cfg.ThresholdCents = DefaultThresholdCents
	}
	if cfg.FeePerBlockCents == 0 {
		cfg.FeePerBlockCents = DefaultFeePerBlockCents
	}
	if cfg.RateBps == 0 {
		cfg.RateBps = DefaultRateBps
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyBlockFlat:
		perBlock := cfg.FeePerBlockCents
		if perBlock < 0 {
			return nil, fmt.Errorf("fee per block must not be negative: %d", perBlock)
		}
		return BlockFlat{ThresholdCents: cfg.ThresholdCents, FeePerBlockCents: perBlock}, nil
	case PolicyBasisPoints:
		if cfg.RateBps < 0 || cfg.RateBps > 10000 {
			return nil, fmt.Errorf("fee rate must be within 0..10000 bps: %d", cfg.RateBps)
		}
		return BasisPoints{ThresholdCents: cfg.ThresholdCents, RateBps: cfg.RateBps}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
}

// Default returns the block-flat policy with the canonical constants.
func Default() Policy {
	return BlockFlat{ThresholdCents: DefaultThresholdCents, FeePerBlockCents: DefaultFeePerBlockCents}
}

// BlockFlat charges FeePerBlockCents for every full ThresholdCents block.
// The remainder below the last full block is never charged.
type BlockFlat struct {
	ThresholdCents   int64
	FeePerBlockCents int64
}

func (p BlockFlat) Name() string { return PolicyBlockFlat }

func (p BlockFlat) Compute(grossCents int64) (Result, error) {
	if grossCents < 0 {
		return Result{}, ErrNegativeGross
	}
	if p.ThresholdCents <= 0 {
		return Result{}, fmt.Errorf("%w: block threshold %d", ErrInvalidPolicy, p.ThresholdCents)
	}
	if grossCents < p.ThresholdCents {
		return Result{PayoutCents: grossCents}, nil
	}
	blocks := grossCents / p.ThresholdCents
	fee := blocks * p.FeePerBlockCents
	return Result{
		PlatformFeeCents:   fee,
		PayoutCents:        grossCents - fee,
		ThresholdReached:   true,
		PlatformFeeRateBps: RateBps(fee, grossCents),
	}, nil
}

// BasisPoints charges RateBps of the whole gross once ThresholdCents is reached.
type BasisPoints struct {
	ThresholdCents int64
	RateBps        int64
}

func (p BasisPoints) Name() string { return PolicyBasisPoints }

func (p BasisPoints) Compute(grossCents int64) (Result, error) {
	if grossCents < 0 {
		return Result{}, ErrNegativeGross
	}
	if grossCents < p.ThresholdCents {
		return Result{PayoutCents: grossCents}, nil
	}
	fee := grossCents * p.RateBps / 10000
	return Result{
		PlatformFeeCents:   fee,
		PayoutCents:        grossCents - fee,
		ThresholdReached:   true,
		PlatformFeeRateBps: RateBps(fee, grossCents),
	}, nil
}

// RateBps returns fee/gross in basis points, rounded half away from zero.
func RateBps(feeCents, grossCents int64) int64 {
	if grossCents == 0 {
		return 0
	}
	return int64(math.Round(float64(feeCents) / float64(grossCents) * 10000))
}
