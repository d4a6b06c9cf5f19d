package pool

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/vitos/lp_lending_risk/internal/domain"
)

// Config describes the random LP position pool.
type Config struct {
	Size           int     `yaml:"size"`
	MinFunding     float64 `yaml:"min_funding"`
	MaxFunding     float64 `yaml:"max_funding"`
	MinBaseShare   float64 `yaml:"min_base_share"`
	MaxBaseShare   float64 `yaml:"max_base_share"`
	MinRangeWidth  float64 `yaml:"min_range_width"`
	MaxRangeWidth  float64 `yaml:"max_range_width"`
	ReferencePrice float64 `yaml:"reference_price"`
	IDPrefix       string  `yaml:"id_prefix"`
	Seed           uint64  `yaml:"seed"`
}

func DefaultConfig() Config {
	return Config{
		Size:           500,
		MinFunding:     6000,
		MaxFunding:     10000,
		MinBaseShare:   0.3,
		MaxBaseShare:   0.7,
		MinRangeWidth:  0.10,
		MaxRangeWidth:  0.60,
		ReferencePrice: 2500,
		IDPrefix:       "id#",
		Seed:           42,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Size <= 0:
		return fmt.Errorf("pool size must be positive, got %d", c.Size)
	case c.MinFunding <= 0 || c.MaxFunding < c.MinFunding:
		return fmt.Errorf("invalid funding range [%v, %v]", c.MinFunding, c.MaxFunding)
	case c.MinBaseShare <= 0 || c.MaxBaseShare >= 1 || c.MaxBaseShare < c.MinBaseShare:
		return fmt.Errorf("base share range [%v, %v] must lie in (0, 1)", c.MinBaseShare, c.MaxBaseShare)
	case c.MinRangeWidth <= 0 || c.MaxRangeWidth >= 1 || c.MaxRangeWidth < c.MinRangeWidth:
		return fmt.Errorf("range width bounds [%v, %v] must lie in (0, 1)", c.MinRangeWidth, c.MaxRangeWidth)
	case c.ReferencePrice <= 0:
		return fmt.Errorf("reference price must be positive, got %v", c.ReferencePrice)
	}
	return nil
}

// RandomPool generates a reproducible pool: the same Config always yields
// the same positions.
type RandomPool struct {
	cfg Config
}

func NewRandomPool(cfg Config) *RandomPool {
	return &RandomPool{cfg: cfg}
}

func (p *RandomPool) Positions(ctx context.Context) ([]*domain.Position, error) {
	if err := p.cfg.Validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(p.cfg.Seed, p.cfg.Seed^0x9e3779b97f4a7c15))
	positions := make([]*domain.Position, 0, p.cfg.Size)

	for i := 0; i < p.cfg.Size; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		funding := uniform(rng, p.cfg.MinFunding, p.cfg.MaxFunding)
		share := uniform(rng, p.cfg.MinBaseShare, p.cfg.MaxBaseShare)
		width := uniform(rng, p.cfg.MinRangeWidth, p.cfg.MaxRangeWidth)

		baseMax := funding * share / p.cfg.ReferencePrice
		quoteMax := funding * (1 - share)

		pos, err := domain.NewPosition(fmt.Sprintf("%s%d", p.cfg.IDPrefix, i), baseMax, quoteMax, width)
		if err != nil {
			return nil, fmt.Errorf("position %d: %w", i, err)
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}
