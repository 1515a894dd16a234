package mock

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Config bounds the synthetic outcomes.
type Config struct {
	MinDelay time.Duration
	MaxDelay time.Duration

	MinRefund decimal.Decimal
	MaxRefund decimal.Decimal

	CodePrefix string
}

func DefaultConfig() Config {
	return Config{
		MinDelay:   5 * time.Second,
		MaxDelay:   10 * time.Second,
		MinRefund:  decimal.NewFromInt(10),
		MaxRefund:  decimal.NewFromInt(30),
		CodePrefix: "REF",
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	out := c
	if out.MinDelay < 0 {
		out.MinDelay = 0
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = def.MaxDelay
	}
	if out.MinDelay > out.MaxDelay {
		out.MinDelay = out.MaxDelay
	}
	if out.MinRefund.IsZero() && out.MaxRefund.IsZero() {
		out.MinRefund, out.MaxRefund = def.MinRefund, def.MaxRefund
	}
	if out.MinRefund.GreaterThan(out.MaxRefund) {
		out.MinRefund = out.MaxRefund
	}
	if out.CodePrefix == "" {
		out.CodePrefix = def.CodePrefix
	}
	return out
}

// Generator draws delays and outcomes. Safe for concurrent use.
type Generator struct {
	cfg   Config
	clock func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewGenerator(cfg Config, seed int64) *Generator {
	return &Generator{
		cfg:   cfg.withDefaults(),
		clock: time.Now,
		rnd:   rand.New(rand.NewSource(seed)),
	}
}

func (g *Generator) Config() Config { return g.cfg }

// Delay is uniform in [MinDelay, MaxDelay].
func (g *Generator) Delay() time.Duration {
	span := int64(g.cfg.MaxDelay - g.cfg.MinDelay)
	if span <= 0 {
		return g.cfg.MinDelay
	}
	g.mu.Lock()
	n := g.rnd.Int63n(span + 1)
	g.mu.Unlock()
	return g.cfg.MinDelay + time.Duration(n)
}

// Outcome returns a refund uniform in [MinRefund, MaxRefund] at cent
// precision and a code shaped PREFIX-YYYY-NNN.
func (g *Generator) Outcome() (decimal.Decimal, string) {
	minCents := g.cfg.MinRefund.Shift(2).Round(0).IntPart()
	maxCents := g.cfg.MaxRefund.Shift(2).Round(0).IntPart()

	g.mu.Lock()
	cents := minCents
	if maxCents > minCents {
		cents += g.rnd.Int63n(maxCents - minCents + 1)
	}
	seq := g.rnd.Intn(1000)
	g.mu.Unlock()

	code := fmt.Sprintf("%s-%d-%03d", g.cfg.CodePrefix, g.clock().Year(), seq)
	return decimal.New(cents, -2), code
}
