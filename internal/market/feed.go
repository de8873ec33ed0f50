package market

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"tradedesk/internal/domain"
)

const (
	defaultInterval  = time.Second
	subscriberBuffer = 64
)

// defaultSeeds is the synthetic universe when no symbols are configured.
var defaultSeeds = map[string]float64{
	"US30":   44100,
	"NAS100": 20150,
	"XAUUSD": 2400,
	"EURUSD": 1.085,
}

// Feed produces a synthetic tick stream by random walk and fans it out to
// subscribers. The last tick per symbol is cached so snapshot reads never
// wait on the stream. Slow subscribers lose ticks, they are never blocked on.
type Feed struct {
	mu     sync.RWMutex
	last   map[string]domain.Tick
	prices map[string]float64
	subs   map[int]chan domain.Tick
	nextID int

	symbols  []string
	interval time.Duration
	rng      *rand.Rand
	logger   *slog.Logger
}

type FeedConfig struct {
	Seeds    map[string]float64 // symbol -> starting price
	Interval time.Duration
	Seed     int64 // rng seed, 0 means time-based
	Logger   *slog.Logger
}

func NewFeed(cfg FeedConfig) *Feed {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	seeds := cfg.Seeds
	if len(seeds) == 0 {
		seeds = defaultSeeds
	}
	rngSeed := cfg.Seed
	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}

	f := &Feed{
		last:     make(map[string]domain.Tick, len(seeds)),
		prices:   make(map[string]float64, len(seeds)),
		subs:     make(map[int]chan domain.Tick),
		interval: cfg.Interval,
		rng:      rand.New(rand.NewSource(rngSeed)),
		logger:   cfg.Logger,
	}
	for sym, price := range seeds {
		f.symbols = append(f.symbols, sym)
		f.prices[sym] = price
		f.setLast(makeTick(sym, price, time.Now().UTC()))
	}
	return f
}

// SeedsFor builds a seed map for the given symbols. Symbols outside the
// default universe start at a nominal price so an unknown instrument still
// produces a walk instead of an error.
func SeedsFor(symbols []string) map[string]float64 {
	if len(symbols) == 0 {
		return nil
	}
	seeds := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		price, ok := defaultSeeds[sym]
		if !ok {
			price = 100
		}
		seeds[sym] = price
	}
	return seeds
}

// Run generates ticks until the context is cancelled. Call it from its own
// goroutine; Subscribe and Last are safe to use while it runs.
func (f *Feed) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.logger.Info("market feed started", "symbols", len(f.symbols), "interval", f.interval)
	for {
		select {
		case <-ctx.Done():
			f.logger.Info("market feed stopped")
			return
		case now := <-ticker.C:
			f.step(now.UTC())
		}
	}
}

// step advances every symbol's walk by one tick and publishes the results.
func (f *Feed) step(now time.Time) {
	f.mu.Lock()
	ticks := make([]domain.Tick, 0, len(f.symbols))
	for _, sym := range f.symbols {
		price := f.prices[sym]
		// Random walk, +-0.05% per step.
		price *= 1 + (f.rng.Float64()-0.5)*0.001
		f.prices[sym] = price

		tick := makeTick(sym, price, now)
		f.last[sym] = tick
		ticks = append(ticks, tick)
	}
	subs := make([]chan domain.Tick, 0, len(f.subs))
	for _, ch := range f.subs {
		subs = append(subs, ch)
	}
	f.mu.Unlock()

	for _, tick := range ticks {
		for _, ch := range subs {
			select {
			case ch <- tick:
			default:
				// Subscriber is behind; drop rather than stall the walk.
			}
		}
	}
}

func makeTick(sym string, mid float64, now time.Time) domain.Tick {
	// Half a basis point either side of mid.
	spread := mid * 0.00005
	return domain.Tick{
		Symbol:    sym,
		Bid:       mid - spread,
		Ask:       mid + spread,
		Last:      mid,
		Timestamp: now,
	}
}

func (f *Feed) setLast(t domain.Tick) {
	f.mu.Lock()
	f.last[t.Symbol] = t
	f.mu.Unlock()
}

// Subscribe registers a tick channel. The returned cancel func must be
// called when the subscriber goes away or its slot leaks.
func (f *Feed) Subscribe() (<-chan domain.Tick, func()) {
	ch := make(chan domain.Tick, subscriberBuffer)

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
	return ch, cancel
}

// Last returns the most recent tick for a symbol.
func (f *Feed) Last(symbol string) (domain.Tick, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.last[symbol]
	return t, ok
}

// Snapshot returns the last tick for every symbol.
func (f *Feed) Snapshot() map[string]domain.Tick {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]domain.Tick, len(f.last))
	for sym, t := range f.last {
		out[sym] = t
	}
	return out
}

// Symbols returns the configured universe.
func (f *Feed) Symbols() []string {
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out
}
