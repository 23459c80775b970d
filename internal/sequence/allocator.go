// Package sequence hands out unique, increasing identifiers from named
// persisted counters.
//
// Identifiers come from a single atomic increment in the counter store.
// When the store is unreachable and fallback is enabled, Next returns a
// degraded identifier instead: wall-clock milliseconds plus a random suffix,
// offset into a reserved range above FallbackFloor. Degraded identifiers are
// not guaranteed unique, are always logged at warning level, and can be
// recognised later with IsFallback for reconciliation.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/lewtec/marcador/internal/domain"
	"github.com/lewtec/marcador/internal/metrics"
)

// FallbackFloor is the lower bound of the range reserved for degraded
// identifiers. Counters never reach it in practice, so the two spaces are disjoint.
const FallbackFloor int64 = 1 << 62

// ErrFallbackDisabled is returned alongside the storage error when the
// counter store fails and degraded identifiers are not allowed.
var ErrFallbackDisabled = errors.New("sequence fallback disabled")

// IsFallback reports whether id was produced by the degraded generator
func IsFallback(id int64) bool {
	return id >= FallbackFloor
}

// Options configures an Allocator
type Options struct {
	// FallbackEnabled allows Next to return degraded identifiers on
	// transient storage errors
	FallbackEnabled bool
	Logger          *slog.Logger
	Metrics         *metrics.Metrics

	now  func() time.Time
	rand func() int64
}

// Allocator mints identifiers from a domain.CounterRepository
type Allocator struct {
	counters domain.CounterRepository
	records  domain.RecordRepository
	opts     Options
	instance string
	log      *slog.Logger
}

// New creates an Allocator. records is only needed by Bootstrap and may be nil.
func New(counters domain.CounterRepository, records domain.RecordRepository, opts Options) *Allocator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	if opts.rand == nil {
		opts.rand = func() int64 { return 100 + rand.Int64N(900) }
	}
	instance := uuid.NewString()
	return &Allocator{
		counters: counters,
		records:  records,
		opts:     opts,
		instance: instance,
		log:      opts.Logger.With("component", "sequence", "instance", instance),
	}
}

// Instance identifies this allocator in fallback log lines
func (a *Allocator) Instance() string {
	return a.instance
}

// NextStrict returns the next value of the counter and never falls back
func (a *Allocator) NextStrict(ctx context.Context, name string) (int64, error) {
	if err := domain.ValidateCounterName(name); err != nil {
		return 0, err
	}
	value, err := a.counters.Increment(ctx, name)
	if err != nil {
		a.opts.Metrics.Allocation(name, "error")
		return 0, fmt.Errorf("while allocating from %s: %w", name, err)
	}
	a.opts.Metrics.Allocation(name, "ok")
	return value, nil
}

// Next returns the next value of the counter. On a transient storage error,
// and only if fallback is enabled, it returns a degraded identifier.
// Cancelled or timed out calls never fall back: their outcome is unknown.
func (a *Allocator) Next(ctx context.Context, name string) (int64, error) {
	value, err := a.NextStrict(ctx, name)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, domain.ErrTransientStorage) || ctx.Err() != nil {
		return 0, err
	}
	if !a.opts.FallbackEnabled {
		return 0, errors.Join(err, ErrFallbackDisabled)
	}
	id := a.fallbackID()
	a.opts.Metrics.Allocation(name, "fallback")
	a.opts.Metrics.Fallback(name)
	a.log.Warn("counter store unavailable, handing out degraded identifier",
		"counter", name, "id", id, "error", err)
	return id, nil
}

func (a *Allocator) fallbackID() int64 {
	return FallbackFloor + a.opts.now().UnixMilli()*1000 + a.opts.rand()
}

// Current returns the counter value without incrementing it
func (a *Allocator) Current(ctx context.Context, name string) (int64, error) {
	return a.counters.Current(ctx, name)
}

// Reset overwrites a counter. Only meant for administrative use while no
// writer is running.
func (a *Allocator) Reset(ctx context.Context, name string, value int64) error {
	if err := domain.ValidateCounterName(name); err != nil {
		return err
	}
	if value < 0 {
		return domain.InvalidArgument("counter value %d is negative", value)
	}
	a.log.Warn("resetting counter", "counter", name, "value", value)
	return a.counters.Set(ctx, name, value)
}

// Seed raises a counter to at least observed
func (a *Allocator) Seed(ctx context.Context, name string, observed int64) error {
	if err := domain.ValidateCounterName(name); err != nil {
		return err
	}
	return a.counters.SeedAtLeast(ctx, name, observed)
}

// Bootstrap raises the counter to the highest record id already stored,
// ignoring degraded identifiers. It may race with concurrent increments;
// the counter can end up above the true maximum but never below it.
func (a *Allocator) Bootstrap(ctx context.Context, name string) (int64, error) {
	if err := domain.ValidateCounterName(name); err != nil {
		return 0, err
	}
	if a.records == nil {
		return 0, fmt.Errorf("bootstrap of %s needs a record repository", name)
	}
	observed, err := a.records.MaxRecordID(ctx, FallbackFloor)
	if err != nil {
		return 0, fmt.Errorf("while scanning record ids for %s: %w", name, err)
	}
	if err := a.counters.SeedAtLeast(ctx, name, observed); err != nil {
		return 0, fmt.Errorf("while seeding %s: %w", name, err)
	}
	current, err := a.counters.Current(ctx, name)
	if err != nil {
		return 0, err
	}
	a.log.Info("counter bootstrapped", "counter", name, "observed_max", observed, "current", current)
	return current, nil
}
