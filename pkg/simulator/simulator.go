package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/voltwatch/voltwatch/pkg/load"
	"github.com/voltwatch/voltwatch/pkg/log"
	"github.com/voltwatch/voltwatch/pkg/metrics"
	"github.com/voltwatch/voltwatch/pkg/solar"
	"github.com/voltwatch/voltwatch/pkg/storage"
	"github.com/voltwatch/voltwatch/pkg/types"
	"github.com/voltwatch/voltwatch/pkg/weather"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotConfigured is returned when the simulator is missing one of its
	// collaborators.
	ErrNotConfigured = errors.New("simulator not configured")
	// ErrAlreadySimulated is returned when the site already has a reading
	// for the tick.
	ErrAlreadySimulated = errors.New("site already simulated for tick")
)

// DefaultTickInterval is the cadence the scheduler invokes a tick at.
const DefaultTickInterval = 5 * time.Minute

// SolarModel produces the AC output of a solar array.
type SolarModel interface {
	Produce(w types.WeatherSample, cfg solar.Config, at time.Time) float64
}

// Simulator advances every site by one tick and persists a reading for each.
type Simulator struct {
	storage storage.Database
	weather weather.Provider
	load    load.Provider
	solar   SolarModel
	rand    func() float64

	tickInterval           time.Duration
	tickTimeout            time.Duration
	concurrency            int
	temperatureCoefficient float64
	systemLosses           float64

	// locks holds a *sync.Mutex per site so only one goroutine reads the last
	// reading and writes the next one at a time.
	locks sync.Map
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithSolarModel overrides the solar model.
func WithSolarModel(m SolarModel) Option {
	return func(s *Simulator) {
		s.solar = m
	}
}

// WithRand overrides the source of randomness. The function must return
// values in [0, 1).
func WithRand(r func() float64) Option {
	return func(s *Simulator) {
		if r != nil {
			s.rand = r
		}
	}
}

// WithTickInterval overrides the tick length.
func WithTickInterval(d time.Duration) Option {
	return func(s *Simulator) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// WithTickTimeout bounds how long a single tick may run. Zero disables the
// timeout.
func WithTickTimeout(d time.Duration) Option {
	return func(s *Simulator) {
		s.tickTimeout = d
	}
}

// WithConcurrency sets how many sites are simulated at once.
func WithConcurrency(n int) Option {
	return func(s *Simulator) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// New returns a Simulator.
func New(db storage.Database, wp weather.Provider, lp load.Provider, opts ...Option) *Simulator {
	s := &Simulator{
		storage:                db,
		weather:                wp,
		load:                   lp,
		rand:                   rand.Float64,
		tickInterval:           DefaultTickInterval,
		concurrency:            1,
		temperatureCoefficient: solar.DefaultConfig(0).TemperatureCoefficient,
		systemLosses:           solar.DefaultConfig(0).SystemLosses,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.solar == nil {
		s.solar = solar.Model{Noise: s.rand}
	}
	return s
}

// Configured sets up flags for the simulator and returns it.
func Configured(db storage.Database, wp weather.Provider, lp load.Provider) *Simulator {
	s := New(db, wp, lp)

	tickInterval := lflag.Duration("tick-interval", DefaultTickInterval, "Length of a simulation tick; must match the scheduler cadence")
	tickTimeout := lflag.Duration("tick-timeout", 4*time.Minute, "Maximum time a tick may run before remaining sites are left for the next tick")
	concurrency := lflag.String("site-concurrency", "1", "Number of sites simulated at once")
	tempCoefficient := lflag.String("solar-temperature-coefficient", "-0.004", "Fractional panel efficiency change per degree C above 25")
	systemLosses := lflag.String("solar-system-losses", "0.14", "Fraction of solar output lost to wiring, soiling and mismatch")

	lflag.Do(func() {
		if *tickInterval <= 0 {
			panic(fmt.Sprintf("invalid tick-interval: %s", *tickInterval))
		}
		s.tickInterval = *tickInterval
		s.tickTimeout = *tickTimeout

		n, err := strconv.Atoi(*concurrency)
		if err != nil || n < 1 {
			panic(fmt.Sprintf("invalid site-concurrency: %q", *concurrency))
		}
		s.concurrency = n

		coef, err := strconv.ParseFloat(*tempCoefficient, 64)
		if err != nil {
			panic(fmt.Sprintf("invalid solar-temperature-coefficient: %q", *tempCoefficient))
		}
		s.temperatureCoefficient = coef

		losses, err := strconv.ParseFloat(*systemLosses, 64)
		if err != nil || losses < 0 || losses >= 1 {
			panic(fmt.Sprintf("invalid solar-system-losses: %q", *systemLosses))
		}
		s.systemLosses = losses
	})

	return s
}

// TickInterval returns the configured tick length.
func (s *Simulator) TickInterval() time.Duration {
	return s.tickInterval
}

func (s *Simulator) siteLock(siteID string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(siteID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Tick simulates every site for the tick containing now. Errors for a single
// site are logged and counted in the summary but never abort the batch. An
// error is only returned if the sites could not be listed.
func (s *Simulator) Tick(ctx context.Context, now time.Time) (types.TickSummary, error) {
	if s.storage == nil || s.weather == nil || s.load == nil {
		return types.TickSummary{}, ErrNotConfigured
	}
	start := time.Now()
	if s.tickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.tickTimeout)
		defer cancel()
	}

	at := now.UTC().Truncate(s.tickInterval)
	ctx = log.WithAttrs(ctx, slog.Time("tick", at))

	sites, err := s.storage.ListSites(ctx)
	if err != nil {
		return types.TickSummary{}, fmt.Errorf("failed to list sites: %w", err)
	}

	// weather is shared between sites at the same location for this tick only
	wp := weather.NewBatchCache(s.weather)

	var (
		mu      sync.Mutex
		summary = types.TickSummary{TotalSites: len(sites)}
	)
	record := func(fn func(*types.TickSummary)) {
		mu.Lock()
		fn(&summary)
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, site := range sites {
		if ctx.Err() != nil {
			record(func(ts *types.TickSummary) { ts.DeadlineReached = true })
			break
		}
		if !site.Simulated() {
			log.Ctx(ctx).DebugContext(ctx, "skipping site", slog.String("siteID", site.ID), slog.String("status", string(site.Status)))
			metrics.ObserveSite(metrics.ResultSkipped, 0)
			record(func(ts *types.TickSummary) { ts.Skipped++ })
			continue
		}

		g.Go(func() error {
			// the deadline may have passed while waiting for a slot
			if ctx.Err() != nil {
				record(func(ts *types.TickSummary) { ts.DeadlineReached = true })
				return nil
			}
			siteStart := time.Now()
			_, err := s.processSiteLocked(ctx, site, at, wp)
			switch {
			case err == nil:
				metrics.ObserveSite(metrics.ResultSuccess, time.Since(siteStart))
				record(func(ts *types.TickSummary) { ts.SitesProcessed++ })
			case errors.Is(err, ErrAlreadySimulated) || errors.Is(err, storage.ErrReadingExists):
				log.Ctx(ctx).InfoContext(ctx, "site already simulated", slog.String("siteID", site.ID))
				metrics.ObserveSite(metrics.ResultSkipped, time.Since(siteStart))
				record(func(ts *types.TickSummary) { ts.Skipped++ })
			default:
				log.Ctx(ctx).ErrorContext(ctx, "failed to simulate site", slog.String("siteID", site.ID), slog.Any("error", err))
				metrics.ObserveSite(metrics.ResultError, time.Since(siteStart))
				record(func(ts *types.TickSummary) { ts.Errors++ })
			}
			// per-site errors never cancel the group
			return nil
		})
	}
	_ = g.Wait()

	elapsed := time.Since(start)
	summary.DurationMS = elapsed.Milliseconds()
	metrics.ObserveTick(summary.Errors, summary.DeadlineReached, elapsed)

	log.Ctx(ctx).InfoContext(
		ctx,
		"tick complete",
		slog.Int("totalSites", summary.TotalSites),
		slog.Int("sitesProcessed", summary.SitesProcessed),
		slog.Int("skipped", summary.Skipped),
		slog.Int("errors", summary.Errors),
		slog.Bool("deadlineReached", summary.DeadlineReached),
		slog.Int64("durationMs", summary.DurationMS),
	)
	return summary, nil
}

func (s *Simulator) processSiteLocked(ctx context.Context, site types.Site, at time.Time, wp weather.Provider) (types.Reading, error) {
	mu := s.siteLock(site.ID)
	mu.Lock()
	defer mu.Unlock()
	return s.ProcessSite(ctx, site, at, wp)
}
