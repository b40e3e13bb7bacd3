package weather

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/voltwatch/voltwatch/pkg/log"
	"github.com/voltwatch/voltwatch/pkg/types"
	"golang.org/x/sync/singleflight"
)

// Provider returns the weather at a site.
type Provider interface {
	// SampleAt returns the weather at the site for the given instant.
	SampleAt(ctx context.Context, site types.Site, at time.Time) (types.WeatherSample, error)
}

// Configured sets up the weather provider based on flags.
func Configured() Provider {
	provider := lflag.String("weather-provider", "openmeteo", "Weather provider to use (available: openmeteo, fallback)")

	var p struct{ Provider }

	om := configuredOpenMeteo()

	lflag.Do(func() {
		switch *provider {
		case "openmeteo":
			if err := om.Validate(); err != nil {
				panic(fmt.Sprintf("openmeteo validation failed: %v", err))
			}
			p.Provider = om
		case "fallback":
			p.Provider = FallbackProvider{}
		default:
			panic(fmt.Sprintf("unknown weather provider: %s", *provider))
		}
	})

	return &p
}

// Fallback returns a conservative night-time sample used when the provider
// fails. Its irradiance is 0 so no solar is produced.
func Fallback(at time.Time, loc *time.Location) types.WeatherSample {
	if loc == nil {
		loc = time.UTC
	}
	local := at.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return types.WeatherSample{
		Timestamp:     at,
		TemperatureC:  18,
		Humidity:      70,
		CloudCover:    30,
		IrradianceWM2: 0,
		Sunrise:       day.Add(6 * time.Hour),
		Sunset:        day.Add(18 * time.Hour),
		Condition:     ConditionClear,
		Fallback:      true,
	}
}

// FallbackProvider always returns the fallback sample. It is useful when
// running without network access.
type FallbackProvider struct{}

// SampleAt implements Provider.
func (FallbackProvider) SampleAt(ctx context.Context, site types.Site, at time.Time) (types.WeatherSample, error) {
	return Fallback(at, site.Location()), nil
}

// SampleOrFallback returns the provider's sample or, if it fails, the
// fallback sample. Provider errors are logged and never returned.
func SampleOrFallback(ctx context.Context, p Provider, site types.Site, at time.Time) types.WeatherSample {
	w, err := p.SampleAt(ctx, site, at)
	if err != nil {
		log.Ctx(ctx).WarnContext(
			ctx,
			"failed to get weather, using fallback",
			slog.String("siteID", site.ID),
			slog.Time("at", at),
			slog.Any("error", err),
		)
		return Fallback(at, site.Location())
	}
	return w
}

type cacheKey struct {
	lat, lon int64
	hour     int64
}

type cacheEntry struct {
	sample types.WeatherSample
	err    error
}

// BatchCache memoizes a Provider per location and hour. It is meant to live
// for a single batch so that sites sharing a location only fetch once.
// Failures are cached too.
type BatchCache struct {
	provider Provider
	group    singleflight.Group

	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

var _ Provider = (*BatchCache)(nil)

// NewBatchCache wraps the provider in a new empty cache.
func NewBatchCache(p Provider) *BatchCache {
	return &BatchCache{
		provider: p,
		entries:  make(map[cacheKey]cacheEntry),
	}
}

func keyFor(site types.Site, at time.Time) cacheKey {
	// ~11m of precision is plenty to share a forecast
	return cacheKey{
		lat:  int64(math.Round(site.Latitude * 1e4)),
		lon:  int64(math.Round(site.Longitude * 1e4)),
		hour: at.Truncate(time.Hour).Unix(),
	}
}

// SampleAt implements Provider.
func (c *BatchCache) SampleAt(ctx context.Context, site types.Site, at time.Time) (types.WeatherSample, error) {
	key := keyFor(site, at)

	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if ok {
		return e.sample, e.err
	}

	v, _, _ := c.group.Do(fmt.Sprintf("%d:%d:%d", key.lat, key.lon, key.hour), func() (any, error) {
		c.mu.Lock()
		if e, ok := c.entries[key]; ok {
			c.mu.Unlock()
			return e, nil
		}
		c.mu.Unlock()

		sample, err := c.provider.SampleAt(ctx, site, at)
		e := cacheEntry{sample: sample, err: err}
		c.mu.Lock()
		c.entries[key] = e
		c.mu.Unlock()
		return e, nil
	})
	e = v.(cacheEntry)
	return e.sample, e.err
}
