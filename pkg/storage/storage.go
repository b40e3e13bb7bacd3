package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/voltwatch/voltwatch/pkg/types"
)

var (
	ErrSiteNotFound = errors.New("site not found")
	// ErrReadingExists is returned when a reading already exists for the
	// site and timestamp. Readings are never overwritten.
	ErrReadingExists = errors.New("reading already exists")
)

// Database defines the interface for persisting sites, equipment and readings.
type Database interface {
	// Sites
	ListSites(ctx context.Context) ([]types.Site, error)
	GetSite(ctx context.Context, siteID string) (types.Site, error)
	UpsertSite(ctx context.Context, site types.Site) error
	// UpdateHeartbeat sets the site's last heartbeat without touching any
	// other field.
	UpdateHeartbeat(ctx context.Context, siteID string, at time.Time) error

	// Equipment
	ListEquipment(ctx context.Context, siteID string) ([]types.Equipment, error)
	// ListActiveEquipment returns the equipment that is not offline or failed.
	ListActiveEquipment(ctx context.Context, siteID string) ([]types.Equipment, error)
	UpsertEquipment(ctx context.Context, equipment types.Equipment) error

	// Readings
	// GetLatestReading returns nil without an error if the site has no
	// readings yet.
	GetLatestReading(ctx context.Context, siteID string) (*types.Reading, error)
	InsertReading(ctx context.Context, reading types.Reading) error
	GetReadings(ctx context.Context, siteID string, start, end time.Time) ([]types.Reading, error)

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore, postgres)")

	var p struct{ Database }

	fs := configuredFirestore()
	pg := configuredPostgres()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		case "postgres":
			if err := pg.Validate(); err != nil {
				panic(fmt.Sprintf("postgres validation failed: %v", err))
			}
			p.Database = pg
			if err := pg.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("postgres init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}

// ActiveEquipment filters out equipment that is offline or failed.
func ActiveEquipment(all []types.Equipment) []types.Equipment {
	active := make([]types.Equipment, 0, len(all))
	for _, e := range all {
		if e.Down() {
			continue
		}
		active = append(active, e)
	}
	return active
}
