package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/levenlabs/go-lflag"
	"github.com/voltwatch/voltwatch/pkg/types"
)

// uniqueViolation is the Postgres error code for a unique constraint failure.
const uniqueViolation = "23505"

// PostgresProvider implements the Database interface on Postgres. Records are
// stored as JSONB alongside the columns needed to query them.
type PostgresProvider struct {
	db     *sql.DB
	dsn    string
	prefix string
}

var _ Database = (*PostgresProvider)(nil)

// PostgresOption configures the provider.
type PostgresOption func(*PostgresProvider)

// WithTablePrefix prefixes every table name, which lets several instances
// share a database.
func WithTablePrefix(prefix string) PostgresOption {
	return func(p *PostgresProvider) {
		p.prefix = prefix
	}
}

// NewPostgresProvider returns a provider for the given DSN. Init must be
// called before use.
func NewPostgresProvider(dsn string, opts ...PostgresOption) *PostgresProvider {
	p := &PostgresProvider{dsn: dsn}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func configuredPostgres() *PostgresProvider {
	dsn := lflag.String("postgres-url", "", "Postgres connection URL (when storage-provider=postgres)")
	prefix := lflag.String("postgres-table-prefix", "", "Prefix applied to every Postgres table name")

	p := &PostgresProvider{}

	lflag.Do(func() {
		p.dsn = *dsn
		p.prefix = *prefix
	})

	return p
}

// Validate checks if the provider is properly configured.
func (p *PostgresProvider) Validate() error {
	if p.dsn == "" {
		return fmt.Errorf("postgres-url is required")
	}
	return nil
}

// Init opens the connection pool and creates the tables if needed.
func (p *PostgresProvider) Init(ctx context.Context) error {
	db, err := sql.Open("pgx", p.dsn)
	if err != nil {
		return fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}
	p.db = db
	if err := p.migrate(ctx); err != nil {
		return err
	}
	return nil
}

// Close closes the connection pool.
func (p *PostgresProvider) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func (p *PostgresProvider) sites() string     { return p.prefix + "sites" }
func (p *PostgresProvider) equipment() string { return p.prefix + "equipment" }
func (p *PostgresProvider) readings() string  { return p.prefix + "readings" }

func (p *PostgresProvider) migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL DEFAULT '',
	last_heartbeat TIMESTAMPTZ,
	payload JSONB NOT NULL
)`, p.sites()),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	site_id TEXT NOT NULL,
	id TEXT NOT NULL,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	payload JSONB NOT NULL,
	PRIMARY KEY (site_id, id)
)`, p.equipment()),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	site_id TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	id TEXT NOT NULL,
	version INT NOT NULL,
	payload JSONB NOT NULL,
	PRIMARY KEY (site_id, ts)
)`, p.readings()),
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate postgres: %w", err)
		}
	}
	return nil
}

func scanSite(row interface{ Scan(...any) error }) (types.Site, error) {
	var (
		id        string
		heartbeat sql.NullTime
		payload   []byte
	)
	if err := row.Scan(&id, &heartbeat, &payload); err != nil {
		return types.Site{}, err
	}
	var site types.Site
	if err := json.Unmarshal(payload, &site); err != nil {
		return types.Site{}, fmt.Errorf("failed to unmarshal site %s: %w", id, err)
	}
	site.ID = id
	if heartbeat.Valid {
		site.LastHeartbeat = heartbeat.Time.UTC()
	}
	return site, nil
}

// GetSite loads a site by ID.
func (p *PostgresProvider) GetSite(ctx context.Context, siteID string) (types.Site, error) {
	if siteID == "" {
		return types.Site{}, fmt.Errorf("siteID cannot be empty")
	}
	query := fmt.Sprintf(`
SELECT id, last_heartbeat, payload
FROM %s
WHERE id = $1`, p.sites())

	site, err := scanSite(p.db.QueryRowContext(ctx, query, siteID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Site{}, fmt.Errorf("%w: %s", ErrSiteNotFound, siteID)
		}
		return types.Site{}, fmt.Errorf("failed to get site %s: %w", siteID, err)
	}
	return site, nil
}

// ListSites loads every site ordered by ID.
func (p *PostgresProvider) ListSites(ctx context.Context) ([]types.Site, error) {
	query := fmt.Sprintf(`
SELECT id, last_heartbeat, payload
FROM %s
ORDER BY id ASC`, p.sites())

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}
	defer rows.Close()

	var sites []types.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sites: %w", err)
	}
	return sites, nil
}

// UpsertSite creates or replaces a site.
func (p *PostgresProvider) UpsertSite(ctx context.Context, site types.Site) error {
	if site.ID == "" {
		return fmt.Errorf("siteID cannot be empty")
	}
	payload, err := json.Marshal(site)
	if err != nil {
		return fmt.Errorf("failed to marshal site %s: %w", site.ID, err)
	}
	var heartbeat sql.NullTime
	if !site.LastHeartbeat.IsZero() {
		heartbeat = sql.NullTime{Time: site.LastHeartbeat, Valid: true}
	}

	query := fmt.Sprintf(`
INSERT INTO %s (id, status, last_heartbeat, payload)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id)
DO UPDATE SET
	status = EXCLUDED.status,
	last_heartbeat = COALESCE(EXCLUDED.last_heartbeat, %s.last_heartbeat),
	payload = EXCLUDED.payload`, p.sites(), p.sites())

	if _, err := p.db.ExecContext(ctx, query, site.ID, string(site.Status), heartbeat, payload); err != nil {
		return fmt.Errorf("failed to upsert site %s: %w", site.ID, err)
	}
	return nil
}

// UpdateHeartbeat sets the site's last heartbeat.
func (p *PostgresProvider) UpdateHeartbeat(ctx context.Context, siteID string, at time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET last_heartbeat = $2 WHERE id = $1`, p.sites())
	res, err := p.db.ExecContext(ctx, query, siteID, at)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat for site %s: %w", siteID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSiteNotFound, siteID)
	}
	return nil
}

func (p *PostgresProvider) listEquipment(ctx context.Context, siteID string, activeOnly bool) ([]types.Equipment, error) {
	if siteID == "" {
		return nil, fmt.Errorf("siteID cannot be empty")
	}
	query := fmt.Sprintf(`
SELECT id, payload
FROM %s
WHERE site_id = $1`, p.equipment())
	if activeOnly {
		query += fmt.Sprintf(" AND status NOT IN ('%s', '%s')", types.EquipmentStatusOffline, types.EquipmentStatusFailed)
	}
	query += " ORDER BY id ASC"

	rows, err := p.db.QueryContext(ctx, query, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list equipment for site %s: %w", siteID, err)
	}
	defer rows.Close()

	var all []types.Equipment
	for rows.Next() {
		var (
			id      string
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		var e types.Equipment
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal equipment %s: %w", id, err)
		}
		e.ID = id
		e.SiteID = siteID
		all = append(all, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate equipment: %w", err)
	}
	return all, nil
}

// ListEquipment loads all equipment of the site ordered by ID.
func (p *PostgresProvider) ListEquipment(ctx context.Context, siteID string) ([]types.Equipment, error) {
	return p.listEquipment(ctx, siteID, false)
}

// ListActiveEquipment loads the equipment of the site that is not offline or failed.
func (p *PostgresProvider) ListActiveEquipment(ctx context.Context, siteID string) ([]types.Equipment, error) {
	return p.listEquipment(ctx, siteID, true)
}

// UpsertEquipment creates or replaces a unit.
func (p *PostgresProvider) UpsertEquipment(ctx context.Context, equipment types.Equipment) error {
	if equipment.ID == "" || equipment.SiteID == "" {
		return fmt.Errorf("equipment ID and siteID cannot be empty")
	}
	payload, err := json.Marshal(equipment)
	if err != nil {
		return fmt.Errorf("failed to marshal equipment %s: %w", equipment.ID, err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (site_id, id, type, status, payload)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (site_id, id)
DO UPDATE SET
	type = EXCLUDED.type,
	status = EXCLUDED.status,
	payload = EXCLUDED.payload`, p.equipment())

	_, err = p.db.ExecContext(ctx, query, equipment.SiteID, equipment.ID, string(equipment.Type), string(equipment.Status), payload)
	if err != nil {
		return fmt.Errorf("failed to upsert equipment %s: %w", equipment.ID, err)
	}
	return nil
}

// InsertReading appends a reading. A second reading for the same site and
// timestamp is rejected with ErrReadingExists.
func (p *PostgresProvider) InsertReading(ctx context.Context, reading types.Reading) error {
	if reading.SiteID == "" {
		return fmt.Errorf("siteID cannot be empty")
	}
	payload, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (site_id, ts, id, version, payload)
VALUES ($1, $2, $3, $4, $5)`, p.readings())

	_, err = p.db.ExecContext(ctx, query, reading.SiteID, reading.Timestamp.UTC(), reading.ID, reading.Version, payload)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s/%s", ErrReadingExists, reading.SiteID, reading.Timestamp.UTC().Format(time.RFC3339))
		}
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

// GetLatestReading loads the most recent reading of the site.
func (p *PostgresProvider) GetLatestReading(ctx context.Context, siteID string) (*types.Reading, error) {
	if siteID == "" {
		return nil, fmt.Errorf("siteID cannot be empty")
	}
	query := fmt.Sprintf(`
SELECT payload
FROM %s
WHERE site_id = $1
ORDER BY ts DESC
LIMIT 1`, p.readings())

	var payload []byte
	if err := p.db.QueryRowContext(ctx, query, siteID).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest reading: %w", err)
	}
	var r types.Reading
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reading: %w", err)
	}
	return &r, nil
}

// GetReadings loads readings within [start, end) ordered by timestamp.
func (p *PostgresProvider) GetReadings(ctx context.Context, siteID string, start, end time.Time) ([]types.Reading, error) {
	if siteID == "" {
		return nil, fmt.Errorf("siteID cannot be empty")
	}
	query := fmt.Sprintf(`
SELECT payload
FROM %s
WHERE site_id = $1 AND ts >= $2 AND ts < $3
ORDER BY ts ASC`, p.readings())

	rows, err := p.db.QueryContext(ctx, query, siteID, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var readings []types.Reading
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var r types.Reading
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reading: %w", err)
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate readings: %w", err)
	}
	return readings, nil
}
