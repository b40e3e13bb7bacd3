package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/voltwatch/voltwatch/pkg/log"
	"github.com/voltwatch/voltwatch/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements the Database interface using Google Cloud Firestore.
// Every document stores its record as a JSON string in the "json" field plus
// whatever fields are needed for queries.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

var _ Database = (*FirestoreProvider)(nil)

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// an empty project ID is detected from the environment
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) getCollection(siteID, name string) (*firestore.CollectionRef, error) {
	if siteID == "" {
		return nil, fmt.Errorf("siteID cannot be empty")
	}
	return f.client.Collection("sites").Doc(siteID).Collection(name), nil
}

// decodeDoc unmarshals the "json" field of the document into v.
func decodeDoc(doc *firestore.DocumentSnapshot, v any) error {
	val, err := doc.DataAt("json")
	if err != nil {
		return fmt.Errorf("doc %s missing json: %w", doc.Ref.Path, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return fmt.Errorf("doc %s json not string", doc.Ref.Path)
	}
	if err := json.Unmarshal([]byte(jsonStr), v); err != nil {
		return fmt.Errorf("failed to unmarshal doc %s: %w", doc.Ref.Path, err)
	}
	return nil
}

func decodeSite(doc *firestore.DocumentSnapshot) (types.Site, error) {
	var site types.Site
	if err := decodeDoc(doc, &site); err != nil {
		return types.Site{}, err
	}
	if site.ID == "" {
		site.ID = doc.Ref.ID
	}
	// the heartbeat is written on its own and takes precedence over the json
	if v, err := doc.DataAt("lastHeartbeat"); err == nil {
		if ts, ok := v.(time.Time); ok {
			site.LastHeartbeat = ts
		}
	}
	return site, nil
}

// GetSite retrieves a site from the "sites" collection.
func (f *FirestoreProvider) GetSite(ctx context.Context, siteID string) (types.Site, error) {
	if siteID == "" {
		return types.Site{}, fmt.Errorf("siteID cannot be empty")
	}
	doc, err := f.client.Collection("sites").Doc(siteID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Site{}, fmt.Errorf("%w: %s", ErrSiteNotFound, siteID)
		}
		return types.Site{}, fmt.Errorf("failed to get site %s: %w", siteID, err)
	}

	site, err := decodeSite(doc)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode site", slog.String("siteID", siteID), slog.Any("err", err))
		return types.Site{}, err
	}
	return site, nil
}

// ListSites retrieves all sites from the "sites" collection ordered by ID.
func (f *FirestoreProvider) ListSites(ctx context.Context) ([]types.Site, error) {
	iter := f.client.Collection("sites").OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var sites []types.Site
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating sites: %w", err)
		}

		site, err := decodeSite(doc)
		if err != nil {
			// skip malformed documents
			log.Ctx(ctx).WarnContext(ctx, "failed to decode site", slog.String("siteID", doc.Ref.ID), slog.Any("err", err))
			continue
		}
		sites = append(sites, site)
	}
	return sites, nil
}

// UpsertSite creates or replaces a site document.
func (f *FirestoreProvider) UpsertSite(ctx context.Context, site types.Site) error {
	if site.ID == "" {
		return fmt.Errorf("siteID cannot be empty")
	}
	siteJSON, err := json.Marshal(site)
	if err != nil {
		return fmt.Errorf("failed to marshal site %s: %w", site.ID, err)
	}
	data := map[string]interface{}{
		"json":   string(siteJSON),
		"status": string(site.Status),
	}
	if !site.LastHeartbeat.IsZero() {
		data["lastHeartbeat"] = site.LastHeartbeat
	}
	_, err = f.client.Collection("sites").Doc(site.ID).Set(ctx, data, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to upsert site %s: %w", site.ID, err)
	}
	return nil
}

// UpdateHeartbeat sets the "lastHeartbeat" field of the site document.
func (f *FirestoreProvider) UpdateHeartbeat(ctx context.Context, siteID string, at time.Time) error {
	if siteID == "" {
		return fmt.Errorf("siteID cannot be empty")
	}
	_, err := f.client.Collection("sites").Doc(siteID).Update(ctx, []firestore.Update{
		{Path: "lastHeartbeat", Value: at},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", ErrSiteNotFound, siteID)
		}
		return fmt.Errorf("failed to update heartbeat for site %s: %w", siteID, err)
	}
	return nil
}

// ListEquipment retrieves all equipment of the site ordered by ID.
func (f *FirestoreProvider) ListEquipment(ctx context.Context, siteID string) ([]types.Equipment, error) {
	coll, err := f.getCollection(siteID, "equipment")
	if err != nil {
		return nil, err
	}
	iter := coll.OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var all []types.Equipment
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating equipment: %w", err)
		}
		var e types.Equipment
		if err := decodeDoc(doc, &e); err != nil {
			// a bad unit must not stop the rest of the site from simulating
			log.Ctx(ctx).WarnContext(ctx, "failed to decode equipment", slog.String("siteID", siteID), slog.String("equipmentID", doc.Ref.ID), slog.Any("err", err))
			continue
		}
		if e.ID == "" {
			e.ID = doc.Ref.ID
		}
		e.SiteID = siteID
		all = append(all, e)
	}
	return all, nil
}

// ListActiveEquipment retrieves the equipment that is not offline or failed.
func (f *FirestoreProvider) ListActiveEquipment(ctx context.Context, siteID string) ([]types.Equipment, error) {
	all, err := f.ListEquipment(ctx, siteID)
	if err != nil {
		return nil, err
	}
	return ActiveEquipment(all), nil
}

// UpsertEquipment creates or replaces an equipment document under its site.
func (f *FirestoreProvider) UpsertEquipment(ctx context.Context, equipment types.Equipment) error {
	if equipment.ID == "" {
		return fmt.Errorf("equipment ID cannot be empty")
	}
	coll, err := f.getCollection(equipment.SiteID, "equipment")
	if err != nil {
		return err
	}
	eqJSON, err := json.Marshal(equipment)
	if err != nil {
		return fmt.Errorf("failed to marshal equipment %s: %w", equipment.ID, err)
	}
	_, err = coll.Doc(equipment.ID).Set(ctx, map[string]interface{}{
		"json":   string(eqJSON),
		"type":   string(equipment.Type),
		"status": string(equipment.Status),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert equipment %s: %w", equipment.ID, err)
	}
	return nil
}

// InsertReading adds a reading to the "readings" collection of its site.
// The document ID is the RFC3339 timestamp so a second reading for the same
// tick is rejected with ErrReadingExists.
func (f *FirestoreProvider) InsertReading(ctx context.Context, reading types.Reading) error {
	coll, err := f.getCollection(reading.SiteID, "readings")
	if err != nil {
		return err
	}
	jsonBytes, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}
	docID := reading.Timestamp.UTC().Format(time.RFC3339)
	_, err = coll.Doc(docID).Create(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": reading.Timestamp,
		"version":   reading.Version,
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("%w: %s/%s", ErrReadingExists, reading.SiteID, docID)
		}
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

// GetLatestReading retrieves the most recent reading of the site.
func (f *FirestoreProvider) GetLatestReading(ctx context.Context, siteID string) (*types.Reading, error) {
	coll, err := f.getCollection(siteID, "readings")
	if err != nil {
		return nil, err
	}
	iter := coll.
		OrderBy("timestamp", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest reading doc: %w", err)
	}

	var r types.Reading
	if err := decodeDoc(doc, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetReadings retrieves readings within [start, end) ordered by timestamp.
// Uses document ID range queries for efficient filtering without reading all documents.
func (f *FirestoreProvider) GetReadings(ctx context.Context, siteID string, start, end time.Time) ([]types.Reading, error) {
	startDocID := start.UTC().Format(time.RFC3339)
	endDocID := end.UTC().Format(time.RFC3339)

	coll, err := f.getCollection(siteID, "readings")
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(startDocID)).
		Where(firestore.DocumentID, "<", coll.Doc(endDocID)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var readings []types.Reading
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate readings: %w", err)
		}
		var r types.Reading
		if err := decodeDoc(doc, &r); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to decode reading", slog.String("siteID", siteID), slog.String("docID", doc.Ref.ID), slog.Any("err", err))
			continue
		}
		readings = append(readings, r)
	}
	return readings, nil
}
