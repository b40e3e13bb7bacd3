package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/voltwatch/voltwatch/pkg/storage"
	"github.com/voltwatch/voltwatch/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) ListSites(ctx context.Context) ([]types.Site, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Site), args.Error(1)
}

func (m *MockDatabase) GetSite(ctx context.Context, siteID string) (types.Site, error) {
	args := m.Called(ctx, siteID)
	return args.Get(0).(types.Site), args.Error(1)
}

func (m *MockDatabase) UpsertSite(ctx context.Context, site types.Site) error {
	args := m.Called(ctx, site)
	return args.Error(0)
}

func (m *MockDatabase) UpdateHeartbeat(ctx context.Context, siteID string, at time.Time) error {
	args := m.Called(ctx, siteID, at)
	return args.Error(0)
}

func (m *MockDatabase) ListEquipment(ctx context.Context, siteID string) ([]types.Equipment, error) {
	args := m.Called(ctx, siteID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Equipment), args.Error(1)
}

func (m *MockDatabase) ListActiveEquipment(ctx context.Context, siteID string) ([]types.Equipment, error) {
	args := m.Called(ctx, siteID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Equipment), args.Error(1)
}

func (m *MockDatabase) UpsertEquipment(ctx context.Context, equipment types.Equipment) error {
	args := m.Called(ctx, equipment)
	return args.Error(0)
}

func (m *MockDatabase) GetLatestReading(ctx context.Context, siteID string) (*types.Reading, error) {
	args := m.Called(ctx, siteID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Reading), args.Error(1)
}

func (m *MockDatabase) InsertReading(ctx context.Context, reading types.Reading) error {
	args := m.Called(ctx, reading)
	return args.Error(0)
}

func (m *MockDatabase) GetReadings(ctx context.Context, siteID string, start, end time.Time) ([]types.Reading, error) {
	args := m.Called(ctx, siteID, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Reading), args.Error(1)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
