package storagemock

import (
	"context"
	"time"

	"github.com/raterudder/sgetiers/pkg/storage"
	"github.com/raterudder/sgetiers/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) ListFields(ctx context.Context) ([]types.FieldDefinition, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.FieldDefinition), args.Error(1)
}

func (m *MockDatabase) FindFields(ctx context.Context, svc types.CommandService, path string) ([]types.FieldDefinition, error) {
	args := m.Called(ctx, svc, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.FieldDefinition), args.Error(1)
}

func (m *MockDatabase) GetField(ctx context.Context, id string) (types.FieldDefinition, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.FieldDefinition), args.Error(1)
}

func (m *MockDatabase) CreateField(ctx context.Context, field types.FieldDefinition) error {
	args := m.Called(ctx, field)
	return args.Error(0)
}

func (m *MockDatabase) UpdateField(ctx context.Context, field types.FieldDefinition) error {
	args := m.Called(ctx, field)
	return args.Error(0)
}

func (m *MockDatabase) DeleteFields(ctx context.Context, ids []string) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

func (m *MockDatabase) GetDevice(ctx context.Context, id string) (types.Device, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.Device), args.Error(1)
}

func (m *MockDatabase) ListDevices(ctx context.Context) ([]types.Device, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Device), args.Error(1)
}

func (m *MockDatabase) PutDevice(ctx context.Context, device types.Device) error {
	args := m.Called(ctx, device)
	return args.Error(0)
}

func (m *MockDatabase) SetDeviceInitialized(ctx context.Context, id string, initialized bool) error {
	args := m.Called(ctx, id, initialized)
	return args.Error(0)
}

func (m *MockDatabase) ListVariables(ctx context.Context, deviceID string) ([]types.BoundVariable, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.BoundVariable), args.Error(1)
}

func (m *MockDatabase) FindVariable(ctx context.Context, deviceID, name string) (types.Variable, bool, error) {
	args := m.Called(ctx, deviceID, name)
	return args.Get(0).(types.Variable), args.Bool(1), args.Error(2)
}

func (m *MockDatabase) PutVariable(ctx context.Context, v types.Variable) error {
	args := m.Called(ctx, v)
	return args.Error(0)
}

func (m *MockDatabase) PutBinding(ctx context.Context, b types.VariableBinding) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}

func (m *MockDatabase) RecordFound(ctx context.Context, found map[string]bool) error {
	args := m.Called(ctx, found)
	return args.Error(0)
}

func (m *MockDatabase) QueryPrevValue(ctx context.Context, variableID string) (time.Time, bool, error) {
	args := m.Called(ctx, variableID)
	return args.Get(0).(time.Time), args.Bool(1), args.Error(2)
}

func (m *MockDatabase) Commit(ctx context.Context, variableID string, points []types.SeriesPoint) (bool, error) {
	args := m.Called(ctx, variableID, points)
	return args.Bool(0), args.Error(1)
}

func (m *MockDatabase) GetHistory(ctx context.Context, variableID string, start, end time.Time) ([]types.SeriesPoint, error) {
	args := m.Called(ctx, variableID, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.SeriesPoint), args.Error(1)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
