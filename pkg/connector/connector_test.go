package connector

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/raterudder/sgetiers/pkg/acquisition"
	"github.com/raterudder/sgetiers/pkg/sge"
	"github.com/raterudder/sgetiers/pkg/storage"
	"github.com/raterudder/sgetiers/pkg/storage/storagemock"
	"github.com/raterudder/sgetiers/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const technicalPayload = `<Envelope><Body><point><donneesGenerales>
<adresseInstallation><commune><libelle>PAU</libelle></commune></adresseInstallation>
</donneesGenerales></point></Body></Envelope>`

type invokerFunc func(ctx context.Context, p sge.Params) ([]byte, error)

func (f invokerFunc) Invoke(ctx context.Context, p sge.Params) ([]byte, error) {
	return f(ctx, p)
}

type fakeBackend struct {
	invokers map[types.CommandService]sge.Invoker
}

func (b *fakeBackend) Configure(svc types.CommandService) (sge.Invoker, error) {
	inv, ok := b.invokers[svc]
	if !ok {
		return nil, fmt.Errorf("no invoker for %s", svc)
	}
	return inv, nil
}

var creds = types.DeviceCredentials{
	Login:                "me@example.com",
	CertificateRef:       "cert.pem",
	PrivateKeyRef:        "key.pem",
	MeterID:              "30001234567890",
	AuthorizationGranted: true,
}

func setup(t *testing.T, now time.Time) (*Connector, *storagemock.MockDatabase, *int) {
	t.Helper()
	calls := new(int)
	backend := &fakeBackend{invokers: map[types.CommandService]sge.Invoker{
		types.CommandServiceTechnical: invokerFunc(func(ctx context.Context, p sge.Params) ([]byte, error) {
			*calls++
			return []byte(technicalPayload), nil
		}),
	}}
	clients := sge.NewMap(sge.Config{})
	clients.SetBackend("d1", creds, backend)

	cfg := acquisition.DefaultConfig()
	cfg.MaxAttempts = 1
	cfg.Now = func() time.Time { return now }
	cfg.Sleep = func(ctx context.Context, d time.Duration) error { return nil }

	db := &storagemock.MockDatabase{}
	return New(db, clients, &cfg), db, calls
}

func variables() []types.BoundVariable {
	return []types.BoundVariable{
		{
			Variable: types.Variable{ID: "v1", DeviceID: "d1", Name: "maison-commune", Active: true},
			Binding:  &types.VariableBinding{VariableID: "v1", CommandService: types.CommandServiceTechnical, PathExpression: ".//commune/libelle"},
		},
		{
			Variable: types.Variable{ID: "v2", DeviceID: "d1", Name: "maison-segment", Active: false},
			Binding:  &types.VariableBinding{VariableID: "v2", CommandService: types.CommandServiceTechnical, PathExpression: ".//segment/libelle"},
		},
		{
			Variable: types.Variable{ID: "v3", DeviceID: "d1", Name: "manual", Active: true},
		},
	}
}

func TestReadDevice(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	c, db, calls := setup(t, now)

	db.On("GetDevice", mock.Anything, "d1").Return(types.Device{ID: "d1", Name: "Maison", Credentials: creds}, nil)
	db.On("ListVariables", mock.Anything, "d1").Return(variables(), nil)
	db.On("Commit", mock.Anything, "v1", []types.SeriesPoint{{Timestamp: now.Unix(), Value: "PAU"}}).Return(true, nil)
	db.On("RecordFound", mock.Anything, map[string]bool{"v1": true}).Return(nil)
	db.On("SetDeviceInitialized", mock.Anything, "d1", true).Return(nil)

	updated, err := c.ReadDevice(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, []string{"v1"}, updated)
	assert.Equal(t, 1, *calls)
	db.AssertExpectations(t)
}

func TestReadDeviceInvalidCredentials(t *testing.T) {
	c, db, calls := setup(t, time.Now())

	bad := creds
	bad.MeterID = " "
	db.On("GetDevice", mock.Anything, "d1").Return(types.Device{ID: "d1", Credentials: bad}, nil)

	_, err := c.ReadDevice(context.Background(), "d1")
	assert.ErrorIs(t, err, types.ErrInvalidCredentials)
	assert.Zero(t, *calls)
	db.AssertNotCalled(t, "ListVariables", mock.Anything, mock.Anything)
	db.AssertNotCalled(t, "SetDeviceInitialized", mock.Anything, mock.Anything, mock.Anything)
}

func TestReadDeviceNotFound(t *testing.T) {
	c, db, _ := setup(t, time.Now())
	db.On("GetDevice", mock.Anything, "nope").Return(types.Device{}, storage.ErrDeviceNotFound)

	_, err := c.ReadDevice(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrDeviceNotFound)
}

func TestReadAll(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	c, db, calls := setup(t, now)

	db.On("ListDevices", mock.Anything).Return([]types.Device{
		{ID: "d1", Name: "Maison", Credentials: creds, Initialized: true},
		{ID: "d2", Name: "Broken"},
	}, nil)
	db.On("GetDevice", mock.Anything, "d1").Return(types.Device{ID: "d1", Name: "Maison", Credentials: creds, Initialized: true}, nil)
	db.On("GetDevice", mock.Anything, "d2").Return(types.Device{}, errors.New("unavailable"))
	db.On("ListVariables", mock.Anything, "d1").Return(variables(), nil)
	// the value is already stored
	db.On("Commit", mock.Anything, "v1", mock.Anything).Return(false, nil)
	db.On("RecordFound", mock.Anything, mock.Anything).Return(nil)

	results, err := c.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Contains(t, results, "d1")
	assert.Empty(t, results["d1"])
	assert.NotContains(t, results, "d2", "a failing device doesn't stop the cycle")
	assert.Equal(t, 1, *calls)
	db.AssertNotCalled(t, "SetDeviceInitialized", mock.Anything, mock.Anything, mock.Anything)
	db.AssertExpectations(t)
}

func TestReadAllListError(t *testing.T) {
	c, db, _ := setup(t, time.Now())
	db.On("ListDevices", mock.Anything).Return(nil, errors.New("unavailable"))

	_, err := c.ReadAll(context.Background())
	assert.ErrorContains(t, err, "unavailable")
}

func TestReadAllCanceled(t *testing.T) {
	c, db, calls := setup(t, time.Now())
	db.On("ListDevices", mock.Anything).Return([]types.Device{{ID: "d1", Credentials: creds}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.ReadAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, *calls)
	db.AssertNotCalled(t, "GetDevice", mock.Anything, mock.Anything)
}
