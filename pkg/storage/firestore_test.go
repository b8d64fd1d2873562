package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/raterudder/sgetiers/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirestoreProvider(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST is not set")
	}

	// Use a random database for isolation
	randDB := fmt.Sprintf("test-db-%d", time.Now().UnixNano())
	f := &FirestoreProvider{
		projectID: "test-project-id",
		database:  randDB,
	}

	ctx := context.Background()
	require.NoError(t, f.Init(ctx))
	defer f.Close()

	t.Run("Validate", func(t *testing.T) {
		require.NoError(t, f.Validate())
	})

	t.Run("Fields", func(t *testing.T) {
		f1 := types.FieldDefinition{ID: "f1", Label: "Commune", CommandService: types.CommandServiceTechnical, PathExpression: ".//commune/libelle"}
		f2 := types.FieldDefinition{ID: "f2", Label: "Puissance", CommandService: types.CommandServiceLoadCurvePA, PathExpression: ".//grandeur/points", Unit: types.UnitW}
		require.NoError(t, f.CreateField(ctx, f1))
		require.NoError(t, f.CreateField(ctx, f2))

		found, err := f.FindFields(ctx, types.CommandServiceTechnical, ".//commune/libelle")
		require.NoError(t, err)
		assert.Equal(t, []types.FieldDefinition{f1}, found)

		f1.Label = "Commune d'installation"
		require.NoError(t, f.UpdateField(ctx, f1))
		got, err := f.GetField(ctx, "f1")
		require.NoError(t, err)
		assert.Equal(t, f1, got)

		require.NoError(t, f.DeleteFields(ctx, []string{"f2"}))
		_, err = f.GetField(ctx, "f2")
		assert.ErrorIs(t, err, ErrFieldNotFound)
	})

	t.Run("Devices", func(t *testing.T) {
		d := types.Device{ID: "d1", Name: "Maison", PollingInterval: time.Hour}
		require.NoError(t, f.PutDevice(ctx, d))
		require.NoError(t, f.SetDeviceInitialized(ctx, "d1", true))
		got, err := f.GetDevice(ctx, "d1")
		require.NoError(t, err)
		assert.True(t, got.Initialized)

		_, err = f.GetDevice(ctx, "missing")
		assert.ErrorIs(t, err, ErrDeviceNotFound)
	})

	t.Run("Variables", func(t *testing.T) {
		v := types.Variable{ID: "v1", DeviceID: "d1", Name: "maison-commune", Active: true}
		require.NoError(t, f.PutVariable(ctx, v))
		require.NoError(t, f.PutBinding(ctx, types.VariableBinding{VariableID: "v1", CommandService: types.CommandServiceTechnical, PathExpression: ".//commune/libelle"}))
		require.NoError(t, f.RecordFound(ctx, map[string]bool{"v1": true, "ghost": false}))

		got, ok, err := f.FindVariable(ctx, "d1", "maison-commune")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, v, got)

		vars, err := f.ListVariables(ctx, "d1")
		require.NoError(t, err)
		require.Len(t, vars, 1)
		require.NotNil(t, vars[0].Binding)
		assert.True(t, vars[0].Binding.FoundInLastRequest)
	})

	t.Run("History", func(t *testing.T) {
		applied, err := f.Commit(ctx, "v1", []types.SeriesPoint{{Timestamp: 1000, Value: "1"}, {Timestamp: 2000, Value: "2"}})
		require.NoError(t, err)
		assert.True(t, applied)

		applied, err = f.Commit(ctx, "v1", []types.SeriesPoint{{Timestamp: 2000, Value: "2"}})
		require.NoError(t, err)
		assert.False(t, applied)

		// repeated timestamps keep the last value
		applied, err = f.Commit(ctx, "v1", []types.SeriesPoint{{Timestamp: 2000, Value: "7"}, {Timestamp: 2000, Value: "2"}})
		require.NoError(t, err)
		assert.False(t, applied)

		prev, ok, err := f.QueryPrevValue(ctx, "v1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(2000), prev.Unix())

		points, err := f.GetHistory(ctx, "v1", time.Unix(0, 0), time.Unix(2000, 0))
		require.NoError(t, err)
		assert.Equal(t, []types.SeriesPoint{{Timestamp: 1000, Value: "1"}}, points)
	})
}
