package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/sgetiers/pkg/types"
)

var (
	ErrFieldNotFound    = errors.New("field not found")
	ErrDeviceNotFound   = errors.New("device not found")
	ErrVariableNotFound = errors.New("variable not found")
)

// Database defines the interface for persisting the catalog, devices,
// variables and their history.
type Database interface {
	// Catalog
	ListFields(ctx context.Context) ([]types.FieldDefinition, error)
	// FindFields returns every field for the pair, oldest first.
	FindFields(ctx context.Context, svc types.CommandService, path string) ([]types.FieldDefinition, error)
	GetField(ctx context.Context, id string) (types.FieldDefinition, error)
	CreateField(ctx context.Context, field types.FieldDefinition) error
	UpdateField(ctx context.Context, field types.FieldDefinition) error
	DeleteFields(ctx context.Context, ids []string) error

	// Devices
	GetDevice(ctx context.Context, id string) (types.Device, error)
	ListDevices(ctx context.Context) ([]types.Device, error)
	PutDevice(ctx context.Context, device types.Device) error
	SetDeviceInitialized(ctx context.Context, id string, initialized bool) error

	// Variables
	// ListVariables returns the variables of a device with their binding.
	ListVariables(ctx context.Context, deviceID string) ([]types.BoundVariable, error)
	FindVariable(ctx context.Context, deviceID, name string) (types.Variable, bool, error)
	PutVariable(ctx context.Context, v types.Variable) error
	PutBinding(ctx context.Context, b types.VariableBinding) error
	// RecordFound sets the found flag of each variable's binding.
	RecordFound(ctx context.Context, found map[string]bool) error

	// History
	// QueryPrevValue returns the time of the latest point of the variable.
	QueryPrevValue(ctx context.Context, variableID string) (time.Time, bool, error)
	// Commit upserts points keyed by timestamp and reports whether any point
	// was inserted or changed.
	Commit(ctx context.Context, variableID string, points []types.SeriesPoint) (bool, error)
	// GetHistory returns the points in [start, end) ordered by time.
	GetHistory(ctx context.Context, variableID string, start, end time.Time) ([]types.SeriesPoint, error)

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "sqlite", "Storage provider to use (available: firestore, sqlite)")

	var p struct{ Database }

	fs := configuredFirestore()
	sq := configuredSQLite()

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
		case "sqlite":
			if err := sq.Validate(); err != nil {
				panic(fmt.Sprintf("sqlite validation failed: %v", err))
			}
			p.Database = sq
			if err := sq.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("sqlite init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}

// lastValues collapses points sharing a timestamp, keeping the last value
// sent for each, in first-seen order. Both occurrences of an ambiguous
// fall-back hour normalize to the same timestamp.
func lastValues(points []types.SeriesPoint) []types.SeriesPoint {
	index := make(map[int64]int, len(points))
	out := make([]types.SeriesPoint, 0, len(points))
	for _, p := range points {
		if i, ok := index[p.Timestamp]; ok {
			out[i].Value = p.Value
			continue
		}
		index[p.Timestamp] = len(out)
		out = append(out, p)
	}
	return out
}
