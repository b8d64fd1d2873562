package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/NotCoffee418/dbmigrator"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/sgetiers/pkg/log"
	"github.com/raterudder/sgetiers/pkg/types"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SQLiteProvider implements the Database interface on a local SQLite file.
// Records are kept as JSON next to the columns queries filter on, like the
// Firestore documents.
type SQLiteProvider struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

func configuredSQLite() *SQLiteProvider {
	path := lflag.String("sqlite-path", "sgetiers.db", "Path of the SQLite database file")

	s := &SQLiteProvider{}
	lflag.Do(func() {
		s.path = *path
	})
	return s
}

// NewSQLite returns a provider for the database file at path. Init must be
// called before use.
func NewSQLite(path string) *SQLiteProvider {
	return &SQLiteProvider{path: path}
}

// Validate checks if the provider is properly configured.
func (s *SQLiteProvider) Validate() error {
	if s.path == "" {
		return errors.New("sqlite-path is required")
	}
	return nil
}

// Init opens the database and applies the pending migrations.
func (s *SQLiteProvider) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database %s: %w", s.path, err)
	}
	// a single connection serializes writers instead of failing with SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping sqlite database %s: %w", s.path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to enable WAL", slog.String("path", s.path), slog.Any("error", err))
	}

	dbmigrator.SetDatabaseType(dbmigrator.SQLite)
	<-dbmigrator.MigrateUpCh(db, migrationFS, "migrations")

	s.db = db
	if s.now == nil {
		s.now = time.Now
	}
	return nil
}

// Close closes the database.
func (s *SQLiteProvider) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteProvider) queryFields(ctx context.Context, query string, args ...any) ([]types.FieldDefinition, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fields: %w", err)
	}
	defer rows.Close()

	var fields []types.FieldDefinition
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan field: %w", err)
		}
		var fd types.FieldDefinition
		if err := json.Unmarshal([]byte(raw), &fd); err != nil {
			return nil, fmt.Errorf("failed to unmarshal field: %w", err)
		}
		fields = append(fields, fd)
	}
	return fields, rows.Err()
}

// ListFields retrieves every catalog field.
func (s *SQLiteProvider) ListFields(ctx context.Context) ([]types.FieldDefinition, error) {
	return s.queryFields(ctx, "SELECT json FROM fields ORDER BY created_at, id")
}

// FindFields retrieves the fields of a command service and path, oldest first.
func (s *SQLiteProvider) FindFields(ctx context.Context, svc types.CommandService, path string) ([]types.FieldDefinition, error) {
	return s.queryFields(
		ctx,
		"SELECT json FROM fields WHERE command_service = ? AND path_expression = ? ORDER BY created_at, id",
		string(svc),
		path,
	)
}

// GetField retrieves a catalog field by id.
func (s *SQLiteProvider) GetField(ctx context.Context, id string) (types.FieldDefinition, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT json FROM fields WHERE id = ?", id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return types.FieldDefinition{}, fmt.Errorf("%w: %s", ErrFieldNotFound, id)
	}
	if err != nil {
		return types.FieldDefinition{}, fmt.Errorf("failed to get field %s: %w", id, err)
	}
	var fd types.FieldDefinition
	if err := json.Unmarshal([]byte(raw), &fd); err != nil {
		return types.FieldDefinition{}, fmt.Errorf("failed to unmarshal field %s: %w", id, err)
	}
	return fd, nil
}

// CreateField inserts a new field.
func (s *SQLiteProvider) CreateField(ctx context.Context, field types.FieldDefinition) error {
	b, err := json.Marshal(field)
	if err != nil {
		return fmt.Errorf("failed to marshal field %s: %w", field.ID, err)
	}
	_, err = s.db.ExecContext(
		ctx,
		"INSERT INTO fields (id, json, command_service, path_expression, created_at) "+
			"VALUES (?, ?, ?, ?, ?)",
		field.ID,
		string(b),
		string(field.CommandService),
		field.PathExpression,
		s.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to create field %s: %w", field.ID, err)
	}
	return nil
}

// UpdateField replaces an existing field, keeping its creation time.
func (s *SQLiteProvider) UpdateField(ctx context.Context, field types.FieldDefinition) error {
	b, err := json.Marshal(field)
	if err != nil {
		return fmt.Errorf("failed to marshal field %s: %w", field.ID, err)
	}
	res, err := s.db.ExecContext(
		ctx,
		"UPDATE fields SET json = ?, command_service = ?, path_expression = ? WHERE id = ?",
		string(b),
		string(field.CommandService),
		field.PathExpression,
		field.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update field %s: %w", field.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrFieldNotFound, field.ID)
	}
	return nil
}

// DeleteFields deletes the given fields. Missing ones are ignored.
func (s *SQLiteProvider) DeleteFields(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM fields WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete field %s: %w", id, err)
		}
	}
	return nil
}

// GetDevice retrieves a device by id.
func (s *SQLiteProvider) GetDevice(ctx context.Context, id string) (types.Device, error) {
	return getDevice(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDevice(ctx context.Context, q queryRower, id string) (types.Device, error) {
	var raw string
	err := q.QueryRowContext(ctx, "SELECT json FROM devices WHERE id = ?", id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	if err != nil {
		return types.Device{}, fmt.Errorf("failed to get device %s: %w", id, err)
	}
	var d types.Device
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return types.Device{}, fmt.Errorf("failed to unmarshal device %s: %w", id, err)
	}
	return d, nil
}

// ListDevices retrieves all devices. Malformed rows are skipped.
func (s *SQLiteProvider) ListDevices(ctx context.Context) ([]types.Device, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, json FROM devices ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []types.Device
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		var d types.Device
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal device", slog.String("deviceID", id), slog.Any("error", err))
			continue
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// PutDevice creates or replaces a device.
func (s *SQLiteProvider) PutDevice(ctx context.Context, device types.Device) error {
	b, err := json.Marshal(device)
	if err != nil {
		return fmt.Errorf("failed to marshal device %s: %w", device.ID, err)
	}
	_, err = s.db.ExecContext(
		ctx,
		"INSERT INTO devices (id, json) VALUES (?, ?) "+
			"ON CONFLICT(id) DO UPDATE SET json = excluded.json",
		device.ID,
		string(b),
	)
	if err != nil {
		return fmt.Errorf("failed to put device %s: %w", device.ID, err)
	}
	return nil
}

// SetDeviceInitialized flips the initialized flag of a device.
func (s *SQLiteProvider) SetDeviceInitialized(ctx context.Context, id string, initialized bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	d, err := getDevice(ctx, tx, id)
	if err != nil {
		return err
	}
	d.Initialized = initialized
	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal device %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE devices SET json = ? WHERE id = ?", string(b), id); err != nil {
		return fmt.Errorf("failed to update device %s: %w", id, err)
	}
	return tx.Commit()
}

// ListVariables retrieves the variables of a device with their bindings.
func (s *SQLiteProvider) ListVariables(ctx context.Context, deviceID string) ([]types.BoundVariable, error) {
	rows, err := s.db.QueryContext(
		ctx,
		"SELECT id, json, binding, found FROM variables WHERE device_id = ? ORDER BY name",
		deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query variables: %w", err)
	}
	defer rows.Close()

	var vars []types.BoundVariable
	for rows.Next() {
		var (
			id, raw string
			binding sql.NullString
			found   bool
		)
		if err := rows.Scan(&id, &raw, &binding, &found); err != nil {
			return nil, fmt.Errorf("failed to scan variable: %w", err)
		}
		var bv types.BoundVariable
		if err := json.Unmarshal([]byte(raw), &bv.Variable); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal variable", slog.String("variableID", id), slog.Any("error", err))
			continue
		}
		if binding.Valid && binding.String != "" {
			var b types.VariableBinding
			if err := json.Unmarshal([]byte(binding.String), &b); err != nil {
				log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal binding", slog.String("variableID", id), slog.Any("error", err))
			} else {
				b.FoundInLastRequest = found
				bv.Binding = &b
			}
		}
		vars = append(vars, bv)
	}
	return vars, rows.Err()
}

// FindVariable retrieves a device variable by name.
func (s *SQLiteProvider) FindVariable(ctx context.Context, deviceID, name string) (types.Variable, bool, error) {
	var raw string
	err := s.db.QueryRowContext(
		ctx,
		"SELECT json FROM variables WHERE device_id = ? AND name = ? LIMIT 1",
		deviceID,
		name,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Variable{}, false, nil
	}
	if err != nil {
		return types.Variable{}, false, fmt.Errorf("failed to find variable %s: %w", name, err)
	}
	var v types.Variable
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return types.Variable{}, false, fmt.Errorf("failed to unmarshal variable %s: %w", name, err)
	}
	return v, true, nil
}

// PutVariable creates or replaces a variable, keeping its binding.
func (s *SQLiteProvider) PutVariable(ctx context.Context, v types.Variable) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal variable %s: %w", v.ID, err)
	}
	_, err = s.db.ExecContext(
		ctx,
		"INSERT INTO variables (id, device_id, name, json) VALUES (?, ?, ?, ?) "+
			"ON CONFLICT(id) DO UPDATE SET device_id = excluded.device_id, name = excluded.name, json = excluded.json",
		v.ID,
		v.DeviceID,
		v.Name,
		string(b),
	)
	if err != nil {
		return fmt.Errorf("failed to put variable %s: %w", v.ID, err)
	}
	return nil
}

// PutBinding sets the binding of an existing variable and clears its found
// flag.
func (s *SQLiteProvider) PutBinding(ctx context.Context, b types.VariableBinding) error {
	b.FoundInLastRequest = false
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal binding %s: %w", b.VariableID, err)
	}
	res, err := s.db.ExecContext(
		ctx,
		"UPDATE variables SET binding = ?, found = 0 WHERE id = ?",
		string(raw),
		b.VariableID,
	)
	if err != nil {
		return fmt.Errorf("failed to put binding %s: %w", b.VariableID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrVariableNotFound, b.VariableID)
	}
	return nil
}

// RecordFound sets the found flag of each variable. Unknown variables are
// ignored.
func (s *SQLiteProvider) RecordFound(ctx context.Context, found map[string]bool) error {
	for id, ok := range found {
		if _, err := s.db.ExecContext(ctx, "UPDATE variables SET found = ? WHERE id = ?", ok, id); err != nil {
			return fmt.Errorf("failed to record found flag of %s: %w", id, err)
		}
	}
	return nil
}

// QueryPrevValue retrieves the timestamp of the last stored point of a variable.
func (s *SQLiteProvider) QueryPrevValue(ctx context.Context, variableID string) (time.Time, bool, error) {
	var ts int64
	err := s.db.QueryRowContext(
		ctx,
		"SELECT ts FROM points WHERE variable_id = ? ORDER BY ts DESC LIMIT 1",
		variableID,
	).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get latest point of %s: %w", variableID, err)
	}
	return time.Unix(ts, 0).UTC(), true, nil
}

// Commit upserts the points in a single transaction. Rewriting an identical
// value is not counted as a change. When several points share a timestamp the
// last one is stored.
func (s *SQLiteProvider) Commit(ctx context.Context, variableID string, points []types.SeriesPoint) (bool, error) {
	if len(points) == 0 {
		return false, nil
	}
	points = lastValues(points)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(
		ctx,
		"INSERT INTO points (variable_id, ts, value) VALUES (?, ?, ?) "+
			"ON CONFLICT(variable_id, ts) DO UPDATE SET value = excluded.value "+
			"WHERE points.value <> excluded.value",
	)
	if err != nil {
		return false, fmt.Errorf("failed to prepare commit: %w", err)
	}
	defer stmt.Close()

	var changed int64
	for _, p := range points {
		res, err := stmt.ExecContext(ctx, variableID, p.Timestamp, p.Value)
		if err != nil {
			return false, fmt.Errorf("failed to write point %d of %s: %w", p.Timestamp, variableID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to count written points: %w", err)
		}
		changed += n
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit points of %s: %w", variableID, err)
	}
	return changed > 0, nil
}

// GetHistory retrieves the points of a variable within the time range.
func (s *SQLiteProvider) GetHistory(ctx context.Context, variableID string, start, end time.Time) ([]types.SeriesPoint, error) {
	rows, err := s.db.QueryContext(
		ctx,
		"SELECT ts, value FROM points WHERE variable_id = ? AND ts >= ? AND ts < ? ORDER BY ts",
		variableID,
		start.Unix(),
		end.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query points: %w", err)
	}
	defer rows.Close()

	var points []types.SeriesPoint
	for rows.Next() {
		var p types.SeriesPoint
		if err := rows.Scan(&p.Timestamp, &p.Value); err != nil {
			return nil, fmt.Errorf("failed to scan point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
