// Package catalog maintains the field catalog: which path expression in which
// command service response yields which labelled value.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/raterudder/sgetiers/pkg/log"
	"github.com/raterudder/sgetiers/pkg/types"
)

// ErrFieldNotFound is returned by Resolve when no field matches.
var ErrFieldNotFound = errors.New("field not found")

// Store persists catalog fields.
type Store interface {
	ListFields(ctx context.Context) ([]types.FieldDefinition, error)
	// FindFields returns every field for the pair, oldest first.
	FindFields(ctx context.Context, svc types.CommandService, path string) ([]types.FieldDefinition, error)
	CreateField(ctx context.Context, field types.FieldDefinition) error
	UpdateField(ctx context.Context, field types.FieldDefinition) error
	DeleteFields(ctx context.Context, ids []string) error
}

// Resolve returns the canonical field for the command service and path.
func Resolve(ctx context.Context, store Store, svc types.CommandService, path string) (types.FieldDefinition, error) {
	fields, err := store.FindFields(ctx, svc, path)
	if err != nil {
		return types.FieldDefinition{}, fmt.Errorf("failed to find field: %w", err)
	}
	if len(fields) == 0 {
		return types.FieldDefinition{}, fmt.Errorf("%w: %s %s", ErrFieldNotFound, svc, path)
	}
	return fields[0], nil
}

// Upsert makes sure exactly one field exists for the path and command service
// and that it carries the given label and unit. Duplicates left by earlier
// writers are deleted, keeping the first. The returned bool is true when the
// field was created.
func Upsert(ctx context.Context, store Store, path string, svc types.CommandService, label string, unit types.Unit) (types.FieldDefinition, bool, error) {
	if !svc.Valid() {
		return types.FieldDefinition{}, false, types.UnknownCommandServiceError{Value: svc}
	}

	fields, err := store.FindFields(ctx, svc, path)
	if err != nil {
		return types.FieldDefinition{}, false, fmt.Errorf("failed to find field: %w", err)
	}

	if len(fields) == 0 {
		f := types.FieldDefinition{
			ID:             uuid.NewString(),
			Label:          label,
			CommandService: svc,
			PathExpression: path,
			Unit:           unit,
		}
		if err := store.CreateField(ctx, f); err != nil {
			return types.FieldDefinition{}, false, fmt.Errorf("failed to create field %q: %w", label, err)
		}
		return f, true, nil
	}

	if len(fields) > 1 {
		log.Ctx(ctx).WarnContext(
			ctx,
			"multiple fields for the same path, deleting extras",
			slog.String("commandService", string(svc)),
			slog.String("path", path),
			slog.Int("count", len(fields)),
		)
		ids := make([]string, 0, len(fields)-1)
		for _, f := range fields[1:] {
			ids = append(ids, f.ID)
		}
		if err := store.DeleteFields(ctx, ids); err != nil {
			return types.FieldDefinition{}, false, fmt.Errorf("failed to delete duplicate fields: %w", err)
		}
	}

	f := fields[0]
	if f.Label == label && f.Unit == unit {
		return f, false, nil
	}
	f.Label = label
	f.Unit = unit
	if err := store.UpdateField(ctx, f); err != nil {
		return types.FieldDefinition{}, false, fmt.Errorf("failed to update field %q: %w", label, err)
	}
	return f, false, nil
}

// Seed upserts every default field. It keeps going after a failure and
// returns all the errors joined.
func Seed(ctx context.Context, store Store) error {
	var errs []error
	var created int
	for _, e := range Defaults {
		_, c, err := Upsert(ctx, store, e.PathExpression, e.CommandService, e.Label, e.Unit)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if c {
			created++
			log.Ctx(ctx).InfoContext(
				ctx,
				"field created",
				slog.String("label", e.Label),
				slog.String("commandService", string(e.CommandService)),
			)
		}
	}
	log.Ctx(ctx).DebugContext(ctx, "catalog seeded", slog.Int("created", created), slog.Int("total", len(Defaults)))
	return errors.Join(errs...)
}
