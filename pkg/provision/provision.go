// Package provision creates the variables and bindings of catalog fields an
// operator enables on a device.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/raterudder/sgetiers/pkg/log"
	"github.com/raterudder/sgetiers/pkg/types"
)

// Store is what provisioning reads fields from and writes variables to.
type Store interface {
	GetField(ctx context.Context, id string) (types.FieldDefinition, error)
	// FindVariable returns the device variable with the given name, false if
	// there is none.
	FindVariable(ctx context.Context, deviceID, name string) (types.Variable, bool, error)
	PutVariable(ctx context.Context, v types.Variable) error
	PutBinding(ctx context.Context, b types.VariableBinding) error
}

// VariableName is the name given to the variable of field on device.
func VariableName(device types.Device, field types.FieldDefinition) string {
	return slug.Make(device.Name + " " + field.Label)
}

// EnableFields creates or updates, for each field, a variable of the device
// and binds it to the field's command service and path. A failing field is
// logged and skipped. It returns how many fields were provisioned and the
// joined errors.
func EnableFields(ctx context.Context, store Store, device types.Device, fieldIDs []string) (int, error) {
	ctx = log.WithAttrs(ctx, slog.String("deviceID", device.ID))
	var errs []error
	var n int
	for _, id := range fieldIDs {
		v, created, err := enableField(ctx, store, device, id)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to provision field", slog.String("fieldID", id), slog.Any("error", err))
			errs = append(errs, err)
			continue
		}
		log.Ctx(ctx).DebugContext(
			ctx,
			"provisioned field",
			slog.String("fieldID", id),
			slog.String("variable", v.Name),
			slog.Bool("created", created),
		)
		n++
	}
	return n, errors.Join(errs...)
}

func enableField(ctx context.Context, store Store, device types.Device, fieldID string) (types.Variable, bool, error) {
	field, err := store.GetField(ctx, fieldID)
	if err != nil {
		return types.Variable{}, false, fmt.Errorf("failed to get field %s: %w", fieldID, err)
	}
	if !field.CommandService.Valid() {
		return types.Variable{}, false, types.UnknownCommandServiceError{Value: field.CommandService}
	}

	name := VariableName(device, field)
	if name == "" {
		return types.Variable{}, false, fmt.Errorf("field %s gives an empty variable name", fieldID)
	}
	v, ok, err := store.FindVariable(ctx, device.ID, name)
	if err != nil {
		return types.Variable{}, false, fmt.Errorf("failed to find variable %s: %w", name, err)
	}
	if !ok {
		v = types.Variable{
			ID:       uuid.NewString(),
			DeviceID: device.ID,
			Name:     name,
			Active:   true,
		}
	}
	// every value is stored, without change filtering
	v.CovIncrement = -1
	v.Description = field.Label
	v.Unit = field.Unit
	if err := store.PutVariable(ctx, v); err != nil {
		return types.Variable{}, false, fmt.Errorf("failed to put variable %s: %w", name, err)
	}

	b := types.VariableBinding{
		VariableID:     v.ID,
		CommandService: field.CommandService,
		PathExpression: field.PathExpression,
	}
	if err := store.PutBinding(ctx, b); err != nil {
		return types.Variable{}, false, fmt.Errorf("failed to bind variable %s: %w", name, err)
	}
	return v, !ok, nil
}
