// Package acquisition reads the variables of an SGE device: it groups them by
// command service, paginates series services over their history and commits
// what the responses contain.
package acquisition

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raterudder/sgetiers/pkg/extract"
	"github.com/raterudder/sgetiers/pkg/log"
	"github.com/raterudder/sgetiers/pkg/sge"
	"github.com/raterudder/sgetiers/pkg/types"
)

// FoundRecorder stores whether each variable was present in the last
// response of its command service.
type FoundRecorder interface {
	RecordFound(ctx context.Context, found map[string]bool) error
}

// Device reads the variables of one metering point.
type Device struct {
	cfg      Config
	backend  sge.Backend
	history  History
	creds    types.DeviceCredentials
	bindings map[string]types.BoundVariable
	recorder FoundRecorder
}

// NewDevice validates the credentials and returns a reader over the given
// variables. A credentials error is meant for the operator and must not be
// retried.
func NewDevice(cfg Config, backend sge.Backend, history History, creds types.DeviceCredentials, vars []types.BoundVariable) (*Device, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	bindings := make(map[string]types.BoundVariable, len(vars))
	for _, v := range vars {
		bindings[v.Variable.ID] = v
	}
	return &Device{
		cfg:      cfg,
		backend:  backend,
		history:  history,
		creds:    creds,
		bindings: bindings,
	}, nil
}

// SetFoundRecorder sets where found flags are recorded after each command
// service. Without one they are only logged.
func (d *Device) SetFoundRecorder(r FoundRecorder) {
	d.recorder = r
}

// Group splits the requested variables by command service. Unknown
// variables, variables without a binding and bindings to an unknown command
// service are logged and left out.
func (d *Device) Group(ctx context.Context, ids []string) types.ReadRequest {
	req := make(types.ReadRequest)
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		bv, ok := d.bindings[id]
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "variable not in the device registry", slog.String("variableID", id))
			continue
		}
		if bv.Binding == nil {
			log.Ctx(ctx).WarnContext(ctx, "variable has no sge binding", slog.String("variableID", id))
			continue
		}
		svc := bv.Binding.CommandService
		if !svc.Valid() {
			log.Ctx(ctx).WarnContext(ctx, "variable bound to an unknown command service", slog.String("variableID", id), slog.String("commandService", string(svc)))
			continue
		}
		req[svc] = append(req[svc], id)
	}
	return req
}

// ReadAll reads the requested variables and returns the ids of those that got
// new data. Failures are logged; a failing command service doesn't stop the
// others.
func (d *Device) ReadAll(ctx context.Context, ids []string) []string {
	req := d.Group(ctx, ids)
	var updated []string
	for _, svc := range types.CommandServices() {
		group, ok := req[svc]
		if !ok {
			continue
		}
		updated = append(updated, d.readService(ctx, svc, group)...)
	}
	log.Ctx(ctx).InfoContext(ctx, "read finished", slog.Int("requested", len(ids)), slog.Int("updated", len(updated)))
	return updated
}

func (d *Device) readService(parent context.Context, svc types.CommandService, ids []string) []string {
	ctx := log.WithAttrs(parent, slog.String("commandService", string(svc)))
	inv, err := d.backend.Configure(svc)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to configure sge client", slog.Any("error", err))
		return nil
	}

	vars := make([]types.BoundVariable, 0, len(ids))
	for _, id := range ids {
		vars = append(vars, d.bindings[id])
	}
	params := sge.Params{
		Login:         d.creds.Login,
		PRM:           d.creds.MeterID,
		Authorization: d.creds.AuthorizationGranted,
	}

	var updated []string
	var found map[string]bool
	if svc.IsSeries() {
		// Backfill adds the command service to the logger itself
		res := Backfill(parent, d.cfg, inv, params, svc, vars, d.history)
		if res.Err != nil {
			log.Ctx(ctx).WarnContext(ctx, "backfill stopped early", slog.Int("windows", len(res.Windows)), slog.Any("error", res.Err))
		}
		updated, found = res.Updated, res.Found
	} else {
		updated, found, err = d.readScalars(ctx, inv, params, vars)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to read technical data", slog.Any("error", err))
		}
	}
	d.recordFound(ctx, found)
	return updated
}

// readScalars makes a single request, retried on any error, and commits each
// value found with the read time. Found flags are nil when the request
// failed.
func (d *Device) readScalars(ctx context.Context, inv sge.Invoker, params sge.Params, vars []types.BoundVariable) ([]string, map[string]bool, error) {
	readTime := d.cfg.now().Unix()
	found := make(map[string]bool, len(vars))
	for _, v := range vars {
		found[v.Variable.ID] = false
	}

	attempts := d.cfg.maxAttempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		root, err := invokeAndParse(ctx, inv, params)
		if err != nil {
			lastErr = err
			log.Ctx(ctx).WarnContext(ctx, "technical request failed", slog.Int("attempt", attempt), slog.Any("error", err))
			if attempt < attempts {
				if err := d.cfg.sleep(ctx, d.cfg.RetryBackoff); err != nil {
					return nil, nil, err
				}
			}
			continue
		}

		var updated []string
		for _, v := range vars {
			value, ok := extract.Scalar(ctx, root, v.Binding.PathExpression)
			if !ok || value == "" {
				continue
			}
			found[v.Variable.ID] = true
			applied, err := d.history.Commit(ctx, v.Variable.ID, []types.SeriesPoint{{Timestamp: readTime, Value: value}})
			if err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to commit value", slog.String("variableID", v.Variable.ID), slog.Any("error", err))
				continue
			}
			if applied {
				updated = append(updated, v.Variable.ID)
			}
		}
		return updated, found, nil
	}
	return nil, nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, lastErr)
}

func (d *Device) recordFound(ctx context.Context, found map[string]bool) {
	if len(found) == 0 {
		return
	}
	if d.recorder == nil {
		log.Ctx(ctx).DebugContext(ctx, "found flags not recorded", slog.Any("found", found))
		return
	}
	if err := d.recorder.RecordFound(ctx, found); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to record found flags", slog.Any("error", err))
	}
}
