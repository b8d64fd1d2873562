// Package connector runs read cycles: it loads devices and their variables
// from storage and hands them to the acquisition reader.
package connector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/raterudder/sgetiers/pkg/acquisition"
	"github.com/raterudder/sgetiers/pkg/log"
	"github.com/raterudder/sgetiers/pkg/sge"
	"github.com/raterudder/sgetiers/pkg/storage"
)

// Connector reads devices stored in a Database through their SGE clients.
type Connector struct {
	storage storage.Database
	clients *sge.Map
	cfg     *acquisition.Config
}

// New returns a Connector. cfg is read on each cycle so it may be filled in
// by flags after New returns.
func New(db storage.Database, clients *sge.Map, cfg *acquisition.Config) *Connector {
	return &Connector{
		storage: db,
		clients: clients,
		cfg:     cfg,
	}
}

// ReadDevice reads every active bound variable of the device and returns the
// ids of those that got new data. Read failures inside a command service are
// logged by the reader; an error is only returned when the device could not
// be set up.
func (c *Connector) ReadDevice(ctx context.Context, deviceID string) ([]string, error) {
	ctx = log.WithAttrs(ctx, slog.String("deviceID", deviceID))

	device, err := c.storage.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	if err := device.Credentials.Validate(); err != nil {
		return nil, err
	}
	vars, err := c.storage.ListVariables(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list variables: %w", err)
	}
	backend, err := c.clients.Device(deviceID, device.Credentials)
	if err != nil {
		return nil, fmt.Errorf("failed to get sge client: %w", err)
	}
	reader, err := acquisition.NewDevice(*c.cfg, backend, c.storage, device.Credentials, vars)
	if err != nil {
		return nil, err
	}
	reader.SetFoundRecorder(c.storage)

	var ids []string
	for _, v := range vars {
		if v.Variable.Active && v.Binding != nil {
			ids = append(ids, v.Variable.ID)
		}
	}
	if len(ids) == 0 {
		log.Ctx(ctx).InfoContext(ctx, "no bound variable to read")
	}
	updated := reader.ReadAll(ctx, ids)
	sort.Strings(updated)

	if !device.Initialized {
		if err := c.storage.SetDeviceInitialized(ctx, deviceID, true); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to mark device initialized", slog.Any("error", err))
		}
	}
	return updated, nil
}

// ReadAll reads every stored device and returns the updated variable ids per
// device. A failing device is logged and the next one is read.
func (c *Connector) ReadAll(ctx context.Context) (map[string][]string, error) {
	ctx = log.WithAttrs(ctx, slog.String("cycleID", uuid.NewString()))

	devices, err := c.storage.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "starting read cycle", slog.Int("devices", len(devices)))

	results := make(map[string][]string, len(devices))
	for _, d := range devices {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		updated, err := c.ReadDevice(ctx, d.ID)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to read device", slog.String("deviceID", d.ID), slog.Any("error", err))
			continue
		}
		results[d.ID] = updated
	}
	return results, nil
}
