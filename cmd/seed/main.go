package main

import (
	"context"
	"fmt"
	"os"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/sgetiers/pkg/catalog"
	"github.com/raterudder/sgetiers/pkg/log"
	"github.com/raterudder/sgetiers/pkg/provision"
	"github.com/raterudder/sgetiers/pkg/storage"
)

func main() {
	s := storage.Configured()
	devicesFile := lflag.String("devices-file", "", "TOML file of devices to create after seeding the catalog")
	lflag.Configure()

	ctx := context.Background()
	defer s.Close()

	log.Ctx(ctx).InfoContext(ctx, "seeding catalog")
	if err := catalog.Seed(ctx, s); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed catalog", "error", err)
		os.Exit(1)
	}
	if *devicesFile == "" {
		log.Ctx(ctx).InfoContext(ctx, "seeded catalog successfully")
		return
	}

	f, err := provision.LoadDeviceFile(*devicesFile)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load devices", "error", err)
		os.Exit(1)
	}
	fields, err := s.ListFields(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list fields", "error", err)
		os.Exit(1)
	}

	for _, e := range f.Devices {
		device := e.Device()
		ids, err := e.FieldIDs(fields)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to resolve fields", "error", err)
			os.Exit(1)
		}
		device.AutoCreateFields = ids
		if err := s.PutDevice(ctx, device); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed device", "deviceID", device.ID, "error", err)
			os.Exit(1)
		}
		n, err := provision.EnableFields(ctx, s, device, ids)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "some fields were not provisioned", "deviceID", device.ID, "error", err)
		}
		fmt.Printf("Seeded device %s with %d of %d variables\n", device.ID, n, len(ids))
	}
	log.Ctx(ctx).InfoContext(ctx, "seeded catalog and devices successfully")
}
