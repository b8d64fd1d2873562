package provision

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gosimple/slug"
	"github.com/raterudder/sgetiers/pkg/types"
)

// DeviceFile lists devices to create, one [[device]] table each.
type DeviceFile struct {
	Devices []DeviceEntry `toml:"device"`
}

// DeviceEntry is one device of a DeviceFile.
type DeviceEntry struct {
	ID              string        `toml:"id"`
	Name            string        `toml:"name"`
	MeterID         string        `toml:"meter_id"`
	Login           string        `toml:"login"`
	Certificate     string        `toml:"certificate"`
	PrivateKey      string        `toml:"private_key"`
	Authorization   bool          `toml:"authorization_granted"`
	PollingInterval time.Duration `toml:"polling_interval"`
	// Fields are catalog labels to enable. Every field is enabled when empty.
	Fields []string `toml:"fields"`
}

// Device converts the entry, deriving the id from the name when missing.
func (e DeviceEntry) Device() types.Device {
	id := e.ID
	if id == "" {
		id = slug.Make(e.Name)
	}
	d := types.Device{
		ID:   id,
		Name: e.Name,
		Credentials: types.DeviceCredentials{
			Login:                e.Login,
			CertificateRef:       e.Certificate,
			PrivateKeyRef:        e.PrivateKey,
			MeterID:              e.MeterID,
			AuthorizationGranted: e.Authorization,
		},
		PollingInterval: e.PollingInterval,
	}
	d.PrepareSave()
	return d
}

// FieldIDs returns the ids of the catalog fields the entry enables.
func (e DeviceEntry) FieldIDs(catalog []types.FieldDefinition) ([]string, error) {
	byLabel := make(map[string]string, len(catalog))
	ids := make([]string, 0, len(catalog))
	for _, f := range catalog {
		ids = append(ids, f.ID)
		if _, ok := byLabel[f.Label]; !ok {
			byLabel[f.Label] = f.ID
		}
	}
	if len(e.Fields) == 0 {
		return ids, nil
	}
	ids = ids[:0]
	for _, label := range e.Fields {
		id, ok := byLabel[label]
		if !ok {
			return nil, fmt.Errorf("device %q: no catalog field labelled %q", e.Name, label)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// LoadDeviceFile decodes and validates a TOML device list.
func LoadDeviceFile(path string) (DeviceFile, error) {
	var f DeviceFile
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return DeviceFile{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return DeviceFile{}, fmt.Errorf("unknown keys in %s: %v", path, undecoded)
	}
	seen := make(map[string]bool, len(f.Devices))
	for i, e := range f.Devices {
		if e.Name == "" {
			return DeviceFile{}, fmt.Errorf("device #%d has no name", i+1)
		}
		d := e.Device()
		if err := d.Credentials.Validate(); err != nil {
			return DeviceFile{}, fmt.Errorf("device %q: %w", e.Name, err)
		}
		if seen[d.ID] {
			return DeviceFile{}, fmt.Errorf("device id %q is used twice", d.ID)
		}
		seen[d.ID] = true
	}
	return f, nil
}
