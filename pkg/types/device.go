package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultPollingInterval is applied to devices saved without an interval. SGE
// publishes detailed measurements once a day.
const DefaultPollingInterval = 24 * time.Hour

// ErrInvalidCredentials is wrapped by every DeviceCredentials validation error.
var ErrInvalidCredentials = errors.New("invalid device credentials")

// DeviceCredentials are the SGE Tiers access parameters of one metering point.
type DeviceCredentials struct {
	Login string `json:"login"`
	// CertificateRef and PrivateKeyRef are file names inside the certificate
	// directory provisioned by the operator.
	CertificateRef string `json:"certificateRef"`
	PrivateKeyRef  string `json:"privateKeyRef"`
	// MeterID is the PRM (also called PDL) of the metering point.
	MeterID              string `json:"meterID"`
	AuthorizationGranted bool   `json:"authorizationGranted"`
}

// Validate checks that every field needed to talk to SGE is filled in. The
// message is meant to be shown to the operator.
func (c DeviceCredentials) Validate() error {
	if strings.TrimSpace(c.MeterID) == "" {
		return fmt.Errorf("%w: enter a PDL", ErrInvalidCredentials)
	}
	if strings.TrimSpace(c.Login) == "" {
		return fmt.Errorf("%w: enter a login", ErrInvalidCredentials)
	}
	if strings.TrimSpace(c.CertificateRef) == "" {
		return fmt.Errorf("%w: choose a certificate from the certificate directory", ErrInvalidCredentials)
	}
	if strings.TrimSpace(c.PrivateKeyRef) == "" {
		return fmt.Errorf("%w: choose a private key from the certificate directory", ErrInvalidCredentials)
	}
	return nil
}

// Device is one metering point polled through SGE Tiers.
type Device struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Credentials DeviceCredentials `json:"credentials"`
	// PollingInterval is how often the external scheduler should call
	// /api/read for this device. It is served by GET /api/devices; a read
	// cycle itself reads every device it is asked for.
	PollingInterval time.Duration `json:"pollingInterval"`
	// Initialized is set once a read cycle completed after the last save.
	Initialized bool `json:"initialized"`
	// AutoCreateFields lists the catalog fields enabled for this device.
	AutoCreateFields []string `json:"autoCreateFields,omitempty"`
}

// PrepareSave applies the defaults every device save goes through.
func (d *Device) PrepareSave() {
	d.Initialized = false
	if d.PollingInterval <= 0 {
		d.PollingInterval = DefaultPollingInterval
	}
}

// Variable is an entry of the time-series variable registry.
type Variable struct {
	ID          string `json:"id"`
	DeviceID    string `json:"deviceID"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Unit        Unit   `json:"unit"`
	// CovIncrement of -1 stores every value without change filtering.
	CovIncrement float64 `json:"covIncrement"`
	Active       bool    `json:"active"`
}

// VariableBinding links a variable to the extraction contract of a field.
type VariableBinding struct {
	VariableID         string         `json:"variableID"`
	CommandService     CommandService `json:"commandService"`
	PathExpression     string         `json:"pathExpression"`
	FoundInLastRequest bool           `json:"foundInLastRequest"`
}

// BoundVariable pairs a variable with its binding, if it has one.
type BoundVariable struct {
	Variable Variable         `json:"variable"`
	Binding  *VariableBinding `json:"binding,omitempty"`
}
