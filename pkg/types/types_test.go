package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandServices(t *testing.T) {
	assert.Equal(t, []CommandService{
		CommandServiceLoadCurvePA,
		CommandServiceEnergyEA,
		CommandServiceEnergyER,
		CommandServiceIndexHC,
		CommandServiceIndexHP,
		CommandServiceTechnical,
	}, CommandServices())
}

func TestCommandServiceSpec(t *testing.T) {
	tests := []struct {
		svc        CommandService
		series     bool
		months     int
		windowDays int
		measure    MeasureType
		curve      string
	}{
		{svc: CommandServiceTechnical},
		{svc: CommandServiceLoadCurvePA, series: true, months: 24, windowDays: 6, measure: MeasureTypeCurve, curve: "PA"},
		{svc: CommandServiceEnergyEA, series: true, months: 36, measure: MeasureTypeEnergy, curve: "EA"},
		{svc: CommandServiceEnergyER, series: true, months: 36, measure: MeasureTypeEnergy, curve: "ER"},
		{svc: CommandServiceIndexHC, series: true, months: 36, measure: MeasureTypeIndex, curve: "HC"},
		{svc: CommandServiceIndexHP, series: true, months: 36, measure: MeasureTypeIndex, curve: "HP"},
	}
	for _, tt := range tests {
		t.Run(string(tt.svc), func(t *testing.T) {
			spec, ok := tt.svc.Spec()
			require.True(t, ok)
			assert.True(t, tt.svc.Valid())
			assert.Equal(t, tt.series, tt.svc.IsSeries())
			assert.Equal(t, tt.months, spec.MaxHistoryMonths)
			assert.Equal(t, tt.windowDays, spec.WindowDays)
			assert.Equal(t, tt.measure, spec.MeasureType)
			assert.Equal(t, tt.curve, spec.CurveType)
		})
	}

	old := CommandService("detailsV2")
	_, ok := old.Spec()
	assert.False(t, ok)
	assert.False(t, old.Valid())
	assert.False(t, old.IsSeries())
	assert.EqualError(t, UnknownCommandServiceError{Value: old}, "unknown command service: detailsV2")
}

func TestDeviceCredentialsValidate(t *testing.T) {
	valid := DeviceCredentials{
		Login:          "me@example.com",
		CertificateRef: "cert.pem",
		PrivateKeyRef:  "key.pem",
		MeterID:        "30001234567890",
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		modify func(*DeviceCredentials)
		msg    string
	}{
		{name: "meter", modify: func(c *DeviceCredentials) { c.MeterID = "" }, msg: "PDL"},
		{name: "login", modify: func(c *DeviceCredentials) { c.Login = "  " }, msg: "login"},
		{name: "certificate", modify: func(c *DeviceCredentials) { c.CertificateRef = "" }, msg: "certificate"},
		{name: "key", modify: func(c *DeviceCredentials) { c.PrivateKeyRef = "" }, msg: "private key"},
		{name: "first missing wins", modify: func(c *DeviceCredentials) { c.MeterID = ""; c.Login = "" }, msg: "PDL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.modify(&c)
			err := c.Validate()
			assert.ErrorIs(t, err, ErrInvalidCredentials)
			assert.ErrorContains(t, err, tt.msg)
		})
	}
}

func TestDevicePrepareSave(t *testing.T) {
	d := Device{Initialized: true}
	d.PrepareSave()
	assert.False(t, d.Initialized)
	assert.Equal(t, DefaultPollingInterval, d.PollingInterval)

	d = Device{PollingInterval: time.Hour}
	d.PrepareSave()
	assert.Equal(t, time.Hour, d.PollingInterval)
}

func TestBoundVariableJSON(t *testing.T) {
	b, err := json.Marshal(BoundVariable{Variable: Variable{ID: "v1"}})
	require.NoError(t, err)
	assert.NotContains(t, string(b), "binding")
}

func TestSeriesPointTime(t *testing.T) {
	p := SeriesPoint{Timestamp: 1709251200, Value: "1"}
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), p.Time())
}
