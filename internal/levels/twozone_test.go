package levels

import (
	"testing"

	"fibgrid/internal/domain"
	"fibgrid/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zoneTestConfig() (Config, ZoneConfig) {
	return Config{PriceMin: 90, PriceMax: 150, MaxPosition: 30, LevelCount: 7}, DefaultZoneConfig()
}

func TestNewZoneModel(t *testing.T) {
	cfg, zone := zoneTestConfig()

	m, err := NewZoneModel(cfg, zone)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Len(t, m.Levels(), 7)

	// Boundary must sit inside the operating range.
	bad := zone
	bad.Boundary = 90
	_, err = NewZoneModel(cfg, bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	bad = zone
	bad.DropLarge = bad.DropNormal
	_, err = NewZoneModel(cfg, bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestZoneModel_TargetPositionAt(t *testing.T) {
	cfg, zone := zoneTestConfig()
	m, err := NewZoneModel(cfg, zone)
	require.NoError(t, err)

	assert.Equal(t, 30, m.TargetPositionAt(80))
	assert.Equal(t, 30, m.TargetPositionAt(90))
	assert.Equal(t, 0, m.TargetPositionAt(150))
	assert.Equal(t, 0, m.TargetPositionAt(170))
	// Continuous interpolation, truncated: ratio at 120 is 0.5.
	assert.Equal(t, 15, m.TargetPositionAt(120))
	// ratio at 100 is 1/6 -> 30 * 5/6 = 25.
	assert.Equal(t, 25, m.TargetPositionAt(100))
}

func TestZoneModel_ZoneFor(t *testing.T) {
	cfg, zone := zoneTestConfig()
	m, err := NewZoneModel(cfg, zone)
	require.NoError(t, err)

	assert.Equal(t, domain.ZoneLow, m.ZoneFor(90))
	assert.Equal(t, domain.ZoneLow, m.ZoneFor(119.99))
	assert.Equal(t, domain.ZoneHigh, m.ZoneFor(120))
	assert.Equal(t, domain.ZoneHigh, m.ZoneFor(150))
	assert.Equal(t, domain.ZoneOut, m.ZoneFor(89.99))
	assert.Equal(t, domain.ZoneOut, m.ZoneFor(150.01))
}

func TestZoneModel_ProfitTargetAt(t *testing.T) {
	cfg, zone := zoneTestConfig()
	m, err := NewZoneModel(cfg, zone)
	require.NoError(t, err)

	tests := []struct {
		name  string
		price float64
		want  float64
	}{
		{name: "bottom of the high band", price: 120, want: 2.7},
		{name: "inside the high band", price: 150, want: 2.55}, // 30/80 of the way down 2.7->2.3
		{name: "top of the low band", price: 119.99, want: 3.0},
		{name: "inside the low band", price: 100, want: 3.43}, // 20/70 of the way up 3.0->4.5
		{name: "bottom of the low band", price: 90, want: 3.64},
		{name: "out of range", price: 80, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, m.ProfitTargetAt(tt.price), 1e-9)
		})
	}
}

func TestZoneModel_TakeProfitPrice(t *testing.T) {
	cfg, zone := zoneTestConfig()
	m, err := NewZoneModel(cfg, zone)
	require.NoError(t, err)

	// Entry at 100 targets 3.43%: 100 * 1.0343 = 103.43.
	assert.InDelta(t, 103.43, m.TakeProfitPrice(100), 1e-9)
	// Entry at 120 targets 2.7%: 120 * 1.027 = 123.24.
	assert.InDelta(t, 123.24, m.TakeProfitPrice(120), 1e-9)
	// Out-of-range entries carry no target.
	assert.Equal(t, 0.0, m.TakeProfitPrice(80))
}

func TestZoneModel_ClassifyDrop(t *testing.T) {
	cfg, zone := zoneTestConfig()
	m, err := NewZoneModel(cfg, zone)
	require.NoError(t, err)

	tests := []struct {
		name      string
		reference float64
		current   float64
		want      domain.DropClass
	}{
		{name: "no movement", reference: 120, current: 120, want: domain.DropNone},
		{name: "rise", reference: 120, current: 125, want: domain.DropNone},
		{name: "small dip", reference: 120, current: 118.5, want: domain.DropNone},
		{name: "normal drop at threshold", reference: 120, current: 118, want: domain.DropNormal},
		{name: "normal drop", reference: 120, current: 116.5, want: domain.DropNormal},
		{name: "large drop at threshold", reference: 120, current: 115, want: domain.DropLarge},
		{name: "large drop", reference: 120, current: 110, want: domain.DropLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.ClassifyDrop(tt.reference, tt.current))
		})
	}
}

func TestZoneModel_GridBuyQuantity(t *testing.T) {
	cfg, zone := zoneTestConfig()
	m, err := NewZoneModel(cfg, zone)
	require.NoError(t, err)

	assert.Equal(t, zone.HighNormalQty, m.GridBuyQuantity(domain.ZoneHigh, domain.DropNormal))
	assert.Equal(t, zone.HighLargeQty, m.GridBuyQuantity(domain.ZoneHigh, domain.DropLarge))
	assert.Equal(t, zone.LowNormalQty, m.GridBuyQuantity(domain.ZoneLow, domain.DropNormal))
	assert.Equal(t, zone.LowLargeQty, m.GridBuyQuantity(domain.ZoneLow, domain.DropLarge))
	assert.Equal(t, 0, m.GridBuyQuantity(domain.ZoneHigh, domain.DropNone))
	assert.Equal(t, 0, m.GridBuyQuantity(domain.ZoneOut, domain.DropLarge))
}

func TestZoneModel_ContractBudget(t *testing.T) {
	cfg, zone := zoneTestConfig()
	m, err := NewZoneModel(cfg, zone)
	require.NoError(t, err)

	assert.InDelta(t, 1100.0, m.ContractBudget(130, 1000), 1e-9)
	assert.InDelta(t, 1800.0, m.ContractBudget(100, 1000), 1e-9)
	assert.Equal(t, 0.0, m.ContractBudget(80, 1000))
}
