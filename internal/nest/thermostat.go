package nest

import (
	"context"
	"fmt"
)

// Thermostat is a live view over one thermostat. Reads prefer the latest
// stream-delivered value and fall back to a fresh fetch; writes validate
// locally, issue the command, and update the view optimistically only on
// success.
type Thermostat struct {
	id string
	s  *Session
}

func (t *Thermostat) ID() string { return t.id }

func (t *Thermostat) path() string { return "/devices/thermostats/" + t.id }

// Snapshot fetches the whole record live.
func (t *Thermostat) Snapshot(ctx context.Context) (*ThermostatData, error) {
	var d ThermostatData
	if err := t.s.api.Get(ctx, t.path(), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (t *Thermostat) Name(ctx context.Context) (string, error) {
	var v string
	if ok, err := t.s.registry.Lookup(colThermostats, t.id, "name", &v); ok {
		return v, err
	}
	d, err := t.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return d.Name, nil
}

func (t *Thermostat) Where(ctx context.Context) (string, error) {
	var v string
	if ok, err := t.s.registry.Lookup(colThermostats, t.id, "where_name", &v); ok {
		return v, err
	}
	d, err := t.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return d.WhereName, nil
}

func (t *Thermostat) Serial(ctx context.Context) (string, error) {
	var v string
	if ok, err := t.s.registry.Lookup(colThermostats, t.id, "serial_number", &v); ok {
		return v, err
	}
	d, err := t.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return d.SerialNumber, nil
}

func (t *Thermostat) Online(ctx context.Context) (bool, error) {
	var v bool
	if ok, err := t.s.registry.Lookup(colThermostats, t.id, "is_online", &v); ok {
		return v, err
	}
	d, err := t.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return d.IsOnline, nil
}

func (t *Thermostat) Mode(ctx context.Context) (Mode, error) {
	var v Mode
	if ok, err := t.s.registry.Lookup(colThermostats, t.id, "hvac_mode", &v); ok {
		return v, err
	}
	d, err := t.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return d.HVACMode, nil
}

func (t *Thermostat) HVACState(ctx context.Context) (string, error) {
	var v string
	if ok, err := t.s.registry.Lookup(colThermostats, t.id, "hvac_state", &v); ok {
		return v, err
	}
	d, err := t.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return d.HVACState, nil
}

func (t *Thermostat) FanTimerActive(ctx context.Context) (bool, error) {
	var v bool
	if ok, err := t.s.registry.Lookup(colThermostats, t.id, "fan_timer_active", &v); ok {
		return v, err
	}
	d, err := t.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return d.FanTimerActive, nil
}

// Temperature is the ambient reading in Celsius.
func (t *Thermostat) Temperature(ctx context.Context) (float64, error) {
	var v float64
	if ok, err := t.s.registry.Lookup(colThermostats, t.id, "ambient_temperature_c", &v); ok {
		return v, err
	}
	d, err := t.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return d.AmbientTemperatureC, nil
}

func (t *Thermostat) Humidity(ctx context.Context) (int, error) {
	var v int
	if ok, err := t.s.registry.Lookup(colThermostats, t.id, "humidity", &v); ok {
		return v, err
	}
	d, err := t.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return d.Humidity, nil
}

func (t *Thermostat) TargetHumidity(ctx context.Context) (int, error) {
	var v int
	if ok, err := t.s.registry.Lookup(colThermostats, t.id, "target_humidity", &v); ok {
		return v, err
	}
	d, err := t.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return d.TargetHumidity, nil
}

// Target is the single setpoint in Celsius, meaningful in heat or cool
// mode.
func (t *Thermostat) Target(ctx context.Context) (float64, error) {
	var v float64
	if ok, err := t.s.registry.Lookup(colThermostats, t.id, "target_temperature_c", &v); ok {
		return v, err
	}
	d, err := t.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return d.TargetTemperatureC, nil
}

// TargetRange is the {heat-low, cool-high} pair, meaningful in heat-cool
// mode.
func (t *Thermostat) TargetRange(ctx context.Context) (low, high float64, err error) {
	okLow, err := t.s.registry.Lookup(colThermostats, t.id, "target_temperature_low_c", &low)
	if err != nil {
		return 0, 0, err
	}
	okHigh, err := t.s.registry.Lookup(colThermostats, t.id, "target_temperature_high_c", &high)
	if err != nil {
		return 0, 0, err
	}
	if okLow && okHigh {
		return low, high, nil
	}
	d, err := t.Snapshot(ctx)
	if err != nil {
		return 0, 0, err
	}
	return d.TargetTemperatureLowC, d.TargetTemperatureHiC, nil
}

// EcoRange is the {eco-low, eco-high} pair.
func (t *Thermostat) EcoRange(ctx context.Context) (low, high float64, err error) {
	okLow, err := t.s.registry.Lookup(colThermostats, t.id, "eco_temperature_low_c", &low)
	if err != nil {
		return 0, 0, err
	}
	okHigh, err := t.s.registry.Lookup(colThermostats, t.id, "eco_temperature_high_c", &high)
	if err != nil {
		return 0, 0, err
	}
	if okLow && okHigh {
		return low, high, nil
	}
	d, err := t.Snapshot(ctx)
	if err != nil {
		return 0, 0, err
	}
	return d.EcoTemperatureLowC, d.EcoTemperatureHighC, nil
}

func (t *Thermostat) Scale(ctx context.Context) (string, error) {
	var v string
	if ok, err := t.s.registry.Lookup(colThermostats, t.id, "temperature_scale", &v); ok {
		return v, err
	}
	d, err := t.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return d.TemperatureScale, nil
}

func (t *Thermostat) IsUsingEmergencyHeat(ctx context.Context) (bool, error) {
	var v bool
	if ok, err := t.s.registry.Lookup(colThermostats, t.id, "is_using_emergency_heat", &v); ok {
		return v, err
	}
	d, err := t.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return d.IsUsingEmergencyHeat, nil
}

// SetTarget sets the single setpoint. Valid only while the device is in
// heat or cool mode; range mode takes SetTargetRange instead.
func (t *Thermostat) SetTarget(ctx context.Context, value float64) error {
	mode, err := t.Mode(ctx)
	if err != nil {
		return err
	}
	if mode != ModeHeat && mode != ModeCool {
		return &InvalidOperationError{Reason: fmt.Sprintf("single target requires heat or cool mode, device is in %q", mode)}
	}
	if err := t.validTarget(value); err != nil {
		return err
	}
	if err := t.s.api.Put(ctx, t.path(), map[string]any{"target_temperature_c": value}, nil); err != nil {
		return err
	}
	t.s.registry.Put(colThermostats, t.id, "target_temperature_c", value)
	return nil
}

// SetTargetRange sets the {heat-low, cool-high} pair. Valid only while the
// device is in heat-cool mode.
func (t *Thermostat) SetTargetRange(ctx context.Context, low, high float64) error {
	mode, err := t.Mode(ctx)
	if err != nil {
		return err
	}
	if mode != ModeHeatCool {
		return &InvalidOperationError{Reason: fmt.Sprintf("target range requires heat-cool mode, device is in %q", mode)}
	}
	if low >= high {
		return &InvalidOperationError{Reason: fmt.Sprintf("range low %.1f must be below high %.1f", low, high)}
	}
	if err := t.validTarget(low); err != nil {
		return err
	}
	if err := t.validTarget(high); err != nil {
		return err
	}
	body := map[string]any{
		"target_temperature_low_c":  low,
		"target_temperature_high_c": high,
	}
	if err := t.s.api.Put(ctx, t.path(), body, nil); err != nil {
		return err
	}
	t.s.registry.Put(colThermostats, t.id, "target_temperature_low_c", low)
	t.s.registry.Put(colThermostats, t.id, "target_temperature_high_c", high)
	return nil
}

// SetMode switches the HVAC mode.
func (t *Thermostat) SetMode(ctx context.Context, mode Mode) error {
	switch mode {
	case ModeHeat, ModeCool, ModeHeatCool, ModeEco, ModeOff:
	default:
		return &InvalidOperationError{Reason: fmt.Sprintf("unknown hvac mode %q", mode)}
	}
	if err := t.s.api.Put(ctx, t.path(), map[string]any{"hvac_mode": mode}, nil); err != nil {
		return err
	}
	t.s.registry.Put(colThermostats, t.id, "hvac_mode", mode)
	return nil
}

// SetFan turns the fan timer on (true) or returns it to auto (false).
func (t *Thermostat) SetFan(ctx context.Context, on bool) error {
	if err := t.s.api.Put(ctx, t.path(), map[string]any{"fan_timer_active": on}, nil); err != nil {
		return err
	}
	t.s.registry.Put(colThermostats, t.id, "fan_timer_active", on)
	return nil
}

// SetTargetHumidity sets the humidity target, accepted in steps of 5
// between 10 and 60 percent.
func (t *Thermostat) SetTargetHumidity(ctx context.Context, pct int) error {
	if pct < MinTargetHumidity || pct > MaxTargetHumidity || pct%HumidityTargetStep != 0 {
		return &InvalidOperationError{Reason: fmt.Sprintf("target humidity must be %d-%d in steps of %d, got %d",
			MinTargetHumidity, MaxTargetHumidity, HumidityTargetStep, pct)}
	}
	if err := t.s.api.Put(ctx, t.path(), map[string]any{"target_humidity": pct}, nil); err != nil {
		return err
	}
	t.s.registry.Put(colThermostats, t.id, "target_humidity", pct)
	return nil
}

// validTarget checks value against the API limits, tightened to the
// device's temperature lock when one has been streamed.
func (t *Thermostat) validTarget(value float64) error {
	low, high := MinTargetC, MaxTargetC
	var min, max float64
	if ok, err := t.s.registry.Lookup(colThermostats, t.id, "locked_temp_min_c", &min); ok && err == nil && min > low {
		low = min
	}
	if ok, err := t.s.registry.Lookup(colThermostats, t.id, "locked_temp_max_c", &max); ok && err == nil && max > 0 && max < high {
		high = max
	}
	if value < low || value > high {
		return &InvalidOperationError{Reason: fmt.Sprintf("target %.1fC outside the %.1f-%.1fC range", value, low, high)}
	}
	return nil
}
