package nest

import "context"

// Protect is a live, read-only view over one smoke+CO alarm.
type Protect struct {
	id string
	s  *Session
}

func (p *Protect) ID() string { return p.id }

func (p *Protect) path() string { return "/devices/smoke_co_alarms/" + p.id }

// Snapshot fetches the whole record live.
func (p *Protect) Snapshot(ctx context.Context) (*ProtectData, error) {
	var d ProtectData
	if err := p.s.api.Get(ctx, p.path(), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (p *Protect) Name(ctx context.Context) (string, error) {
	var v string
	if ok, err := p.s.registry.Lookup(colProtects, p.id, "name", &v); ok {
		return v, err
	}
	d, err := p.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return d.Name, nil
}

func (p *Protect) Online(ctx context.Context) (bool, error) {
	var v bool
	if ok, err := p.s.registry.Lookup(colProtects, p.id, "is_online", &v); ok {
		return v, err
	}
	d, err := p.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return d.IsOnline, nil
}

func (p *Protect) BatteryHealth(ctx context.Context) (string, error) {
	var v string
	if ok, err := p.s.registry.Lookup(colProtects, p.id, "battery_health", &v); ok {
		return v, err
	}
	d, err := p.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return d.BatteryHealth, nil
}

func (p *Protect) COAlarmState(ctx context.Context) (string, error) {
	var v string
	if ok, err := p.s.registry.Lookup(colProtects, p.id, "co_alarm_state", &v); ok {
		return v, err
	}
	d, err := p.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return d.COAlarmState, nil
}

func (p *Protect) SmokeAlarmState(ctx context.Context) (string, error) {
	var v string
	if ok, err := p.s.registry.Lookup(colProtects, p.id, "smoke_alarm_state", &v); ok {
		return v, err
	}
	d, err := p.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return d.SmokeAlarmState, nil
}

func (p *Protect) UIColorState(ctx context.Context) (string, error) {
	var v string
	if ok, err := p.s.registry.Lookup(colProtects, p.id, "ui_color_state", &v); ok {
		return v, err
	}
	d, err := p.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return d.UIColorState, nil
}

func (p *Protect) IsManualTestActive(ctx context.Context) (bool, error) {
	var v bool
	if ok, err := p.s.registry.Lookup(colProtects, p.id, "is_manual_test_active", &v); ok {
		return v, err
	}
	d, err := p.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return d.IsManualTestActive, nil
}
