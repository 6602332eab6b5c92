package nest

import (
	"context"
	"fmt"
)

// Structure is a live view over one home/site. Every read is served by the
// latest stream-delivered value or, failing that, a fresh fetch; nothing
// is cached locally.
type Structure struct {
	id string
	s  *Session
}

func (st *Structure) ID() string { return st.id }

func (st *Structure) path() string { return "/structures/" + st.id }

// Snapshot fetches the whole record live.
func (st *Structure) Snapshot(ctx context.Context) (*StructureData, error) {
	var d StructureData
	if err := st.s.api.Get(ctx, st.path(), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (st *Structure) Name(ctx context.Context) (string, error) {
	var v string
	if ok, err := st.s.registry.Lookup(colStructures, st.id, "name", &v); ok {
		return v, err
	}
	d, err := st.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return d.Name, nil
}

func (st *Structure) Away(ctx context.Context) (Away, error) {
	var v Away
	if ok, err := st.s.registry.Lookup(colStructures, st.id, "away", &v); ok {
		return v, err
	}
	d, err := st.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return d.Away, nil
}

func (st *Structure) SecurityState(ctx context.Context) (string, error) {
	var v string
	if ok, err := st.s.registry.Lookup(colStructures, st.id, "security_state", &v); ok {
		return v, err
	}
	d, err := st.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return d.SecurityState, nil
}

func (st *Structure) PostalCode(ctx context.Context) (string, error) {
	var v string
	if ok, err := st.s.registry.Lookup(colStructures, st.id, "postal_code", &v); ok {
		return v, err
	}
	d, err := st.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return d.PostalCode, nil
}

func (st *Structure) CountryCode(ctx context.Context) (string, error) {
	var v string
	if ok, err := st.s.registry.Lookup(colStructures, st.id, "country_code", &v); ok {
		return v, err
	}
	d, err := st.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return d.CountryCode, nil
}

// Thermostats returns live views over the structure's thermostats.
func (st *Structure) Thermostats(ctx context.Context) ([]*Thermostat, error) {
	var ids []string
	if ok, err := st.s.registry.Lookup(colStructures, st.id, "thermostats", &ids); !ok || err != nil {
		if err != nil {
			return nil, err
		}
		d, err := st.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		ids = d.Thermostats
	}
	out := make([]*Thermostat, 0, len(ids))
	for _, id := range ids {
		out = append(out, &Thermostat{id: id, s: st.s})
	}
	return out, nil
}

// Cameras returns live views over the structure's cameras.
func (st *Structure) Cameras(ctx context.Context) ([]*Camera, error) {
	var ids []string
	if ok, err := st.s.registry.Lookup(colStructures, st.id, "cameras", &ids); !ok || err != nil {
		if err != nil {
			return nil, err
		}
		d, err := st.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		ids = d.Cameras
	}
	out := make([]*Camera, 0, len(ids))
	for _, id := range ids {
		out = append(out, &Camera{id: id, s: st.s})
	}
	return out, nil
}

// SetAway validates and issues the away command, updating the local view
// optimistically on success only.
func (st *Structure) SetAway(ctx context.Context, away Away) error {
	if away != AwayHome && away != AwayAway {
		return &InvalidOperationError{Reason: fmt.Sprintf("away must be %q or %q, got %q", AwayHome, AwayAway, away)}
	}
	if err := st.s.api.Put(ctx, st.path(), map[string]any{"away": away}, nil); err != nil {
		return err
	}
	st.s.registry.Put(colStructures, st.id, "away", away)
	return nil
}
