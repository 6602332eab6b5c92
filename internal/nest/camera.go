package nest

import (
	"context"
	"time"
)

// Camera is a live view over one camera.
type Camera struct {
	id string
	s  *Session
}

func (c *Camera) ID() string { return c.id }

func (c *Camera) path() string { return "/devices/cameras/" + c.id }

// Snapshot fetches the whole record live.
func (c *Camera) Snapshot(ctx context.Context) (*CameraData, error) {
	var d CameraData
	if err := c.s.api.Get(ctx, c.path(), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Camera) Name(ctx context.Context) (string, error) {
	var v string
	if ok, err := c.s.registry.Lookup(colCameras, c.id, "name", &v); ok {
		return v, err
	}
	d, err := c.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return d.Name, nil
}

func (c *Camera) Online(ctx context.Context) (bool, error) {
	var v bool
	if ok, err := c.s.registry.Lookup(colCameras, c.id, "is_online", &v); ok {
		return v, err
	}
	d, err := c.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return d.IsOnline, nil
}

func (c *Camera) IsStreaming(ctx context.Context) (bool, error) {
	var v bool
	if ok, err := c.s.registry.Lookup(colCameras, c.id, "is_streaming", &v); ok {
		return v, err
	}
	d, err := c.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return d.IsStreaming, nil
}

func (c *Camera) MotionDetected(ctx context.Context) (bool, error) {
	var v bool
	if ok, err := c.s.registry.Lookup(colCameras, c.id, "motion_detected", &v); ok {
		return v, err
	}
	d, err := c.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return d.MotionDetected, nil
}

func (c *Camera) LastEventAt(ctx context.Context) (time.Time, error) {
	var v time.Time
	if ok, err := c.s.registry.Lookup(colCameras, c.id, "last_event_at", &v); ok {
		return v, err
	}
	d, err := c.Snapshot(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return d.LastEventAt, nil
}

// SetStreaming enables or disables the camera stream.
func (c *Camera) SetStreaming(ctx context.Context, enabled bool) error {
	if err := c.s.api.Put(ctx, c.path(), map[string]any{"is_streaming": enabled}, nil); err != nil {
		return err
	}
	c.s.registry.Put(colCameras, c.id, "is_streaming", enabled)
	return nil
}
