package nest

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"nestctl/internal/stream"
)

type fieldKey struct {
	collection string
	id         string
	field      string
}

// Registry is the source-of-truth indirection between the stream and the
// live views. It holds only values delivered by the stream (or written
// optimistically after a successful command); a miss means the reader must
// fetch live. Updates are atomic per field; fields from one event carry no
// cross-field atomicity.
type Registry struct {
	mu     sync.RWMutex
	values map[fieldKey]json.RawMessage
}

func NewRegistry() *Registry {
	return &Registry{values: make(map[fieldKey]json.RawMessage)}
}

// Apply stores one stream event. Paths look like
// "structures/<id>/<field>" or "devices/thermostats/<id>/<field>"; the
// last two segments are the id and field, the rest is the collection.
func (r *Registry) Apply(ev stream.Event) {
	collection, id, field, err := splitPath(ev.Path)
	if err != nil {
		log.WithError(err).Debug("dropping stream event with unusable path")
		return
	}
	r.mu.Lock()
	r.values[fieldKey{collection, id, field}] = ev.Value
	r.mu.Unlock()
}

// Put records an optimistic write after a successful command.
func (r *Registry) Put(collection, id, field string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.values[fieldKey{collection, id, field}] = raw
	r.mu.Unlock()
}

// Seed stores every field of a freshly fetched record, so after a connect
// a registry miss always means the field was never part of the record.
func (r *Registry) Seed(collection, id string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode record for seeding: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("failed to split record into fields: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for field, value := range fields {
		r.values[fieldKey{collection, id, field}] = value
	}
	return nil
}

// Lookup unmarshals the stream-delivered value for one field into out.
// The boolean reports whether the registry held the field at all.
func (r *Registry) Lookup(collection, id, field string, out any) (bool, error) {
	r.mu.RLock()
	raw, ok := r.values[fieldKey{collection, id, field}]
	r.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("failed to decode %s value for %s/%s: %w", field, collection, id, err)
	}
	return true, nil
}

func splitPath(path string) (collection, id, field string, err error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 {
		return "", "", "", fmt.Errorf("path %q has fewer than three segments", path)
	}
	field = parts[len(parts)-1]
	id = parts[len(parts)-2]
	collection = strings.Join(parts[:len(parts)-2], "/")
	return collection, id, field, nil
}
