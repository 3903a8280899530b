package events

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

// FieldSpec describes one payload field of an event schema.
type FieldSpec struct {
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// EventSchema maps a (type, version) pair to the structural schema of the
// event payload.
type EventSchema struct {
	Type    string               `json:"type"`
	Version string               `json:"version"`
	Fields  map[string]FieldSpec `json:"fields"`
}

// SchemaRegistry validates events before they hit the wire. BaseEvent fields
// are checked with struct tags; payload fields against the registered schema
// for the event's (type, version), if any.
type SchemaRegistry struct {
	mu       sync.RWMutex
	schemas  map[string]EventSchema
	validate *validator.Validate
}

func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{
		schemas:  make(map[string]EventSchema),
		validate: validator.New(),
	}
}

func schemaKey(eventType, version string) string {
	return eventType + "@" + version
}

func (r *SchemaRegistry) Register(schema EventSchema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[schemaKey(schema.Type, schema.Version)] = schema
}

func (r *SchemaRegistry) Lookup(eventType, version string) (EventSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schema, ok := r.schemas[schemaKey(eventType, version)]
	return schema, ok
}

// ValidateBase checks the envelope fields shared by all events.
func (r *SchemaRegistry) ValidateBase(base BaseEvent) error {
	if err := r.validate.Struct(base); err != nil {
		return fmt.Errorf("invalid event envelope: %w", err)
	}
	return nil
}

// ValidatePayload checks payload against the schema registered for the
// event's type and version. Unregistered types pass.
func (r *SchemaRegistry) ValidatePayload(base BaseEvent, payload map[string]interface{}) error {
	schema, ok := r.Lookup(base.Type, base.Version)
	if !ok {
		return nil
	}
	for name, spec := range schema.Fields {
		if _, present := payload[name]; !present {
			if spec.Required {
				return fmt.Errorf("event %s missing required field %q", base.Type, name)
			}
		}
	}
	return nil
}
