// Package task provides structural validation and signatures for submitted tasks.
package task

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/blackms/swarm-core/internal/shared"
)

// Schema lists the payload keys that must be present for a task type.
type Schema struct {
	Required []string `json:"required" yaml:"required" mapstructure:"required"`
}

// DefaultSchemas returns the built-in structural schemas.
func DefaultSchemas() map[shared.TaskType]Schema {
	return map[shared.TaskType]Schema{
		shared.TaskTypeBuild:  {Required: []string{"files"}},
		shared.TaskTypeDeploy: {Required: []string{"target"}},
	}
}

// Validator checks tasks against per-type schemas. The schemas belong to the
// caller; the validator only checks that required keys are present.
type Validator struct {
	mu      sync.RWMutex
	schemas map[shared.TaskType]Schema
}

// NewValidator creates a Validator. A nil map installs DefaultSchemas.
func NewValidator(schemas map[shared.TaskType]Schema) *Validator {
	if schemas == nil {
		schemas = DefaultSchemas()
	}
	v := &Validator{schemas: make(map[shared.TaskType]Schema, len(schemas))}
	for t, s := range schemas {
		v.schemas[t] = Schema{Required: append([]string(nil), s.Required...)}
	}
	return v
}

// SetSchema replaces the schema for a task type.
func (v *Validator) SetSchema(taskType shared.TaskType, schema Schema) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.schemas[taskType] = Schema{Required: append([]string(nil), schema.Required...)}
}

// Schema returns the schema registered for a task type.
func (v *Validator) Schema(taskType shared.TaskType) (Schema, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	s, ok := v.schemas[taskType]
	return s, ok
}

// Validate returns an InvalidTaskError describing the first structural problem.
func (v *Validator) Validate(t shared.Task) error {
	if t.ID == "" {
		return shared.NewInvalidTaskError("task id is required", nil)
	}
	if t.Type == "" {
		return shared.NewInvalidTaskError("task type is required", map[string]interface{}{"taskId": t.ID})
	}

	schema, ok := v.Schema(t.Type)
	if !ok {
		return nil
	}

	var missing []string
	for _, key := range schema.Required {
		if _, present := t.Payload[key]; !present {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return shared.NewInvalidTaskError(
			fmt.Sprintf("payload for %q task is missing required fields", t.Type),
			map[string]interface{}{"taskId": t.ID, "missing": missing},
		)
	}
	return nil
}

// Signature identifies a task by type and a hash of its canonical JSON
// payload. Tasks with equal signatures produce equal analyses.
func Signature(t shared.Task) (string, error) {
	// encoding/json sorts map keys, which makes the encoding canonical.
	data, err := json.Marshal(t.Payload)
	if err != nil {
		return "", shared.NewInvalidTaskError("payload is not JSON-serializable", map[string]interface{}{
			"taskId": t.ID,
			"error":  err.Error(),
		})
	}
	sum := sha256.Sum256(data)
	return string(t.Type) + ":" + hex.EncodeToString(sum[:]), nil
}
