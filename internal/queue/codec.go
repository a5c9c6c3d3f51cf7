// ABOUTME: Task interface and the closed kind -> factory registry used to encode task
// ABOUTME: values into jobs.params and decode them back. The "type" key is the discriminator.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// typeKey is the discriminator field carried by every encoded task.
const typeKey = "type"

// ErrUnknownTask is wrapped by DecodeError when the payload names no known kind.
var ErrUnknownTask = errors.New("unknown task type")

// Task is one kind of background work. Kind is the stable wire name stored in
// the "type" key; the remaining exported fields are serialized as JSON.
type Task interface {
	Kind() string
	Run(ctx context.Context, jc *Context) error
}

// Factory returns a zero task of one kind, with any runtime dependencies
// already injected. Decode fills the task's fields from the payload.
type Factory func() Task

// DecodeError reports a payload that could not be turned back into a Task.
type DecodeError struct {
	Kind string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("decode task: %v", e.Err)
	}
	return fmt.Sprintf("decode task %q: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Registry maps kinds to factories. It is populated once at startup and only
// read afterwards.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a kind. It panics on an empty or duplicate kind since both are
// programming errors in the startup wiring.
func (r *Registry) Register(kind string, f Factory) {
	if kind == "" {
		panic("queue: empty task kind")
	}
	if _, dup := r.factories[kind]; dup {
		panic(fmt.Sprintf("queue: task kind %q registered twice", kind))
	}
	r.factories[kind] = f
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Encode serializes t as a JSON object holding t's fields plus "type".
func (r *Registry) Encode(t Task) (json.RawMessage, error) {
	kind := t.Kind()
	if _, ok := r.factories[kind]; !ok {
		return nil, fmt.Errorf("encode task %q: %w", kind, ErrUnknownTask)
	}
	body, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode task %q: %w", kind, err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode task %q: not a JSON object: %w", kind, err)
	}
	if _, clash := fields[typeKey]; clash {
		return nil, fmt.Errorf("encode task %q: field %q is reserved", kind, typeKey)
	}
	tag, _ := json.Marshal(kind) //nolint:errcheck // marshalling a string cannot fail
	fields[typeKey] = tag
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode task %q: %w", kind, err)
	}
	return out, nil
}

// Decode reconstructs the task named by raw's "type" key. Unknown kinds and
// payloads whose fields do not fit the kind yield a *DecodeError.
func (r *Registry) Decode(raw json.RawMessage) (Task, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &DecodeError{Err: err}
	}
	tag, ok := fields[typeKey]
	if !ok {
		return nil, &DecodeError{Err: fmt.Errorf("missing %q: %w", typeKey, ErrUnknownTask)}
	}
	var kind string
	if err := json.Unmarshal(tag, &kind); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("%q is not a string: %w", typeKey, err)}
	}
	f, ok := r.factories[kind]
	if !ok {
		return nil, &DecodeError{Kind: kind, Err: ErrUnknownTask}
	}
	delete(fields, typeKey)
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, &DecodeError{Kind: kind, Err: err}
	}

	t := f()
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(t); err != nil {
		return nil, &DecodeError{Kind: kind, Err: err}
	}
	return t, nil
}
