package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
)

type pingTask struct {
	Target string `json:"target"`
	n      int
}

func (*pingTask) Kind() string { return "Ping" }
func (*pingTask) Run(context.Context, *Context) error { return nil }

type noopTask struct{}

func (noopTask) Kind() string { return "Noop" }
func (noopTask) Run(context.Context, *Context) error { return nil }

type clashTask struct {
	Type string `json:"type"`
}

func (*clashTask) Kind() string { return "Clash" }
func (*clashTask) Run(context.Context, *Context) error { return nil }

func testRegistry() *Registry {
	r := NewRegistry()
	r.Register("Ping", func() Task { return &pingTask{n: 42} })
	r.Register("Noop", func() Task { return &noopTask{} })
	r.Register("Clash", func() Task { return &clashTask{} })
	return r
}

func TestRegistry_EncodeCarriesType(t *testing.T) {
	t.Parallel()
	r := testRegistry()

	raw, err := r.Encode(&pingTask{Target: "example.com"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["type"] != "Ping" || got["target"] != "example.com" {
		t.Errorf("encoded = %s", raw)
	}

	raw, err = r.Encode(noopTask{})
	if err != nil {
		t.Fatalf("Encode(noop): %v", err)
	}
	if string(raw) != `{"type":"Noop"}` {
		t.Errorf("encoded noop = %s", raw)
	}
}

func TestRegistry_DecodeInjectsDeps(t *testing.T) {
	t.Parallel()
	r := testRegistry()

	task, err := r.Decode(json.RawMessage(`{"type":"Ping","target":"a.example"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	p, ok := task.(*pingTask)
	if !ok {
		t.Fatalf("Decode returned %T, want *pingTask", task)
	}
	if p.Target != "a.example" {
		t.Errorf("Target = %q", p.Target)
	}
	if p.n != 42 {
		t.Errorf("factory state lost: n = %d", p.n)
	}
}

func TestRegistry_DecodeErrors(t *testing.T) {
	t.Parallel()
	r := testRegistry()

	cases := []struct {
		name        string
		raw         string
		wantKind    string
		wantUnknown bool
	}{
		{"unknown kind", `{"type":"Nope"}`, "Nope", true},
		{"missing type", `{"target":"x"}`, "", true},
		{"type not a string", `{"type":7}`, "", false},
		{"not an object", `[1,2]`, "", false},
		{"unknown field", `{"type":"Ping","target":"x","extra":1}`, "Ping", false},
		{"wrong field type", `{"type":"Ping","target":5}`, "Ping", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := r.Decode(json.RawMessage(tc.raw))
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("err = %v, want *DecodeError", err)
			}
			if de.Kind != tc.wantKind {
				t.Errorf("Kind = %q, want %q", de.Kind, tc.wantKind)
			}
			if got := errors.Is(err, ErrUnknownTask); got != tc.wantUnknown {
				t.Errorf("errors.Is(ErrUnknownTask) = %v, want %v", got, tc.wantUnknown)
			}
		})
	}
}

func TestRegistry_EncodeRejects(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Register("Clash", func() Task { return &clashTask{} })

	if _, err := r.Encode(&pingTask{}); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("Encode(unregistered) err = %v, want ErrUnknownTask", err)
	}
	if _, err := r.Encode(&clashTask{Type: "x"}); err == nil {
		t.Error("Encode should reject a task with its own \"type\" field")
	}
}

func TestRegistry_RegisterPanicsOnDuplicate(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Register("Noop", func() Task { return noopTask{} })
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate kind")
		}
	}()
	r.Register("Noop", func() Task { return noopTask{} })
}

func TestRegistry_Kinds(t *testing.T) {
	t.Parallel()
	got := testRegistry().Kinds()
	want := []string{"Clash", "Noop", "Ping"}
	if len(got) != len(want) {
		t.Fatalf("Kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Kinds[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAdvisoryKey_DomainSeparated(t *testing.T) {
	t.Parallel()
	if advisoryKey("jobs", "Cleanup") == advisoryKey("other", "Cleanup") {
		t.Error("domains must not share keys")
	}
	if kindLockKey("Cleanup") != kindLockKey("Cleanup") {
		t.Error("key must be stable")
	}
	if kindLockKey("Cleanup") == kindLockKey(uuid.NewString()) {
		t.Error("distinct kinds collided")
	}
}
