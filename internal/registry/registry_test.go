package registry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/HerbHall/netmedic/pkg/plugin"
)

// testModule is a minimal module for testing.
type testModule struct {
	info      plugin.Info
	initErr   error
	stopOrder *[]string
	stopCount *int32
}

func newTestModule(name string, deps ...string) *testModule {
	return &testModule{
		info: plugin.Info{
			Name:         name,
			Version:      "1.0.0",
			Description:  "test module " + name,
			Dependencies: deps,
		},
	}
}

func (m *testModule) Info() plugin.Info                                  { return m.info }
func (m *testModule) Init(_ context.Context, _ plugin.Dependencies) error { return m.initErr }
func (m *testModule) Start(_ context.Context) error                      { return nil }

func (m *testModule) Stop(_ context.Context) error {
	if m.stopCount != nil {
		atomic.AddInt32(m.stopCount, 1)
	}
	if m.stopOrder != nil {
		*m.stopOrder = append(*m.stopOrder, m.info.Name)
	}
	return nil
}

func testDeps() func(string) plugin.Dependencies {
	return func(name string) plugin.Dependencies {
		return plugin.Dependencies{
			Logger: zap.NewNop().Named(name),
		}
	}
}

func TestRegister(t *testing.T) {
	reg := New(zap.NewNop())

	m := newTestModule("alpha")
	if err := reg.Register(m); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// Duplicate registration should fail.
	if err := reg.Register(m); err == nil {
		t.Fatal("Register() expected error for duplicate, got nil")
	}
}

func TestRegisterEmptyName(t *testing.T) {
	reg := New(zap.NewNop())
	m := &testModule{info: plugin.Info{Name: ""}}
	if err := reg.Register(m); err == nil {
		t.Fatal("Register() expected error for empty name, got nil")
	}
}

func TestValidateWithDeps(t *testing.T) {
	reg := New(zap.NewNop())
	reg.Register(newTestModule("b", "a")) // b depends on a
	reg.Register(newTestModule("a"))

	if err := reg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	aIdx, bIdx := -1, -1
	for i, name := range reg.order {
		switch name {
		case "a":
			aIdx = i
		case "b":
			bIdx = i
		}
	}
	if aIdx >= bIdx {
		t.Errorf("expected a (idx %d) before b (idx %d)", aIdx, bIdx)
	}
}

func TestValidateCycleDetection(t *testing.T) {
	reg := New(zap.NewNop())
	reg.Register(newTestModule("a", "b"))
	reg.Register(newTestModule("b", "a"))

	if err := reg.Validate(); err == nil {
		t.Fatal("Validate() expected cycle error, got nil")
	}
}

func TestValidateMissingRequiredDep(t *testing.T) {
	reg := New(zap.NewNop())
	m := newTestModule("a", "missing")
	m.info.Required = true
	reg.Register(m)

	if err := reg.Validate(); err == nil {
		t.Fatal("Validate() expected error for missing required dep, got nil")
	}
}

func TestValidateDisablesOptionalWithMissingDep(t *testing.T) {
	reg := New(zap.NewNop())
	reg.Register(newTestModule("a", "missing")) // optional, dep doesn't exist

	if err := reg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if !reg.IsDisabled("a") {
		t.Error("expected module 'a' to be disabled")
	}
}

func TestCascadeDisable(t *testing.T) {
	reg := New(zap.NewNop())
	reg.Register(newTestModule("a", "missing")) // disabled: missing dep
	reg.Register(newTestModule("b", "a"))       // depends on disabled a

	if err := reg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if !reg.IsDisabled("a") {
		t.Error("expected 'a' to be disabled")
	}
	if !reg.IsDisabled("b") {
		t.Error("expected 'b' to be cascade disabled")
	}
}

func TestInitAllRequiredFails(t *testing.T) {
	reg := New(zap.NewNop())
	m := newTestModule("a")
	m.info.Required = true
	m.initErr = errors.New("init failed")
	reg.Register(m)
	reg.Validate()

	if err := reg.InitAll(context.Background(), testDeps()); err == nil {
		t.Fatal("InitAll() expected error for required module failure, got nil")
	}
}

func TestInitAllOptionalDisabledOnFailure(t *testing.T) {
	reg := New(zap.NewNop())
	m := newTestModule("a")
	m.initErr = errors.New("init failed")
	reg.Register(m)
	reg.Validate()

	if err := reg.InitAll(context.Background(), testDeps()); err != nil {
		t.Fatalf("InitAll() error = %v", err)
	}
	if !reg.IsDisabled("a") {
		t.Error("expected optional module 'a' to be disabled after init failure")
	}
}

func TestStopAllReverseOrder(t *testing.T) {
	var stopOrder []string
	reg := New(zap.NewNop())

	// Start order a, b, c; stop order must be the reverse.
	a := newTestModule("a")
	a.stopOrder = &stopOrder
	b := newTestModule("b", "a")
	b.stopOrder = &stopOrder
	c := newTestModule("c", "b")
	c.stopOrder = &stopOrder

	reg.Register(a)
	reg.Register(b)
	reg.Register(c)
	reg.Validate()

	ctx := context.Background()
	reg.InitAll(ctx, testDeps())
	reg.StartAll(ctx)
	reg.StopAll(ctx)

	expected := []string{"c", "b", "a"}
	if len(stopOrder) != len(expected) {
		t.Fatalf("stop order length = %d, want %d", len(stopOrder), len(expected))
	}
	for i, name := range expected {
		if stopOrder[i] != name {
			t.Errorf("stop order[%d] = %q, want %q", i, stopOrder[i], name)
		}
	}
}

func TestStopAllSkipsDisabled(t *testing.T) {
	var stopCount int32
	reg := New(zap.NewNop())

	active := newTestModule("active")
	active.stopCount = &stopCount

	disabled := newTestModule("disabled", "missing")
	disabled.stopCount = &stopCount

	reg.Register(active)
	reg.Register(disabled)
	reg.Validate()

	ctx := context.Background()
	reg.InitAll(ctx, testDeps())
	reg.StartAll(ctx)
	reg.StopAll(ctx)

	if stopCount != 1 {
		t.Errorf("stop count = %d, want 1 (disabled module should be skipped)", stopCount)
	}
}

func TestGet(t *testing.T) {
	reg := New(zap.NewNop())
	reg.Register(newTestModule("a"))
	reg.Validate()

	if _, ok := reg.Get("a"); !ok {
		t.Error("Get('a') returned false, want true")
	}
	if _, ok := reg.Get("nonexistent"); ok {
		t.Error("Get('nonexistent') returned true, want false")
	}
}
