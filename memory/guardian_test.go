package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/deeplooplabs/perfopt"
	"github.com/deeplooplabs/perfopt/hook"
)

// recordingActions records every mutation in order
type recordingActions struct {
	calls []string
}

func (r *recordingActions) ClearCache() { r.calls = append(r.calls, "clear") }
func (r *recordingActions) ResetCache(maxSize int) {
	r.calls = append(r.calls, fmt.Sprintf("reset:%d", maxSize))
}
func (r *recordingActions) DiscardRules() { r.calls = append(r.calls, "discard") }
func (r *recordingActions) RestoreRules() { r.calls = append(r.calls, "restore") }
func (r *recordingActions) ShrinkRules(cacheMaxSize, maxPageSize int) {
	r.calls = append(r.calls, fmt.Sprintf("shrink:%d:%d", cacheMaxSize, maxPageSize))
}

func newTestGuardian(render, heap float64, hooks *hook.Registry) (*Guardian, *recordingActions, *CountingCollector, *StaticSampler) {
	actions := &recordingActions{}
	collector := &CountingCollector{}
	sampler := NewStaticSampler(render, heap)
	g := NewGuardian(actions, Config{
		Sampler:   sampler,
		Collector: collector,
		Hooks:     hooks,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return g, actions, collector, sampler
}

func TestClassify(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		render, heap float64
		want         State
	}{
		{50, 50, Healthy},
		{80, 90, Healthy},
		{50, 95, HeapPressure},
		{81, 95, Elevated},
		{86, 0, Reclaim},
		{90.5, 0, Emergency},
		{96, 99, Critical},
	}

	for _, tt := range tests {
		if got := Classify(tt.render, tt.heap, th); got != tt.want {
			t.Errorf("Classify(%v, %v) = %s, want %s", tt.render, tt.heap, got, tt.want)
		}
	}
}

func TestStateString(t *testing.T) {
	if Critical.String() != "critical" || HeapPressure.String() != "heap_pressure" {
		t.Error("unexpected state names")
	}
	if State(42).String() != "unknown" {
		t.Error("expected unknown for out of range state")
	}
}

func TestGuardian_Healthy(t *testing.T) {
	g, actions, collector, _ := newTestGuardian(40, 40, nil)

	state, err := g.Check(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != Healthy {
		t.Errorf("expected healthy, got %s", state)
	}
	if len(actions.calls) != 0 || collector.Count() != 0 {
		t.Errorf("expected no action, got %v and %d collections", actions.calls, collector.Count())
	}
}

func TestGuardian_HeapOnly(t *testing.T) {
	g, actions, collector, _ := newTestGuardian(50, 95, nil)

	state, _ := g.Check(context.Background())
	if state != HeapPressure {
		t.Errorf("expected heap pressure, got %s", state)
	}
	if len(actions.calls) != 0 {
		t.Errorf("expected cache untouched, got %v", actions.calls)
	}
	if collector.Count() != 1 {
		t.Errorf("expected one collection, got %d", collector.Count())
	}
}

func TestGuardian_Tiers(t *testing.T) {
	tests := []struct {
		name        string
		render      float64
		calls       []string
		collections int
	}{
		{"elevated", 82, []string{"clear"}, 0},
		{"reclaim", 87, []string{"clear"}, 1},
		{"emergency", 92, []string{"clear", "clear", "reset:500"}, 4},
		{"critical", 96, []string{
			"clear",
			"clear", "reset:500",
			"clear", "reset:500", "discard", "restore", "reset:100", "shrink:100:50",
		}, 1 + 3 + 3 + 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, actions, collector, _ := newTestGuardian(tt.render, 99, nil)

			if _, err := g.Check(context.Background()); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(actions.calls, tt.calls) {
				t.Errorf("expected %v, got %v", tt.calls, actions.calls)
			}
			if collector.Count() != tt.collections {
				t.Errorf("expected %d collections, got %d", tt.collections, collector.Count())
			}
		})
	}
}

type failingCleanup struct {
	name  string
	err   error
	panic bool
}

func (f *failingCleanup) Name() string { return f.name }

func (f *failingCleanup) ClearCache(ctx context.Context) error {
	if f.panic {
		panic("handle gone")
	}
	return f.err
}

type errorSink struct {
	errs  []error
	tiers []string
}

func (e *errorSink) Name() string { return "sink" }
func (e *errorSink) OnError(ctx context.Context, err error) {
	e.errs = append(e.errs, err)
}
func (e *errorSink) OnTier(ctx context.Context, tier string) {
	e.tiers = append(e.tiers, tier)
}

func TestGuardian_CleanupFailuresAreContained(t *testing.T) {
	hooks := hook.NewRegistry()
	sink := &errorSink{}
	ok := &failingCleanup{name: "ok"}
	hooks.Register(
		&failingCleanup{name: "broken", err: errors.New("closed")},
		&failingCleanup{name: "panicky", panic: true},
		ok,
		sink,
	)

	g, actions, _, _ := newTestGuardian(92, 0, hooks)

	state, err := g.Check(context.Background())
	if err != nil {
		t.Fatalf("expected failures to be contained, got %v", err)
	}
	if state != Emergency {
		t.Errorf("expected emergency, got %s", state)
	}
	if actions.calls[len(actions.calls)-1] != "reset:500" {
		t.Errorf("expected cleanup to finish, got %v", actions.calls)
	}

	if len(sink.errs) != 1 {
		t.Fatalf("expected one joined error, got %d", len(sink.errs))
	}
	var cleanupErr *perfopt.CleanupError
	if !errors.As(sink.errs[0], &cleanupErr) {
		t.Errorf("expected a cleanup error, got %v", sink.errs[0])
	}
	if !reflect.DeepEqual(sink.tiers, []string{"cache", "gc", "emergency"}) {
		t.Errorf("unexpected tiers: %v", sink.tiers)
	}
}

// panickingSink fails every notification it receives
type panickingSink struct{}

func (p *panickingSink) Name() string { return "panicking-sink" }
func (p *panickingSink) OnError(ctx context.Context, err error) {
	panic("sink down")
}
func (p *panickingSink) OnTier(ctx context.Context, tier string) {
	panic("sink down")
}

func TestGuardian_PanickingHooksAreContained(t *testing.T) {
	hooks := hook.NewRegistry()
	sink := &errorSink{}
	hooks.Register(
		&failingCleanup{name: "broken", err: errors.New("closed")},
		&panickingSink{},
		sink,
	)

	g, actions, _, _ := newTestGuardian(92, 0, hooks)

	state, err := g.Check(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != Emergency {
		t.Errorf("expected emergency, got %s", state)
	}
	if actions.calls[len(actions.calls)-1] != "reset:500" {
		t.Errorf("expected cleanup to finish, got %v", actions.calls)
	}
	// hooks registered after the panicking one are still notified
	if len(sink.errs) != 1 {
		t.Errorf("expected one reported error, got %d", len(sink.errs))
	}
	if !reflect.DeepEqual(sink.tiers, []string{"cache", "gc", "emergency"}) {
		t.Errorf("unexpected tiers: %v", sink.tiers)
	}
}

func TestGuardian_PanickingCollector(t *testing.T) {
	hooks := hook.NewRegistry()
	sink := &errorSink{}
	hooks.Register(sink)

	actions := &recordingActions{}
	g := NewGuardian(actions, Config{
		Sampler:   NewStaticSampler(97, 0),
		Collector: CollectorFunc(func() { panic("gc unavailable") }),
		Hooks:     hooks,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	if _, err := g.Check(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.errs) == 0 {
		t.Fatal("expected panics to be reported")
	}
	if actions.calls[len(actions.calls)-1] != "shrink:100:50" {
		t.Errorf("expected rules restored after a panic, got %v", actions.calls)
	}
}

func TestGuardian_SampleError(t *testing.T) {
	g, actions, _, sampler := newTestGuardian(99, 0, nil)
	sampler.Fail(errors.New("no procfs"))

	if _, err := g.Check(context.Background()); err == nil {
		t.Fatal("expected sample error")
	}
	if len(actions.calls) != 0 {
		t.Errorf("expected no cleanup without a sample, got %v", actions.calls)
	}
}

func TestGuardian_Last(t *testing.T) {
	g, _, _, sampler := newTestGuardian(10, 20, nil)

	g.Check(context.Background())
	snap, state := g.Last()
	if snap.RenderPercent != 10 || snap.HeapPercent != 20 || state != Healthy {
		t.Errorf("unexpected last reading: %+v %s", snap, state)
	}

	sampler.Set(83, 0)
	g.Check(context.Background())
	if _, state := g.Last(); state != Elevated {
		t.Errorf("expected elevated, got %s", state)
	}
}

func TestRuntimeSampler(t *testing.T) {
	s := NewRuntimeSampler(1 << 40)

	snap, err := s.Sample()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.HeapSys == 0 || snap.HeapPercent <= 0 || snap.HeapPercent > 100 {
		t.Errorf("unexpected heap figures: %+v", snap)
	}
	if snap.Limit != 1<<40 || snap.RSS == 0 {
		t.Errorf("unexpected process figures: %+v", snap)
	}
	if snap.HeapRatio() != snap.HeapPercent/100 {
		t.Error("expected heap ratio to be the fraction of heap percent")
	}
}

func TestRuntimeSampler_NoLimit(t *testing.T) {
	var buf bytes.Buffer
	s := NewRuntimeSampler(0)
	s.fs = nil
	s.cgroupFile = filepath.Join(t.TempDir(), "missing")
	s.logger = slog.New(slog.NewTextHandler(&buf, nil))

	for i := 0; i < 2; i++ {
		snap, err := s.Sample()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if snap.Limit != 0 || snap.RenderPercent != 0 {
			t.Errorf("expected no render signal, got %+v", snap)
		}
		if snap.RSS == 0 {
			t.Error("expected resident memory from the runtime")
		}
	}
	if n := strings.Count(buf.String(), "No memory limit found"); n != 1 {
		t.Errorf("expected one warning, got %d", n)
	}
}

func TestReadCgroupLimit(t *testing.T) {
	dir := t.TempDir()

	write := func(content string) string {
		path := filepath.Join(dir, "memory.max")
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
		return path
	}

	if limit, ok := readCgroupLimit(write("536870912\n")); !ok || limit != 536870912 {
		t.Errorf("expected 512MiB, got %d", limit)
	}
	if _, ok := readCgroupLimit(write("max\n")); ok {
		t.Error("expected unlimited cgroup to be ignored")
	}
	if _, ok := readCgroupLimit(filepath.Join(dir, "missing")); ok {
		t.Error("expected missing file to be ignored")
	}
}
