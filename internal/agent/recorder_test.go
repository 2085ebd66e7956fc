package agent

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/vesaa/fleetscope/internal/store"
)

type fakeSampler struct {
	readings []Reading
	err      error
	calls    atomic.Int32
	sampled  chan struct{}
}

func (f *fakeSampler) Sample(ctx context.Context) ([]Reading, error) {
	f.calls.Add(1)
	if f.sampled != nil {
		select {
		case f.sampled <- struct{}{}:
		default:
		}
	}
	return f.readings, f.err
}

func newTestStore(t *testing.T) *store.Service {
	t.Helper()
	db := store.New(store.Config{
		Driver: store.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "recorder.db"),
		Setup:  true,
		Logger: zerolog.Nop(),
	})
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRecordOnce(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()
	sampler := &fakeSampler{readings: []Reading{
		{Type: TypeCPU, Value: "12.50"},
		{Type: TypeMemory, Value: "40.00"},
	}}
	rec := NewRecorder(db, Options{
		UUID:     "local-1",
		Name:     "laptop",
		Username: "bob",
		Sampler:  sampler,
		Logger:   zerolog.Nop(),
	})

	n, err := rec.RecordOnce(ctx)
	if err != nil {
		t.Fatalf("RecordOnce() error = %v", err)
	}
	if n != 2 {
		t.Errorf("RecordOnce() wrote %d, want 2", n)
	}

	h, err := db.Open(ctx)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	got, err := h.Agent.FindByUUID(ctx, "local-1")
	if err != nil {
		t.Fatalf("FindByUUID() error = %v", err)
	}
	if !got.Connected || got.Username != "bob" || got.Name != "laptop" || got.PID == 0 {
		t.Errorf("agent = %+v", got)
	}

	types, err := h.Metric.FindByAgentUUID(ctx, "local-1")
	if err != nil {
		t.Fatalf("FindByAgentUUID() error = %v", err)
	}
	if len(types) != 2 {
		t.Errorf("types = %v, want 2 entries", types)
	}

	if _, err := rec.RecordOnce(ctx); err != nil {
		t.Fatalf("second RecordOnce() error = %v", err)
	}
	all, err := h.Agent.FindAll(ctx)
	if err != nil {
		t.Fatalf("FindAll() error = %v", err)
	}
	if len(all) != 1 {
		t.Errorf("agents after two rounds = %d, want 1", len(all))
	}
}

func TestRecorderGeneratesUUID(t *testing.T) {
	db := newTestStore(t)
	a := NewRecorder(db, Options{Sampler: &fakeSampler{}, Logger: zerolog.Nop()})
	b := NewRecorder(db, Options{Sampler: &fakeSampler{}, Logger: zerolog.Nop()})

	if a.UUID() == "" || a.UUID() == b.UUID() {
		t.Errorf("UUIDs = %q, %q; want distinct non-empty", a.UUID(), b.UUID())
	}
}

func TestRecordOnceSamplerError(t *testing.T) {
	db := newTestStore(t)
	boom := errors.New("probe failed")
	rec := NewRecorder(db, Options{UUID: "local-2", Sampler: &fakeSampler{err: boom}, Logger: zerolog.Nop()})

	if _, err := rec.RecordOnce(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("RecordOnce() error = %v, want %v", err, boom)
	}
}

func TestRunMarksDisconnectedOnCancel(t *testing.T) {
	db := newTestStore(t)
	sampler := &fakeSampler{
		readings: []Reading{{Type: TypeCPU, Value: "1.00"}},
		sampled:  make(chan struct{}, 1),
	}
	rec := NewRecorder(db, Options{UUID: "local-3", Username: "bob", Sampler: sampler, Logger: zerolog.Nop()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx, 10*time.Millisecond) }()

	select {
	case <-sampler.sampled:
	case <-time.After(5 * time.Second):
		t.Fatal("recorder never sampled")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	h, err := db.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	got, err := h.Agent.FindByUUID(context.Background(), "local-3")
	if err != nil {
		t.Fatalf("FindByUUID() error = %v", err)
	}
	if got.Connected {
		t.Error("agent still connected after Run returned")
	}
}

func TestRunRejectsNonPositiveInterval(t *testing.T) {
	rec := NewRecorder(newTestStore(t), Options{Sampler: &fakeSampler{}, Logger: zerolog.Nop()})
	if err := rec.Run(context.Background(), 0); err == nil {
		t.Error("Run() with zero interval should fail")
	}
}

func TestRate(t *testing.T) {
	tests := []struct {
		name      string
		prev, cur uint64
		dt        time.Duration
		want      int64
	}{
		{"steady", 1000, 3000, 2 * time.Second, 1000},
		{"counter reset", 5000, 10, time.Second, 0},
		{"zero interval", 0, 100, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rate(tt.prev, tt.cur, tt.dt); got != tt.want {
				t.Errorf("rate() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCollectorSampleIsNumeric(t *testing.T) {
	readings, err := NewCollector().Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	for _, r := range readings {
		if r.Type == "" {
			t.Errorf("reading with empty type: %+v", r)
		}
		if _, err := strconv.ParseFloat(r.Value, 64); err != nil {
			t.Errorf("%s value %q is not numeric", r.Type, r.Value)
		}
	}
}
