package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/vesaa/fleetscope/internal/models"
)

func seedAgent(t *testing.T, h *Handle, uuid, username string) *models.Agent {
	t.Helper()
	a, err := h.Agent.CreateOrUpdate(context.Background(), models.Agent{
		UUID:      uuid,
		Name:      "agent-" + uuid,
		Username:  username,
		Connected: true,
	})
	if err != nil {
		t.Fatalf("seed agent %s: %v", uuid, err)
	}
	return a
}

func TestMetricCreate(t *testing.T) {
	ctx := context.Background()
	h := openTestHandle(t)
	agent := seedAgent(t, h, "yyy-yyy-yyy", "platzi")

	m, err := h.Metric.Create(ctx, agent.UUID, models.MetricInput{Type: "memory", Value: "300"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if m.ID == 0 || m.AgentID != agent.ID || m.Type != "memory" || m.Value != "300" {
		t.Fatalf("unexpected metric: %+v", m)
	}
	if m.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set")
	}
}

func TestMetricCreateUnknownAgent(t *testing.T) {
	ctx := context.Background()
	h := openTestHandle(t)

	_, err := h.Metric.Create(ctx, "nope", models.MetricInput{Type: "cpu", Value: "1"})
	if !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("expected ErrAgentNotFound, got %v", err)
	}

	var n int64
	if err := h.DB.Model(&models.Metric{}).Count(&n).Error; err != nil {
		t.Fatalf("count metrics: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no metric rows, got %d", n)
	}
}

func TestMetricCreateRequiresType(t *testing.T) {
	h := openTestHandle(t)
	seedAgent(t, h, "a1", "bob")

	_, err := h.Metric.Create(context.Background(), "a1", models.MetricInput{Value: "1"})
	if !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
}

func TestMetricFindByAgentUUIDDedupes(t *testing.T) {
	ctx := context.Background()
	h := openTestHandle(t)
	seedAgent(t, h, "a1", "bob")
	seedAgent(t, h, "a2", "bob")

	for _, in := range []models.MetricInput{
		{Type: "cpu", Value: "1"},
		{Type: "cpu", Value: "2"},
		{Type: "mem", Value: "3"},
	} {
		if _, err := h.Metric.Create(ctx, "a1", in); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	if _, err := h.Metric.Create(ctx, "a2", models.MetricInput{Type: "disk", Value: "9"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	types, err := h.Metric.FindByAgentUUID(ctx, "a1")
	if err != nil {
		t.Fatalf("FindByAgentUUID() error = %v", err)
	}
	sort.Strings(types)
	if fmt.Sprint(types) != "[cpu mem]" {
		t.Fatalf("FindByAgentUUID(a1) = %v, want [cpu mem]", types)
	}

	empty, err := h.Metric.FindByAgentUUID(ctx, "missing")
	if err != nil {
		t.Fatalf("FindByAgentUUID() error = %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("FindByAgentUUID(missing) = %v, want empty", empty)
	}
}

func TestMetricFindByTypeAgentUUIDWindow(t *testing.T) {
	ctx := context.Background()
	h := openTestHandle(t)
	agent := seedAgent(t, h, "a1", "bob")

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		row := models.Metric{
			AgentID:   agent.ID,
			Type:      "cpu",
			Value:     fmt.Sprint(i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := h.DB.Create(&row).Error; err != nil {
			t.Fatalf("insert metric %d: %v", i, err)
		}
	}
	if _, err := h.Metric.Create(ctx, "a1", models.MetricInput{Type: "mem", Value: "x"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	points, err := h.Metric.FindByTypeAgentUUID(ctx, "cpu", "a1")
	if err != nil {
		t.Fatalf("FindByTypeAgentUUID() error = %v", err)
	}
	if len(points) != HistoryWindow {
		t.Fatalf("got %d points, want %d", len(points), HistoryWindow)
	}
	for i, p := range points {
		want := fmt.Sprint(24 - i)
		if p.Value != want || p.Type != "cpu" {
			t.Fatalf("points[%d] = %+v, want value %s", i, p, want)
		}
		if i > 0 && p.CreatedAt.After(points[i-1].CreatedAt) {
			t.Fatalf("points not newest-first at %d", i)
		}
	}
}

func TestMetricFindByTypeAgentUUIDSameInstant(t *testing.T) {
	ctx := context.Background()
	h := openTestHandle(t)
	seedAgent(t, h, "a1", "bob")

	for i := 0; i < 3; i++ {
		if _, err := h.Metric.Create(ctx, "a1", models.MetricInput{Type: "cpu", Value: fmt.Sprint(i)}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	points, err := h.Metric.FindByTypeAgentUUID(ctx, "cpu", "a1")
	if err != nil {
		t.Fatalf("FindByTypeAgentUUID() error = %v", err)
	}
	if len(points) != 3 || points[0].Value != "2" || points[2].Value != "0" {
		t.Fatalf("unexpected order: %+v", points)
	}
}

func TestMetricFindByTypeAgentUUIDEmpty(t *testing.T) {
	ctx := context.Background()
	h := openTestHandle(t)
	seedAgent(t, h, "a1", "bob")

	for _, tc := range []struct{ typ, uuid string }{
		{"cpu", "a1"},
		{"cpu", "missing"},
	} {
		points, err := h.Metric.FindByTypeAgentUUID(ctx, tc.typ, tc.uuid)
		if err != nil {
			t.Fatalf("FindByTypeAgentUUID(%s, %s) error = %v", tc.typ, tc.uuid, err)
		}
		if len(points) != 0 {
			t.Fatalf("FindByTypeAgentUUID(%s, %s) = %v, want empty", tc.typ, tc.uuid, points)
		}
	}
}
