package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/vesaa/fleetscope/internal/models"
	"gorm.io/gorm"
)

// HistoryWindow caps how many readings FindByTypeAgentUUID returns.
const HistoryWindow = 20

// MetricStore records and queries Metric rows.
type MetricStore struct {
	db *gorm.DB
}

// NewMetricStore binds a MetricStore to db.
func NewMetricStore(db *gorm.DB) *MetricStore {
	return &MetricStore{db: db}
}

// Create records in against the agent identified by uuid. It fails with
// ErrAgentNotFound, writing nothing, when no such agent exists.
func (s *MetricStore) Create(ctx context.Context, uuid string, in models.MetricInput) (*models.Metric, error) {
	if err := validateRecord(in); err != nil {
		return nil, err
	}

	var m models.Metric
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var agent models.Agent
		err := tx.Select("id").Where("uuid = ?", uuid).First(&agent).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAgentNotFound
		}
		if err != nil {
			return err
		}

		m = models.Metric{AgentID: agent.ID, Type: in.Type, Value: in.Value}
		return tx.Create(&m).Error
	})
	if errors.Is(err, ErrAgentNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, uuid)
	}
	if err != nil {
		return nil, fmt.Errorf("create metric for %s: %w", uuid, err)
	}
	return &m, nil
}

// FindByAgentUUID returns the distinct metric types recorded for the agent.
// An unknown agent yields an empty list.
func (s *MetricStore) FindByAgentUUID(ctx context.Context, uuid string) ([]string, error) {
	types := []string{}
	err := s.db.WithContext(ctx).
		Model(&models.Metric{}).
		Joins("JOIN agents ON agents.id = metrics.agent_id").
		Where("agents.uuid = ?", uuid).
		Group("metrics.type").
		Order("metrics.type").
		Pluck("metrics.type", &types).Error
	if err != nil {
		return nil, fmt.Errorf("find metric types for %s: %w", uuid, err)
	}
	return types, nil
}

// FindByTypeAgentUUID returns up to HistoryWindow readings of typ for the
// agent, newest first.
func (s *MetricStore) FindByTypeAgentUUID(ctx context.Context, typ, uuid string) ([]models.MetricPoint, error) {
	points := []models.MetricPoint{}
	err := s.db.WithContext(ctx).
		Model(&models.Metric{}).
		Select("metrics.id, metrics.type, metrics.value, metrics.created_at").
		Joins("JOIN agents ON agents.id = metrics.agent_id").
		Where("agents.uuid = ? AND metrics.type = ?", uuid, typ).
		Order("metrics.created_at DESC").
		Order("metrics.id DESC").
		Limit(HistoryWindow).
		Scan(&points).Error
	if err != nil {
		return nil, fmt.Errorf("find %s metrics for %s: %w", typ, uuid, err)
	}
	return points, nil
}
