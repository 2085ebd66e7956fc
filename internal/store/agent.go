package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/vesaa/fleetscope/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AgentStore reads and writes Agent rows.
type AgentStore struct {
	db *gorm.DB
}

// NewAgentStore binds an AgentStore to db.
func NewAgentStore(db *gorm.DB) *AgentStore {
	return &AgentStore{db: db}
}

// CreateOrUpdate inserts rec, or overwrites the mutable fields of the row
// with the same UUID, and returns the row as stored. The write is a single
// INSERT ... ON CONFLICT so concurrent reports for one UUID never produce
// two rows.
func (s *AgentStore) CreateOrUpdate(ctx context.Context, rec models.Agent) (*models.Agent, error) {
	if err := validateRecord(rec); err != nil {
		return nil, err
	}

	row := models.Agent{
		UUID:      rec.UUID,
		Name:      rec.Name,
		Username:  rec.Username,
		Hostname:  rec.Hostname,
		PID:       rec.PID,
		Connected: rec.Connected,
	}

	var out models.Agent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "uuid"}},
			DoUpdates: clause.AssignmentColumns(models.AgentMutableColumns()),
		}).Create(&row).Error
		if err != nil {
			return err
		}
		return tx.Where("uuid = ?", rec.UUID).First(&out).Error
	})
	if err != nil {
		return nil, fmt.Errorf("upsert agent %s: %w", rec.UUID, err)
	}
	return &out, nil
}

// FindConnected returns every agent currently marked connected, in
// insertion order.
func (s *AgentStore) FindConnected(ctx context.Context) ([]models.Agent, error) {
	agents := []models.Agent{}
	err := s.db.WithContext(ctx).
		Where("connected = ?", true).
		Order("id").
		Find(&agents).Error
	if err != nil {
		return nil, fmt.Errorf("find connected agents: %w", err)
	}
	return agents, nil
}

// FindByUsername returns the agents owned by username.
func (s *AgentStore) FindByUsername(ctx context.Context, username string) ([]models.Agent, error) {
	agents := []models.Agent{}
	err := s.db.WithContext(ctx).
		Where("username = ?", username).
		Order("id").
		Find(&agents).Error
	if err != nil {
		return nil, fmt.Errorf("find agents for %s: %w", username, err)
	}
	return agents, nil
}

// FindByUUID returns the agent with uuid, or ErrNotFound.
func (s *AgentStore) FindByUUID(ctx context.Context, uuid string) (*models.Agent, error) {
	var agent models.Agent
	err := s.db.WithContext(ctx).Where("uuid = ?", uuid).First(&agent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find agent %s: %w", uuid, err)
	}
	return &agent, nil
}

// FindAll returns every agent regardless of state.
func (s *AgentStore) FindAll(ctx context.Context) ([]models.Agent, error) {
	agents := []models.Agent{}
	if err := s.db.WithContext(ctx).Order("id").Find(&agents).Error; err != nil {
		return nil, fmt.Errorf("find agents: %w", err)
	}
	return agents, nil
}
