package models

import "time"

// Metric is one typed, string-encoded reading attributed to an Agent.
// Rows are immutable once written.
type Metric struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// AgentID: belongs-to Agent; never null.
	AgentID uint   `gorm:"index;not null" json:"agent_id"`
	Agent   *Agent `gorm:"foreignKey:AgentID" json:"-"`

	Type  string `gorm:"index;not null" json:"type"`
	Value string `gorm:"type:text;not null" json:"value"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MetricInput is the payload accepted when recording a metric.
type MetricInput struct {
	Type  string `json:"type" validate:"required"`
	Value string `json:"value"`
}

// MetricPoint is the projection returned by metric history queries.
type MetricPoint struct {
	ID        uint      `json:"id"`
	Type      string    `json:"type"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}
