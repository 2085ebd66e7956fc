// Package models defines GORM data models for fleetscope.
package models

import "time"

// Agent is a reporting unit identified by a caller-supplied UUID.
// Exactly one row exists per UUID; reports with a known UUID update the
// mutable fields in place.
type Agent struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Identity
	UUID     string `gorm:"column:uuid;uniqueIndex;not null" json:"uuid" validate:"required"`
	Name     string `gorm:"not null" json:"name"`
	Username string `gorm:"index;not null" json:"username"`
	Hostname string `gorm:"not null" json:"hostname"`
	PID      int    `gorm:"column:pid;not null" json:"pid"`

	// Liveness
	Connected bool `gorm:"index;not null" json:"connected"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Metrics: has-many, joined on metrics.agent_id.
	Metrics []Metric `gorm:"foreignKey:AgentID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// agentMutableColumns lists the columns an upsert overwrites on conflict.
var agentMutableColumns = []string{"name", "username", "hostname", "pid", "connected", "updated_at"}

// AgentMutableColumns returns a copy of the columns rewritten by an upsert.
func AgentMutableColumns() []string {
	return append([]string(nil), agentMutableColumns...)
}
