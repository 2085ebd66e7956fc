// Package query is the permission-gated read surface over agents and
// metrics. Every call passes the gate with the scope its resource needs,
// then dispatches to the repositories with ownership filtering applied.
package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/vesaa/fleetscope/internal/auth"
	"github.com/vesaa/fleetscope/internal/models"
	"github.com/vesaa/fleetscope/internal/store"
)

// AgentRepository is the subset of the agent store the queries use.
type AgentRepository interface {
	FindConnected(ctx context.Context) ([]models.Agent, error)
	FindByUsername(ctx context.Context, username string) ([]models.Agent, error)
	FindByUUID(ctx context.Context, uuid string) (*models.Agent, error)
}

// MetricRepository is the subset of the metric store the queries use.
type MetricRepository interface {
	FindByAgentUUID(ctx context.Context, uuid string) ([]string, error)
	FindByTypeAgentUUID(ctx context.Context, typ, uuid string) ([]models.MetricPoint, error)
}

// Repositories bundles the two repositories of one store handle.
type Repositories struct {
	Agents  AgentRepository
	Metrics MetricRepository
}

// Source hands out repositories, connecting if it has to.
type Source interface {
	Repositories(ctx context.Context) (Repositories, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (Repositories, error)

func (f SourceFunc) Repositories(ctx context.Context) (Repositories, error) { return f(ctx) }

// FromStore uses the shared handle of svc, opening it on first use.
func FromStore(svc *store.Service) Source {
	return SourceFunc(func(ctx context.Context) (Repositories, error) {
		h, err := svc.Open(ctx)
		if err != nil {
			return Repositories{}, err
		}
		return Repositories{Agents: h.Agent, Metrics: h.Metric}, nil
	})
}

// Service answers the four read resources.
type Service struct {
	gate   *auth.Gate
	source Source
	log    zerolog.Logger
}

// NewService wires the gate to a repository source.
func NewService(gate *auth.Gate, source Source, log zerolog.Logger) *Service {
	return &Service{
		gate:   gate,
		source: source,
		log:    log.With().Str("component", "query").Logger(),
	}
}

// ListAgents returns every connected agent to admins and the caller's own
// agents to everyone else. An empty list is a valid answer.
func (s *Service) ListAgents(ctx context.Context, credential string) ([]models.Agent, error) {
	ctx, id, repos, err := s.authorize(ctx, credential, auth.ScopeAgentsRead, "/agents")
	if err != nil {
		return nil, err
	}

	var agents []models.Agent
	if id.Admin {
		agents, err = repos.Agents.FindConnected(ctx)
	} else {
		agents, err = repos.Agents.FindByUsername(ctx, id.Username)
	}
	if err != nil {
		return nil, s.fault("list agents", err)
	}
	return agents, nil
}

// GetAgent returns the agent with uuid.
func (s *Service) GetAgent(ctx context.Context, credential, uuid string) (*models.Agent, error) {
	ctx, _, repos, err := s.authorize(ctx, credential, auth.ScopeAgentsRead, "/agent/"+uuid)
	if err != nil {
		return nil, err
	}

	agent, err := repos.Agents.FindByUUID(ctx, uuid)
	if errors.Is(err, store.ErrNotFound) || (err == nil && agent == nil) {
		return nil, notFound(fmt.Sprintf("agent not found with uuid %s", uuid), err)
	}
	if err != nil {
		return nil, s.fault("get agent", err)
	}
	return agent, nil
}

// ListMetricTypes returns the distinct metric types recorded for uuid.
func (s *Service) ListMetricTypes(ctx context.Context, credential, uuid string) ([]string, error) {
	ctx, _, repos, err := s.authorize(ctx, credential, auth.ScopeMetricsRead, "/metrics/"+uuid)
	if err != nil {
		return nil, err
	}

	types, err := repos.Metrics.FindByAgentUUID(ctx, uuid)
	if errors.Is(err, store.ErrNotFound) || (err == nil && len(types) == 0) {
		return nil, notFound(fmt.Sprintf("metrics not found for agent with uuid %s", uuid), err)
	}
	if err != nil {
		return nil, s.fault("list metric types", err)
	}
	return types, nil
}

// MetricHistory returns the most recent readings of typ for uuid, newest
// first.
func (s *Service) MetricHistory(ctx context.Context, credential, uuid, typ string) ([]models.MetricPoint, error) {
	ctx, _, repos, err := s.authorize(ctx, credential, auth.ScopeMetricsRead, "/metrics/"+uuid+"/"+typ)
	if err != nil {
		return nil, err
	}

	points, err := repos.Metrics.FindByTypeAgentUUID(ctx, typ, uuid)
	if errors.Is(err, store.ErrNotFound) || (err == nil && len(points) == 0) {
		return nil, notFound(fmt.Sprintf("metrics (%s) not found for agent with uuid %s", typ, uuid), err)
	}
	if err != nil {
		return nil, s.fault("metric history", err)
	}
	return points, nil
}

// authorize admits the request for scope, requires a username, and only
// then asks the source for repositories.
func (s *Service) authorize(ctx context.Context, credential, scope, resource string) (context.Context, auth.Identity, Repositories, error) {
	ctx, id, err := s.gate.Admit(ctx, credential, scope)
	if err != nil {
		return ctx, auth.Identity{}, Repositories{}, gateError(err)
	}
	if id.Username == "" {
		return ctx, auth.Identity{}, Repositories{}, &Error{
			Kind:    KindUnauthorized,
			Message: ErrNotAuthorized.Error(),
			Err:     ErrNotAuthorized,
		}
	}

	s.log.Debug().Str("resource", resource).Str("username", id.Username).Msg("request admitted")

	repos, err := s.source.Repositories(ctx)
	if err != nil {
		return ctx, auth.Identity{}, Repositories{}, s.fault("connect", err)
	}
	return ctx, id, repos, nil
}

func (s *Service) fault(op string, err error) *Error {
	s.log.Error().Err(err).Str("op", op).Msg("store fault")
	return &Error{Kind: KindFault, Message: "internal error", Err: err}
}
