package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vesaa/fleetscope/internal/models"
	"github.com/vesaa/fleetscope/internal/store"
)

// Sampler produces one round of readings.
type Sampler interface {
	Sample(ctx context.Context) ([]Reading, error)
}

// Options configures a Recorder. An empty UUID gets a random one, kept for
// the life of the Recorder.
type Options struct {
	UUID     string
	Name     string
	Username string
	Sampler  Sampler
	Logger   zerolog.Logger
}

// Recorder registers the local host as an agent and stores its readings.
type Recorder struct {
	db       *store.Service
	sampler  Sampler
	uuid     string
	name     string
	username string
	hostname string
	pid      int
	log      zerolog.Logger
}

// NewRecorder binds a Recorder to db. The database is not touched until the
// first RecordOnce.
func NewRecorder(db *store.Service, opts Options) *Recorder {
	id := opts.UUID
	if id == "" {
		id = uuid.NewString()
	}
	sampler := opts.Sampler
	if sampler == nil {
		sampler = NewCollector()
	}
	hostname, _ := os.Hostname()
	return &Recorder{
		db:       db,
		sampler:  sampler,
		uuid:     id,
		name:     opts.Name,
		username: opts.Username,
		hostname: hostname,
		pid:      os.Getpid(),
		log:      opts.Logger.With().Str("component", "recorder").Str("uuid", id).Logger(),
	}
}

// UUID is the agent identity the Recorder writes under.
func (r *Recorder) UUID() string { return r.uuid }

// RecordOnce marks the agent connected and stores one sample. It returns
// the number of metric rows written.
func (r *Recorder) RecordOnce(ctx context.Context) (int, error) {
	h, err := r.db.Open(ctx)
	if err != nil {
		return 0, err
	}
	if err := r.upsert(ctx, h, true); err != nil {
		return 0, err
	}

	readings, err := r.sampler.Sample(ctx)
	if err != nil {
		return 0, fmt.Errorf("sample host: %w", err)
	}

	written := 0
	for _, rd := range readings {
		_, err := h.Metric.Create(ctx, r.uuid, models.MetricInput{Type: rd.Type, Value: rd.Value})
		if err != nil {
			return written, fmt.Errorf("store %s reading: %w", rd.Type, err)
		}
		written++
	}
	r.log.Debug().Int("metrics", written).Msg("recorded sample")
	return written, nil
}

// Run records immediately and then every interval until ctx is cancelled.
// A failed round is logged and the loop keeps going. On exit the agent is
// marked disconnected.
func (r *Recorder) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("recorder interval must be positive, got %s", interval)
	}
	r.log.Info().Dur("interval", interval).Msg("recorder started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.RecordOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Warn().Err(err).Msg("record failed")
		}
		select {
		case <-ctx.Done():
			return r.disconnect(context.WithoutCancel(ctx))
		case <-ticker.C:
		}
	}
}

func (r *Recorder) disconnect(ctx context.Context) error {
	h, err := r.db.Open(ctx)
	if err != nil {
		return err
	}
	if err := r.upsert(ctx, h, false); err != nil {
		return err
	}
	r.log.Info().Msg("recorder stopped, agent marked disconnected")
	return nil
}

func (r *Recorder) upsert(ctx context.Context, h *store.Handle, connected bool) error {
	_, err := h.Agent.CreateOrUpdate(ctx, models.Agent{
		UUID:      r.uuid,
		Name:      r.name,
		Username:  r.username,
		Hostname:  r.hostname,
		PID:       r.pid,
		Connected: connected,
	})
	return err
}
