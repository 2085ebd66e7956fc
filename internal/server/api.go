// Package server provides the fleetscope Gin-based REST API.
//
//	Public:   POST /api/login, GET /api/health, GET /healthz, GET /metrics
//	Bearer:   GET /api/agents, /api/agent/:uuid, /api/metrics/:uuid, /api/metrics/:uuid/:type
//
// Every bearer route goes through the query service, which runs the
// token gate with the scope the resource needs.
package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/vesaa/fleetscope/internal/auth"
	"github.com/vesaa/fleetscope/internal/query"
)

// Options wires an API.
type Options struct {
	Queries  *query.Service
	Gate     *auth.Gate
	Users    *Directory
	TokenTTL time.Duration
	Logger   zerolog.Logger
}

// API holds the handlers and their dependencies.
type API struct {
	queries  *query.Service
	gate     *auth.Gate
	users    *Directory
	tokenTTL time.Duration
	metrics  *apiMetrics
	log      zerolog.Logger
}

// New builds an API from opts.
func New(opts Options) *API {
	return &API{
		queries:  opts.Queries,
		gate:     opts.Gate,
		users:    opts.Users,
		tokenTTL: opts.TokenTTL,
		metrics:  newAPIMetrics(),
		log:      opts.Logger.With().Str("component", "api").Logger(),
	}
}

// NewEngine returns a gin engine with recovery, request logging, CORS and
// every route registered.
func NewEngine(a *API, origins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(a.log), cors.New(corsConfig(origins)))
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes wires the API onto r.
func (a *API) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")

	api.POST("/login", a.handleLogin)
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	})

	api.GET("/agents", a.handleAgents)
	api.GET("/agent/:uuid", a.handleAgent)
	api.GET("/metrics/:uuid", a.handleMetricTypes)
	api.GET("/metrics/:uuid/:type", a.handleMetricHistory)

	// Probes and scraping, unauthenticated for load-balancers and Prometheus
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(a.metrics.handler()))
}

// ── Handlers ──────────────────────────────────────────────────────────────────

func (a *API) handleAgents(c *gin.Context) {
	cred, err := credential(c)
	if err != nil {
		a.fail(c, "agents", err)
		return
	}
	agents, err := a.queries.ListAgents(c.Request.Context(), cred)
	a.respond(c, "agents", agents, err)
}

func (a *API) handleAgent(c *gin.Context) {
	cred, err := credential(c)
	if err != nil {
		a.fail(c, "agent", err)
		return
	}
	agent, err := a.queries.GetAgent(c.Request.Context(), cred, c.Param("uuid"))
	a.respond(c, "agent", agent, err)
}

func (a *API) handleMetricTypes(c *gin.Context) {
	cred, err := credential(c)
	if err != nil {
		a.fail(c, "metric_types", err)
		return
	}
	types, err := a.queries.ListMetricTypes(c.Request.Context(), cred, c.Param("uuid"))
	a.respond(c, "metric_types", types, err)
}

func (a *API) handleMetricHistory(c *gin.Context) {
	cred, err := credential(c)
	if err != nil {
		a.fail(c, "metric_history", err)
		return
	}
	points, err := a.queries.MetricHistory(c.Request.Context(), cred, c.Param("uuid"), c.Param("type"))
	a.respond(c, "metric_history", points, err)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// credential pulls the bearer token out of the Authorization header.
func credential(c *gin.Context) (string, error) {
	return auth.ParseAuthorization(c.GetHeader("Authorization"))
}

func (a *API) respond(c *gin.Context, resource string, body any, err error) {
	if err != nil {
		a.fail(c, resource, err)
		return
	}
	a.metrics.observe(resource, query.KindOK)
	c.JSON(http.StatusOK, body)
}

// fail writes the structured error payload. Only the error's public
// message leaves the process.
func (a *API) fail(c *gin.Context, resource string, err error) {
	kind := query.KindOf(err)
	a.metrics.observe(resource, kind)

	msg := err.Error()
	if kind == query.KindFault {
		msg = "internal error"
	}
	c.AbortWithStatusJSON(kind.Status(), gin.H{
		"error": msg,
		"code":  kind.String(),
	})
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}

// requestLogger logs one line per request.
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
