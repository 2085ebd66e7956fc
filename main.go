// fleetscope: permission-gated read API over a fleet of monitoring agents.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/vesaa/fleetscope/internal/agent"
	"github.com/vesaa/fleetscope/internal/auth"
	"github.com/vesaa/fleetscope/internal/config"
	"github.com/vesaa/fleetscope/internal/query"
	"github.com/vesaa/fleetscope/internal/server"
	"github.com/vesaa/fleetscope/internal/store"
)

const version = "v0.1.0"

func printBanner(mode string) {
	fmt.Printf("\n  ► fleetscope %s  |  Mode: %s\n\n", version, mode)
}

func main() {
	root := &cobra.Command{
		Use:   "fleetscope",
		Short: "fleetscope — agent and metric query service",
		Long: `fleetscope stores the agents of a monitoring fleet and their metric
history, and serves them through a token-gated read API.`,
		SilenceUsage: true,
	}

	root.AddCommand(serverCmd(), setupCmd(), tokenCmd(), recordCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// ── server ────────────────────────────────────────────────────────────────────

func serverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the query API",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner("SERVER")

			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}

			db := store.New(storeConfig(cfg, cfg.DBSetup, log))
			defer db.Close()

			gate, err := auth.NewGate(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})
			if err != nil {
				return fmt.Errorf("creating token gate: %w", err)
			}

			users := server.NewDirectory(cfg.Users)
			if err := users.AddAdmin(cfg.AdminUser, cfg.AdminPass); err != nil {
				return err
			}

			api := server.New(server.Options{
				Queries:  query.NewService(gate, query.FromStore(db), log),
				Gate:     gate,
				Users:    users,
				TokenTTL: cfg.TokenTTL,
				Logger:   log,
			})

			gin.SetMode(gin.ReleaseMode)
			srv := &http.Server{
				Addr:              cfg.Addr(),
				Handler:           server.NewEngine(api, cfg.CORSOrigins),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// recDone is closed once the recorder has marked itself disconnected.
			recDone := make(chan struct{})
			if withRecorder, _ := cmd.Flags().GetBool("record"); withRecorder {
				rec := newRecorder(cfg, db, log)
				go func() {
					defer close(recDone)
					if err := rec.Run(ctx, time.Duration(cfg.AgentInterval)*time.Second); err != nil {
						log.Error().Err(err).Msg("recorder exited")
					}
				}()
			} else {
				close(recDone)
			}

			fmt.Printf("  ✓ Query API → http://%s/api\n", cfg.Addr())
			fmt.Printf("  ✓ Store     → %s (%s)\n\n", cfg.DBDriver, cfg.DBDSN)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
				fmt.Println("\n  → Shutting down gracefully…")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				err := srv.Shutdown(shutdownCtx)
				<-recDone
				return err
			}
		},
	}
	cmd.Flags().Bool("record", false, "Also record this host as an agent while serving")
	return cmd
}

// ── setup ─────────────────────────────────────────────────────────────────────

func setupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Drop and recreate the agents and metrics tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}

			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				if !confirm(cmd, fmt.Sprintf("This will destroy all data in %s. Continue?", cfg.DBDSN)) {
					fmt.Fprintln(cmd.OutOrStdout(), "  → Aborted")
					return nil
				}
			}

			db := store.New(storeConfig(cfg, true, log))
			defer db.Close()
			if _, err := db.Open(cmd.Context()); err != nil {
				return fmt.Errorf("setting up database: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "  ✓ Schema recreated")
			return nil
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

// confirm asks a yes/no question on stdin; anything but y/yes is a no.
func confirm(cmd *cobra.Command, question string) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "  %s [y/N] ", question)
	line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// ── token ─────────────────────────────────────────────────────────────────────

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := bootstrap()
			if err != nil {
				return err
			}

			username, _ := cmd.Flags().GetString("username")
			admin, _ := cmd.Flags().GetBool("admin")
			scopes, _ := cmd.Flags().GetStringSlice("scope")
			ttl := cfg.TokenTTL
			if cmd.Flags().Changed("ttl") {
				ttl, _ = cmd.Flags().GetDuration("ttl")
			}

			gate, err := auth.NewGate(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})
			if err != nil {
				return err
			}
			tok, err := gate.Issue(auth.Identity{Username: username, Admin: admin, Permissions: scopes}, ttl)
			if err != nil {
				return fmt.Errorf("signing token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("username", "", "Username the token is issued to")
	cmd.Flags().Bool("admin", false, "Grant admin (sees every connected agent)")
	cmd.Flags().StringSlice("scope", []string{auth.ScopeAgentsRead, auth.ScopeMetricsRead}, "Permission scopes to grant")
	cmd.Flags().Duration("ttl", 0, "Token lifetime (0 = never expires; default from token_ttl)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

// ── record ────────────────────────────────────────────────────────────────────

func recordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record this host as an agent, writing samples to the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner("RECORDER")

			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			if interval, _ := cmd.Flags().GetInt("interval"); interval > 0 {
				cfg.AgentInterval = interval
			}

			db := store.New(storeConfig(cfg, false, log))
			defer db.Close()
			rec := newRecorder(cfg, db, log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if once, _ := cmd.Flags().GetBool("once"); once {
				n, err := rec.RecordOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  ✓ Stored %d readings for agent %s\n", n, rec.UUID())
				return nil
			}

			fmt.Printf("  ✓ Agent UUID:      %s\n", rec.UUID())
			fmt.Printf("  ✓ Report interval: %ds\n\n", cfg.AgentInterval)
			return rec.Run(ctx, time.Duration(cfg.AgentInterval)*time.Second)
		},
	}
	cmd.Flags().Bool("once", false, "Take a single sample and exit")
	cmd.Flags().Int("interval", 0, "Seconds between samples (overrides agent_interval_seconds)")
	return cmd
}

func newRecorder(cfg *config.Config, db *store.Service, log zerolog.Logger) *agent.Recorder {
	return agent.NewRecorder(db, agent.Options{
		UUID:     cfg.AgentUUID,
		Name:     cfg.AgentName,
		Username: cfg.AgentUsername,
		Logger:   log,
	})
}

// ── version ───────────────────────────────────────────────────────────────────

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print fleetscope version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fleetscope %s\n", version)
		},
	}
}

// ── wiring helpers ────────────────────────────────────────────────────────────

// bootstrap loads .env and config, then builds the process logger.
func bootstrap() (*config.Config, zerolog.Logger, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("loading config: %w", err)
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, log, nil
}

func newLogger(cfg *config.Config) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log_level %q: %w", cfg.LogLevel, err)
	}
	var base zerolog.Logger
	if strings.EqualFold(cfg.LogFormat, "json") {
		base = zerolog.New(os.Stderr)
	} else {
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return base.Level(level).With().Timestamp().Logger(), nil
}

func storeConfig(cfg *config.Config, setup bool, log zerolog.Logger) store.Config {
	return store.Config{
		Driver: cfg.DBDriver,
		DSN:    cfg.DBDSN,
		Setup:  setup,
		Logger: log,
	}
}
