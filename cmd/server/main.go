// Command server exposes the household dashboard's five read-only
// views over HTTP and runs the scheduler daemon that drives discovery,
// digest, and cleanup jobs — the pack's go-chi-based API shape, aimed
// at this domain's projections instead of the teacher's own routes.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/aliedrevenue/concierge/internal/category"
	"github.com/aliedrevenue/concierge/internal/config"
	"github.com/aliedrevenue/concierge/internal/dashboard"
	"github.com/aliedrevenue/concierge/internal/digest"
	"github.com/aliedrevenue/concierge/internal/discovery"
	"github.com/aliedrevenue/concierge/internal/domain"
	"github.com/aliedrevenue/concierge/internal/itemtype"
	"github.com/aliedrevenue/concierge/internal/logger"
	"github.com/aliedrevenue/concierge/internal/mailsource"
	"github.com/aliedrevenue/concierge/internal/orchestrator"
	"github.com/aliedrevenue/concierge/internal/person"
	"github.com/aliedrevenue/concierge/internal/scheduler"
	"github.com/aliedrevenue/concierge/internal/store"
)

func main() {
	logger.Init(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FILE"))

	cfg, err := config.LoadFromEnv(os.Getenv("CONCIERGE_CONFIG"))
	if err != nil {
		logger.Error("server", "startup", err).Msg("failed to load configuration")
		os.Exit(1)
	}

	st, err := store.Open(cfg.Store.DSN, cfg.Store.MaxOpenConnsOrDefault(), cfg.Store.MaxIdleConns)
	if err != nil {
		logger.Error("server", "startup", err).Msg("failed to open store")
		os.Exit(1)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := buildScheduler(cfg, st)
	go sched.Start(ctx)

	srv := &http.Server{
		Addr:    cfg.Server.GetHost() + ":" + strconv.Itoa(cfg.Server.GetPort()),
		Handler: buildRouter(st),
	}

	go func() {
		logger.Info("server", "listen").Str("addr", srv.Addr).Msg("starting dashboard HTTP API")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server", "listen", err).Msg("HTTP server exited unexpectedly")
		}
	}()

	<-ctx.Done()
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server", "shutdown").Msg("graceful shutdown timed out")
	}
	<-sched.Stopped()
}

func buildRouter(st *store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	q := dashboard.New(st.DB())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/dashboard", func(r chi.Router) {
		r.Get("/obligations", dashboardHandler(func(ctx context.Context, f dashboard.Filter) (interface{}, error) {
			return q.Obligations(ctx, f, time.Now())
		}))
		r.Get("/tasks", dashboardHandler(func(ctx context.Context, f dashboard.Filter) (interface{}, error) {
			return q.Tasks(ctx, f, time.Now())
		}))
		r.Get("/announcements", dashboardHandler(func(ctx context.Context, f dashboard.Filter) (interface{}, error) {
			return q.Announcements(ctx, f, time.Now())
		}))
		r.Get("/updates", dashboardHandler(func(ctx context.Context, f dashboard.Filter) (interface{}, error) {
			return q.Updates(ctx, f, time.Now())
		}))
		r.Get("/catch-up", func(w http.ResponseWriter, r *http.Request) {
			daysBack := 7
			if v := r.URL.Query().Get("daysBack"); v != "" {
				if n, err := strconv.Atoi(v); err == nil {
					daysBack = n
				}
			}
			rows, err := q.CatchUp(r.Context(), filterFromQuery(r), time.Now(), daysBack)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, rows)
		})
	})

	return r
}

func filterFromQuery(r *http.Request) dashboard.Filter {
	return dashboard.Filter{
		PackID: r.URL.Query().Get("packId"),
		Person: r.URL.Query().Get("person"),
	}
}

func dashboardHandler(fn func(ctx context.Context, f dashboard.Filter) (interface{}, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := fn(r.Context(), filterFromQuery(r))
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, rows)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// buildScheduler wires the three daemon jobs spec.md §4.9 names
// against the orchestrator and digest builder, each job guarded by
// internal/pkg/distlock so a replica never overlaps itself.
func buildScheduler(cfg *config.Config, st *store.Store) *scheduler.Scheduler {
	var redisClient *redis.Client
	if cfg.Store.RedisURL != "" {
		if opts, err := redis.ParseURL(cfg.Store.RedisURL); err == nil {
			redisClient = redis.NewClient(opts)
		} else {
			logger.Warn("server", "redis_config").Msg("ignoring invalid redisUrl, falling back to advisory locks")
		}
	}

	sched := scheduler.New(redisClient, rawDB(st), 10*time.Minute)

	const agentRunInterval = 15 * time.Minute
	const digestCheckInterval = 1 * time.Hour
	const cleanupInterval = 1 * time.Hour

	sched.AddAgentRun(agentRunInterval, func(ctx context.Context) error {
		return runAgentPass(ctx, cfg, st, false)
	})
	sched.AddDigest(digestCheckInterval, func(ctx context.Context) error {
		if time.Now().Hour() != cfg.Digests.DailyHour {
			return nil
		}
		return runDigestJob(ctx, cfg, st)
	})
	sched.AddCleanup(cleanupInterval, func(ctx context.Context) error {
		_, err := store.CleanupExpiredTokens(ctx, st.DB())
		return err
	})

	return sched
}

func rawDB(st *store.Store) *sql.DB { return st.DB().DB }

func runAgentPass(ctx context.Context, cfg *config.Config, st *store.Store, triggerDigest bool) error {
	mail, err := mailsource.NewGmailSource(ctx, mailsource.GmailCredentials{
		ClientID:     cfg.Gmail.ClientID,
		ClientSecret: cfg.Gmail.ClientSecret,
		RedirectURI:  cfg.Gmail.RedirectURI,
		RefreshToken: cfg.Gmail.RefreshToken,
	})
	if err != nil {
		return err
	}

	var classifier itemtype.Classifier
	if cfg.Bedrock.Enabled {
		classifier, err = itemtype.NewBedrockClassifier(ctx, cfg.Bedrock.Region, cfg.Bedrock.ModelID)
		if err != nil {
			return err
		}
	}

	factory := func(pack domain.Pack, assigner *person.Assigner) *discovery.Engine {
		return discovery.New(
			mail, st, category.DefaultRegistry, classifier, assigner,
			cfg.PersonAssignmentEnabled(),
			discovery.WithWorkers(cfg.Processing.WorkerPoolSizeOrDefault()),
			discovery.WithMaxEmailsPerRun(cfg.Processing.MaxEmailsPerRunOrDefault()),
			discovery.WithLookbackDays(cfg.Processing.LookbackDays),
		)
	}

	digestTrigger := func(ctx context.Context, mode config.AgentMode) error {
		return runDigestJob(ctx, cfg, st)
	}

	orch := orchestrator.New(cfg, st, factory, digestTrigger)
	result, err := orch.Run(ctx, triggerDigest)
	if err != nil {
		return err
	}
	logger.Info("server", "agent_run").
		Int("packs", len(result.PackSummaries)).
		Int("tokens_cleaned", result.TokensCleaned).
		Bool("digest_triggered", result.DigestTriggered).
		Int("failed_packs", len(result.FailedPacks)).
		Msg("scheduled agent run completed")
	if len(result.FailedPacks) > 0 {
		logger.Warn("server", "agent_run").
			Str("pack_ids", strings.Join(result.FailedPacks, ",")).
			Msg("one or more packs aborted this run")
	}
	return nil
}

func runDigestJob(ctx context.Context, cfg *config.Config, st *store.Store) error {
	provider := digest.NewStoreProvider(st.DB())
	builder := digest.New(provider)

	now := time.Now()
	start := now.Add(-24 * time.Hour)
	d, err := builder.Build(ctx, start, now, cfg.AgentMode == config.AgentModeDryRun)
	if err != nil {
		return err
	}
	logger.Info("server", "digest_built").
		Bool("quiet", d.Quiet).
		Int("sections", len(d.Sections)).
		Msg("digest window built")
	return nil
}
