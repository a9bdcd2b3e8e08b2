// Command server boots the coordination core: it dials the Bus
// backends, builds the process-wide Registry/Guard/Governor/Monitor
// singletons, and starts the Module Runtime tick loops for the
// tenant-independent background workers (capital loop optimizer,
// failover heartbeat, chaos monitor). The signal/execution workers
// are started once at boot for the single tenant named by TENANT_ID,
// following the same Module Runtime contract.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"titan/internal/alerting"
	"titan/internal/alerting/channel"
	"titan/internal/authz"
	"titan/internal/billing"
	"titan/internal/bus"
	"titan/internal/capital"
	"titan/internal/envconfig"
	"titan/internal/execution"
	"titan/internal/failover"
	"titan/internal/httpapi"
	"titan/internal/journal"
	"titan/internal/metrics"
	"titan/internal/mode"
	"titan/internal/namespace"
	"titan/internal/obslog"
	"titan/internal/registry"
	"titan/internal/reportapi"
	"titan/internal/reports"
	"titan/internal/runtime"
)

func main() {
	app := &cli.App{
		Name:    "titan",
		Usage:   "Signal & Execution Coordination Core",
		Version: "0.1.0",
		Commands: []*cli.Command{
			{
				Name:  "server",
				Usage: "Start the coordination core",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "port",
						Usage:   "HTTP port for health/metrics/report endpoints",
						Value:   8080,
						EnvVars: []string{"TITAN_PORT"},
					},
				},
				Action: runServer,
			},
			{
				Name:   "migrate",
				Usage:  "Run journal (Postgres) schema migrations",
				Action: runMigrate,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		obslog.NewProduction().Sugar().Fatalw("fatal", "error", err)
	}
}

// coreBus dials Redis as primary and etcd as secondary, wired behind a
// FailoverBus so the rest of the process never talks to either
// directly (§4.1).
func coreBus(env *envconfig.Env) (*bus.FailoverBus, *failover.Manager, error) {
	primary := bus.NewRedisBus(bus.RedisConfig{
		Addr: fmt.Sprintf("%s:%s", env.RedisHost, env.RedisPort),
	})

	secondary, err := bus.NewEtcdBus(bus.EtcdConfig{
		Endpoints: []string{envOrDefault("ETCD_ENDPOINTS", "localhost:2379")},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dial etcd secondary: %w", err)
	}

	fb := bus.NewFailoverBus(primary, secondary)
	mgr := failover.NewManager(fb, fb, primary, secondary, nil)
	return fb, mgr, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// splitNonEmpty splits a comma-separated list, dropping empty entries;
// used for ALERTS_RECIPIENTS, which is unset in most deployments.
func splitNonEmpty(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// stripeCustomerFromEnv resolves a tenant's Stripe customer ID from
// STRIPE_CUSTOMER_{TENANT_ID}. Tenant onboarding (and the mapping it
// produces) lives outside the coordination core; this is the
// environment-level seam a real onboarding system would replace.
func stripeCustomerFromEnv(_ context.Context, tenantID string) (string, bool) {
	v := os.Getenv("STRIPE_CUSTOMER_" + tenantID)
	return v, v != ""
}

func runServer(c *cli.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	env := envconfig.Load()
	logger := obslog.NewFromEnv("server")
	defer logger.Sync()

	b, failoverMgr, err := coreBus(env)
	if err != nil {
		return err
	}
	defer b.Close()

	var j *journal.Journal
	if env.DatabaseURL != "" {
		j, err = journal.Open(env.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		if err := j.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate journal: %w", err)
		}
	}

	metricsReg := metrics.New(prometheus.DefaultRegisterer)

	reg := registry.New(b)
	restartQueue := registry.NewRestartQueue(b, reg)
	healthMonitor := registry.NewHealthMonitor(b, reg, restartQueue)

	governor := mode.NewGovernor(b, mode.DefaultCaps(),
		"persona_shifter", "panic_session_hibernator", "admin", "operator")
	personaShifter := mode.NewPersonaShifter(governor, mode.DefaultThresholds())

	capGuard := namespace.NewGuard(
		namespace.MustDeclare("titan:*:capital:*"),
		namespace.MustDeclare("titan:*:profit:*"),
	)
	guardedBus := namespace.NewGuardedBus(b, capGuard)

	capStore := capital.NewStore(guardedBus, j)
	allocator := capital.NewAllocator(capStore)

	tracker := execution.NewTracker(b)
	profitRouter := execution.NewProfitRouter(guardedBus, capStore)
	loopOptimizer := capital.NewLoopOptimizer(allocator, trailingPerformanceFeed(tracker, capStore))

	chaosMonitor := failover.NewMonitor(b, 0, 0, nil)
	heartbeat := failover.NewHeartbeat(b, 0)
	stateMachine := failover.NewStateMachine(b)
	heatmap := failover.NewHeatmapProducer()

	var invoicer *billing.Invoicer
	if stripeKey := os.Getenv("STRIPE_API_KEY"); stripeKey != "" {
		stripeClient := billing.NewStripeClient(stripeKey)
		invoicer = billing.NewInvoicer(stripeClient, stripeCustomerFromEnv)
	}

	var alertChannel channel.Channel
	if sendgridKey := os.Getenv("SENDGRID_API_KEY"); sendgridKey != "" {
		sg, err := channel.NewSendGridChannel(channel.SendGridConfig{
			APIKey:    sendgridKey,
			FromEmail: envOrDefault("ALERTS_FROM_EMAIL", "alerts@titan.local"),
			FromName:  "Titan Coordination Core",
		})
		if err != nil {
			return fmt.Errorf("init sendgrid channel: %w", err)
		}
		alertChannel = sg
	}
	alertDispatcher := alerting.NewDispatcher(b, alertChannel, splitNonEmpty(os.Getenv("ALERTS_RECIPIENTS")))

	reportSink, err := reports.NewSink(env.ReportPath, nil)
	if err != nil {
		return fmt.Errorf("init report sink: %w", err)
	}

	var authVerifier *authz.HMACVerifier
	if secret := os.Getenv("CONTROL_TOKEN_SECRET"); secret != "" {
		authVerifier = authz.NewHMACVerifier([]byte(secret))
	}

	capitalRuntime := runtime.New(runtime.Config{
		Name:            "capital-loop-optimizer",
		Version:         "v1",
		Type:            runtime.TypeMonitor,
		Bus:             b,
		Metrics:         metricsReg,
		MaxTickDuration: 30 * time.Second,
		RestartBackoff:  5 * time.Second,
		ChaosMode:       env.ChaosMode,
		Chaos:           chaosMonitor,
		OnFatal: func(ctx context.Context, name string, cause error) {
			_ = restartQueue.Enqueue(ctx, name, "v1", cause)
		},
	})
	capitalRuntime.OnTick(capital.DefaultLoopInterval, func(ctx context.Context, now time.Time, m string) error {
		_, err := loopOptimizer.Tick(ctx, env.TenantID)
		return err
	})

	failoverRuntime := runtime.New(runtime.Config{
		Name:            "failover-manager",
		Version:         "v1",
		Type:            runtime.TypeMonitor,
		Bus:             b,
		Metrics:         metricsReg,
		MaxTickDuration: 5 * time.Second,
		RestartBackoff:  time.Second,
		ChaosMode:       env.ChaosMode,
		Chaos:           chaosMonitor,
		OnFatal: func(ctx context.Context, name string, cause error) {
			_ = restartQueue.Enqueue(ctx, name, "v1", cause)
		},
	})
	failoverRuntime.OnTick(failover.DefaultHeartbeatInterval, func(ctx context.Context, now time.Time, m string) error {
		if err := heartbeat.Beat(ctx); err != nil {
			return err
		}
		_, err := failoverMgr.Tick(ctx)
		return err
	})
	failoverRuntime.OnTick(time.Second, func(ctx context.Context, now time.Time, m string) error {
		_, _, err := chaosMonitor.Tick(ctx)
		return err
	})

	if err := capitalRuntime.Start(ctx); err != nil {
		return fmt.Errorf("start capital runtime: %w", err)
	}
	defer capitalRuntime.Stop(context.Background())

	if err := failoverRuntime.Start(ctx); err != nil {
		return fmt.Errorf("start failover runtime: %w", err)
	}
	defer failoverRuntime.Stop(context.Background())

	pipelineRuntimes := buildPipeline(pipelineDeps{
		env:            env,
		bus:            b,
		metrics:        metricsReg,
		chaos:          chaosMonitor,
		governor:       governor,
		capStore:       capStore,
		reg:            reg,
		healthMonitor:  healthMonitor,
		personaShifter: personaShifter,
		restartQueue:   restartQueue,
		alerts:         alertDispatcher,
	})
	for _, rt := range pipelineRuntimes {
		if err := rt.Start(ctx); err != nil {
			return fmt.Errorf("start pipeline runtime: %w", err)
		}
		defer rt.Stop(context.Background())
	}

	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	router.Handle("/metrics", promhttp.Handler())

	router.Get("/reports/profit/{tenant}", func(w http.ResponseWriter, r *http.Request) {
		tenant := chi.URLParam(r, "tenant")
		if err := profitRouter.Route(r.Context(), tenant, 0); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	router.Get("/reports/heatmap/snapshot", func(w http.ResponseWriter, r *http.Request) {
		if err := reports.WriteLatencyHeatmap(r.Context(), reportSink, heatmap, time.Now()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	router.Get("/reports/recovery/snapshot", func(w http.ResponseWriter, r *http.Request) {
		reporter := failover.NewRecoveryReporter(time.Now())
		report := reporter.Finish(time.Now(), "recovered")
		if err := reports.WriteRecoveryReport(r.Context(), reportSink, report); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	router.Get("/reports/tax/{tenant}/{yearMonth}", func(w http.ResponseWriter, r *http.Request) {
		if j == nil {
			http.Error(w, "journal not configured", http.StatusNotImplemented)
			return
		}
		tenant := chi.URLParam(r, "tenant")
		yearMonth := chi.URLParam(r, "yearMonth")
		report, err := reports.BuildTaxReport(r.Context(), j, tenant, yearMonth)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := reports.WriteTaxReport(r.Context(), reportSink, report); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	var authMiddleware func(http.Handler) http.Handler
	if authVerifier != nil {
		authMiddleware = httpapi.BearerAuth(authVerifier)
	}
	router.Mount("/admin", httpapi.Router(httpapi.Deps{
		Bus:           b,
		Governor:      governor,
		CapitalStore:  capStore,
		RestartQueue:  restartQueue,
		PnLTracker:    tracker,
		ProfitRouter:  profitRouter,
		StateMachine:  stateMachine,
		HeatmapSource: heatmap,
	}, authMiddleware))

	router.Mount("/reportapi", reportapi.Router(reportapi.Deps{
		Registry:     reg,
		CapitalStore: capStore,
		PnLTracker:   tracker,
		Invoicer:     invoicer,
	}))

	addr := fmt.Sprintf("%s:%d", envOrDefault("HOST", "0.0.0.0"), c.Int("port"))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Sugar().Infow("listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Sugar().Fatalw("server error", "error", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

func runMigrate(c *cli.Context) error {
	env := envconfig.Load()
	if env.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL not set")
	}
	j, err := journal.Open(env.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()
	return j.Migrate(context.Background())
}
