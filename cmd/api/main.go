package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dvloznov/finance-analyst/internal/api/handlers"
	"github.com/dvloznov/finance-analyst/internal/api/middleware"
	"github.com/dvloznov/finance-analyst/internal/app"
	"github.com/dvloznov/finance-analyst/internal/config"
	"github.com/dvloznov/finance-analyst/internal/dashboard"
	"github.com/dvloznov/finance-analyst/internal/infra/postgres"
	"github.com/dvloznov/finance-analyst/internal/jobs"
	"github.com/dvloznov/finance-analyst/internal/jobs/inmemory"
	"github.com/dvloznov/finance-analyst/internal/logger"
	"github.com/dvloznov/finance-analyst/internal/pipeline"
	"github.com/dvloznov/finance-analyst/internal/source"
)

const keepAliveInterval = time.Minute

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	port := flag.String("port", cfg.APIPort, "HTTP server port")
	flag.Parse()

	log := logger.Configure(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	repo, err := app.OpenRepository(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer repo.Close()
	go postgres.KeepAlive(ctx, repo.DB().DB, keepAliveInterval)

	assistant, err := app.NewAgent(ctx, cfg, repo.DB())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create agent")
	}
	defer assistant.Close()

	opts, err := app.PipelineOptions(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build pipeline options")
	}
	sources := source.NewStore()
	defer sources.Close()
	runner := pipeline.NewRunner(repo, sources, opts)

	// Ingestion jobs run one at a time.
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, 1, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	jobHandler := func(ctx context.Context, job *jobs.IngestJob) error {
		log.Info().Str("job_id", job.JobID).Int("sources", len(job.Sources)).Msg("Processing ingestion job")

		results, err := runner.Run(ctx, job.Sources)
		job.Results = results
		return err
	}

	if err := jobQueue.Start(workerCtx, jobHandler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job worker")
	}

	// Initialize handlers
	svc := dashboard.NewService(repo)
	dashboardHandler := handlers.NewDashboardHandler(svc, log)
	runsHandler := handlers.NewRunsHandler(svc, log)
	pipelineHandler := handlers.NewPipelineHandler(jobQueue, jobStore, app.DefaultSources(cfg), log)
	chatHandler := handlers.NewChatHandler(assistant.Runner, log)

	mux := http.NewServeMux()

	get := func(h http.HandlerFunc) http.HandlerFunc {
		return middleware.MethodHandler(map[string]http.HandlerFunc{http.MethodGet: h})
	}

	// Dashboard endpoints
	mux.HandleFunc("/api/dashboard/overview", get(dashboardHandler.Overview))
	mux.HandleFunc("/api/dashboard/monthly-summary", get(dashboardHandler.MonthlySummary))
	mux.HandleFunc("/api/dashboard/category-performance", get(dashboardHandler.CategoryPerformance))
	mux.HandleFunc("/api/dashboard/profit-loss", get(dashboardHandler.ProfitLoss))
	mux.HandleFunc("/api/dashboard/yoy-growth", get(dashboardHandler.YoYGrowth))
	mux.HandleFunc("/api/dashboard/top-accounts", get(dashboardHandler.TopAccounts))
	mux.HandleFunc("/api/dashboard/trends", get(dashboardHandler.TrendAnalysis))

	// Pipeline run audit
	mux.HandleFunc("/api/runs", get(runsHandler.ListRuns))
	mux.HandleFunc("/api/runs/", get(func(w http.ResponseWriter, r *http.Request) {
		runID := strings.TrimPrefix(r.URL.Path, "/api/runs/")
		if runID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Run ID is required")
			return
		}
		runsHandler.GetRun(w, r, runID)
	}))

	// Ingestion jobs
	mux.HandleFunc("/api/pipeline/jobs", middleware.MethodHandler(map[string]http.HandlerFunc{
		http.MethodGet:  pipelineHandler.ListJobs,
		http.MethodPost: pipelineHandler.SubmitJob,
	}))
	mux.HandleFunc("/api/pipeline/jobs/", get(func(w http.ResponseWriter, r *http.Request) {
		jobID := strings.TrimPrefix(r.URL.Path, "/api/pipeline/jobs/")
		if jobID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
			return
		}
		pipelineHandler.GetJob(w, r, jobID)
	}))

	// Chat
	mux.HandleFunc("/api/chat", middleware.MethodHandler(map[string]http.HandlerFunc{
		http.MethodPost: chatHandler.Chat,
	}))
	mux.HandleFunc("/api/chat/history", get(chatHandler.History))

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status, code := "healthy", http.StatusOK
		if err := postgres.PingWithTimeout(r.Context(), repo.DB().DB, 2*time.Second); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		middleware.WriteJSON(w, code, map[string]string{
			"status": status,
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	handler := middleware.Chain(mux,
		middleware.Recovery(log),
		middleware.RequestID,
		middleware.Logger(log),
		middleware.CORS,
		middleware.Auth(cfg.APIToken),
	)

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Let the running ingestion job finish before the pool closes.
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
