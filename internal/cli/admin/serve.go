package admin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evidentops/storypack/internal/api/handlers"
	"github.com/evidentops/storypack/internal/config"
	"github.com/evidentops/storypack/internal/domain"
	"github.com/evidentops/storypack/internal/jobs"
	"github.com/evidentops/storypack/internal/openai"
	"github.com/evidentops/storypack/internal/repository"
	"github.com/evidentops/storypack/internal/server"
	"github.com/evidentops/storypack/internal/service"
	"github.com/evidentops/storypack/internal/storage"
	"github.com/evidentops/storypack/internal/telemetry"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the storypack API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize Sentry with tracing if SENTRY_DSN is set
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}

		// Default to 10% sampling in production, 100% in development
		sampleRate := 0.1
		if environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              dsn,
			Environment:      environment,
			TracesSampleRate: sampleRate,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	log.Println("connected to database")

	// Run migrations unless --no-migrate flag is set
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	chunkRepo := repository.NewChunkRepository(pool)
	conflictRepo := repository.NewConflictRepository(pool)
	packRepo := repository.NewPackRepository(pool)
	versionRepo := repository.NewVersionRepository(pool)
	baselineRepo := repository.NewBaselineRepository(pool)
	qaFlagRepo := repository.NewQAFlagRepository(pool)
	sourceRepo := repository.NewSourceRepository(pool)
	workspaceRepo := repository.NewWorkspaceRepository(pool)
	apiKeyRepo := repository.NewAPIKeyRepository(pool)
	jobRepo := repository.NewAnalysisJobRepository(pool)
	analyticsRepo := repository.NewAnalyticsRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	authSvc := service.NewAuthService(workspaceRepo, apiKeyRepo)

	if cfg.InitWorkspaceName != "" && cfg.InitAPIKey != "" {
		if err := authSvc.EnsureBootstrapKey(ctx, cfg.InitWorkspaceName, cfg.InitAPIKey); err != nil {
			return fmt.Errorf("failed to bootstrap initial workspace: %w", err)
		}
		log.Printf("bootstrap: workspace '%s' ready", cfg.InitWorkspaceName)
	}

	var archiver service.SnapshotArchiver
	if cfg.HasS3() {
		s3Config := storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		}
		s3Client, err := storage.NewS3Client(ctx, s3Config)
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)
		archiver = s3Client
	}

	var (
		classificationJudge service.ClassificationJudge = noopJudge{}
		contradictionJudge  service.ContradictionJudge  = noopJudge{}
		reviewJudge         service.ReviewJudge         = noopJudge{}
		coherenceJudge      service.CoherenceJudge      = noopJudge{}
		openaiClient        *openai.Client
	)
	if cfg.HasOpenAI() {
		openaiClient = openai.NewClient(cfg.OpenAIAPIKey)
		classificationJudge = &classificationJudgeAdapter{client: openaiClient}
		contradictionJudge = &contradictionJudgeAdapter{client: openaiClient}
		reviewJudge = &reviewJudgeAdapter{client: openaiClient}
		coherenceJudge = &coherenceJudgeAdapter{client: openaiClient}
	}

	classifierSvc := service.NewClassifierService(chunkRepo, classificationJudge)
	conflictSvc := service.NewConflictService(conflictRepo, chunkRepo, contradictionJudge)
	qaCheckSvc := service.NewQACheckService(versionRepo, qaFlagRepo)
	qualitySvc := service.NewQualityService(versionRepo, qaFlagRepo, reviewJudge, coherenceJudge)
	traceSvc := service.NewTraceService(versionRepo, chunkRepo, sourceRepo)
	baselineSvc := service.NewBaselineService(txRunner, baselineRepo, packRepo, archiver, cfg.BaselineLabelTemplate)
	analyticsSvc := service.NewAnalyticsService(analyticsRepo, workspaceRepo)

	var analysisWorker *jobs.Worker
	if cfg.HasOpenAI() {
		embeddingSvc := service.NewEmbeddingService(chunkRepo, openaiClient)
		processor := jobs.NewAnalysisWorker(jobRepo, embeddingSvc, classifierSvc, conflictSvc)
		analysisWorker = jobs.NewWorker(processor, time.Duration(cfg.WorkerPollSeconds)*time.Second)
		go analysisWorker.Start(ctx)
		log.Println("analysis worker started")
	}

	routerCfg := server.RouterConfig{
		AuthValidator:    authSvc,
		AnalysisHandler:  handlers.NewAnalysisHandler(classifierSvc, conflictSvc),
		QACheckHandler:   handlers.NewQACheckHandler(qaCheckSvc),
		QualityHandler:   handlers.NewQualityHandler(qualitySvc, traceSvc),
		BaselineHandler:  handlers.NewBaselineHandler(baselineSvc, versionRepo, qualitySvc),
		AnalyticsHandler: handlers.NewAnalyticsHandler(analyticsSvc),
		AuthHandler:      handlers.NewAuthHandler(authSvc),
	}

	router := server.NewRouter(routerCfg)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	if analysisWorker != nil {
		analysisWorker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

// noopJudge stands in for every judge role when no OpenAI key is configured.
type noopJudge struct{}

func (noopJudge) ClassifyChunks(ctx context.Context, contents []string) ([]service.ChunkClassification, error) {
	return nil, domain.ErrJudgeNotConfigured
}

func (noopJudge) JudgeContradictions(ctx context.Context, projectContext string, pairs []*service.CandidatePair) ([]service.PairJudgement, error) {
	return nil, domain.ErrJudgeNotConfigured
}

func (noopJudge) SelfReview(ctx context.Context, stories []service.ReviewStoryInput) (*service.ReviewOutcome, error) {
	return nil, domain.ErrJudgeNotConfigured
}

func (noopJudge) JudgeCoherence(ctx context.Context, topics []service.SourceTopic, storyTitles []string) ([]int, error) {
	return nil, domain.ErrJudgeNotConfigured
}

// judgeError folds an OpenAI client failure into the domain judge taxonomy
// so callers can match on the sentinel rather than the transport error.
func judgeError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", domain.ErrJudgeTimeout, err)
	case errors.Is(err, openai.ErrUnparseable), errors.Is(err, openai.ErrEmptyReply):
		return fmt.Errorf("%w: %v", domain.ErrJudgeUnparseable, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrJudgeCallFailed, err)
	}
}

type classificationJudgeAdapter struct {
	client *openai.Client
}

func (a *classificationJudgeAdapter) ClassifyChunks(ctx context.Context, contents []string) ([]service.ChunkClassification, error) {
	inputs := make([]openai.ChunkInput, len(contents))
	for i, content := range contents {
		inputs[i] = openai.ChunkInput{Index: i, Content: content}
	}
	verdicts, err := a.client.ClassifyChunks(ctx, inputs)
	if err != nil {
		return nil, judgeError(err)
	}
	out := make([]service.ChunkClassification, len(verdicts))
	for i, v := range verdicts {
		out[i] = service.ChunkClassification{
			Index:      v.Index,
			Tag:        domain.ClassificationTag(v.Tag),
			Confidence: v.Confidence,
		}
	}
	return out, nil
}

type contradictionJudgeAdapter struct {
	client *openai.Client
}

func (a *contradictionJudgeAdapter) JudgeContradictions(ctx context.Context, projectContext string, pairs []*service.CandidatePair) ([]service.PairJudgement, error) {
	inputs := make([]openai.PairInput, len(pairs))
	for i, p := range pairs {
		inputs[i] = openai.PairInput{Index: i, ContentA: p.ContentA, ContentB: p.ContentB}
	}
	verdicts, err := a.client.JudgeContradictions(ctx, projectContext, inputs)
	if err != nil {
		return nil, judgeError(err)
	}
	out := make([]service.PairJudgement, len(verdicts))
	for i, v := range verdicts {
		out[i] = service.PairJudgement{
			Index:       v.Index,
			Contradicts: v.Contradicts,
			Summary:     v.Summary,
			Confidence:  v.Confidence,
		}
	}
	return out, nil
}

type reviewJudgeAdapter struct {
	client *openai.Client
}

func (a *reviewJudgeAdapter) SelfReview(ctx context.Context, stories []service.ReviewStoryInput) (*service.ReviewOutcome, error) {
	inputs := make([]openai.ReviewStory, len(stories))
	for i, s := range stories {
		inputs[i] = openai.ReviewStory{
			Index:      s.Index,
			Title:      s.Title,
			Criteria:   s.Criteria,
			ChunkTexts: s.ChunkTexts,
		}
	}
	verdict, err := a.client.SelfReview(ctx, inputs)
	if err != nil {
		return nil, judgeError(err)
	}
	issues := make([]service.ReviewIssue, len(verdict.Issues))
	for i, issue := range verdict.Issues {
		issues[i] = service.ReviewIssue{
			StoryIndex: issue.StoryIndex,
			Kind:       issue.Kind,
			Severity:   issue.Severity,
			Detail:     issue.Detail,
		}
	}
	return &service.ReviewOutcome{
		ConfidenceScore:    verdict.ConfidenceScore,
		OverallAssessment:  verdict.OverallAssessment,
		Issues:             issues,
		MissedRequirements: verdict.MissedRequirements,
	}, nil
}

type coherenceJudgeAdapter struct {
	client *openai.Client
}

func (a *coherenceJudgeAdapter) JudgeCoherence(ctx context.Context, topics []service.SourceTopic, storyTitles []string) ([]int, error) {
	inputs := make([]openai.TopicInput, len(topics))
	for i, t := range topics {
		inputs[i] = openai.TopicInput{Label: t.Label, EvidenceDepth: t.EvidenceDepth}
	}
	verdict, err := a.client.JudgeCoherence(ctx, inputs, storyTitles)
	if err != nil {
		return nil, judgeError(err)
	}
	return verdict.OffTopicStories, nil
}

func runMigrations(databaseURL string) error {
	// Create a sql.DB connection for golang-migrate
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	// Create postgres driver instance
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	// Create migrate instance with file source
	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	// Run migrations
	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Get migration version and status
	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
