package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"testpass-service/internal/app"
	"testpass-service/internal/config"
	"testpass-service/internal/domain"
	"testpass-service/internal/evaluator"
	"testpass-service/internal/infra/memory"
	pgloader "testpass-service/internal/infra/postgres"
	redisinfra "testpass-service/internal/infra/redis"
	transport "testpass-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the test passing server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	sessionTTL := config.TTLDuration(cfg.Redis.TTL, 4*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.TestLoader = memory.NewStaticTestLoader(sampleTests())
	if pool != nil {
		loader = pgloader.NewTestLoader(pool)
	}

	testTTL := config.TTLDuration(cfg.Tests.TTL, 10*time.Minute)
	var tests app.TestRepository
	if redisClient != nil {
		tests = redisinfra.NewTestRepository(redisClient, loader, testTTL)
	} else {
		tests = memory.NewTestRepository(loader, testTTL)
	}

	var store app.SessionStore
	if redisClient != nil {
		store = redisinfra.NewSessionStore(redisClient, sessionTTL)
	} else {
		store = memory.NewSessionStore()
	}

	var eval app.Evaluator = evaluator.NewStaticEvaluator()
	if cfg.Evaluator.URL != "" {
		eval = evaluator.NewHTTPEvaluator(cfg.Evaluator.URL, config.TTLDuration(cfg.Evaluator.Timeout, 15*time.Second))
	}

	grader := app.NewGrader(eval, cfg.Grading.PassLine)
	engine := app.NewEngine(store, tests, app.NewScheduler(), grader)
	wsHandler := transport.NewWSHandler(engine)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting testpass service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleTests provides a minimal definition set; swap the loader for the
// Postgres-backed one in production.
func sampleTests() map[string]domain.Test {
	return map[string]domain.Test{
		"test-1": {
			ID:            "test-1",
			Title:         "Basics",
			PassThreshold: 2,
			Questions: []domain.Question{
				{
					ID:             "q1",
					Type:           domain.SingleChoice,
					Prompt:         "What is 2 + 2?",
					Enabled:        true,
					Options:        []string{"3", "4", "5"},
					CorrectOptions: []int{1},
				},
				{
					ID:             "q2",
					Type:           domain.MultipleChoice,
					Prompt:         "Which of these are even?",
					Enabled:        true,
					Options:        []string{"1", "2", "3", "4"},
					CorrectOptions: []int{1, 3},
				},
				{
					ID:               "q3",
					Type:             domain.FullAnswer,
					Prompt:           "Name the capital of France.",
					Enabled:          true,
					ReferenceAnswers: []string{"Paris"},
					CheckMode:        domain.CheckLite,
				},
			},
		},
	}
}
