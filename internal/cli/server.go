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
	"github.com/quizbankorg/quizbank/internal/app"
	"github.com/quizbankorg/quizbank/internal/config"
	"github.com/quizbankorg/quizbank/internal/infra/memory"
	pgbank "github.com/quizbankorg/quizbank/internal/infra/postgres"
	redisbank "github.com/quizbankorg/quizbank/internal/infra/redis"
	transport "github.com/quizbankorg/quizbank/internal/transport/http"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewServeCmd builds the CLI subcommand to start the server.
func NewServeCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the question bank server",
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

	// Backend selection: Postgres when configured, else Redis, else the
	// in-memory store (data lost on restart; fine for demos).
	var repo app.BankRepository = memory.NewBankRepository()
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		repo = pgbank.NewBankRepository(pool)
	} else if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		repo = redisbank.NewBankRepository(client)
	}

	service := app.NewBankService(repo, log.Default())

	cacheTTL := config.TTLDuration(cfg.AnswerCache.TTL, time.Minute)
	answers := memory.NewAnswerCache(service, cacheTTL)

	captureHandler := transport.NewCaptureHandler(service, answers)
	wsHandler := transport.NewWSHandler(service, answers)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/capture", captureHandler.HandleCapture)
	mux.HandleFunc("/api/answers", captureHandler.HandleBestAnswer)
	mux.HandleFunc("/api/questions", captureHandler.HandleQuestion)
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting quizbank service on :%s", finalPort)
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
