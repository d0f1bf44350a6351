package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/malamalweekly/backend/internal/database"
	"github.com/malamalweekly/backend/internal/handlers"
	"github.com/malamalweekly/backend/internal/logger"
	mW "github.com/malamalweekly/backend/internal/middleware"
	"github.com/malamalweekly/backend/internal/services"
)

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("env", "ENV")
	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")

	viper.SetDefault("env", "local")
	viper.ReadInConfig()

	log, err := logger.New("settlement-core", viper.GetString("env"))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// Initialize stores
	db, err := database.InitDB()
	if err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.Close()
	log.Info("database connection established")

	redisClient := database.InitRedis(log)
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Initialize services
	notifier := services.NewNotifier(redisClient, log)
	ledgerService := services.NewLedgerService(db, notifier, log)
	gameService := services.NewGameService(db, log)
	roundService := services.NewRoundService(db, log)
	entryService := services.NewEntryService(db, ledgerService, notifier, log)
	settlementService := services.NewSettlementService(db, roundService, entryService, gameService, ledgerService, notifier, log)

	walletHandler := handlers.NewWalletHandler(ledgerService)
	gameHandler := handlers.NewGameHandler(gameService)
	roundHandler := handlers.NewRoundHandler(roundService, settlementService)
	entryHandler := handlers.NewEntryHandler(entryService)

	// Setup router
	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			// Player endpoints
			r.Get("/games", gameHandler.List)
			r.Get("/games/{gameId}", gameHandler.Get)
			r.Get("/rounds/{roundId}", roundHandler.Get)
			r.Post("/rounds/{roundId}/entries", entryHandler.Submit)
			r.Get("/entries", entryHandler.Mine)
			r.Get("/wallet/balance", walletHandler.Balance)
			r.Get("/wallet/transactions", walletHandler.History)
			r.Post("/wallet/withdraw", walletHandler.Withdraw)

			// Trigger surface: administrative actions and the flows that
			// external systems (registration, payment verification) call.
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireAdmin)

				r.Post("/accounts", walletHandler.ProvisionAccount)
				r.Post("/wallet/deposit", walletHandler.Deposit)

				r.Post("/games", gameHandler.Create)
				r.Post("/games/{gameId}/rounds", roundHandler.Create)
				r.Post("/rounds/{roundId}/open", roundHandler.Open)
				r.Post("/rounds/{roundId}/close", roundHandler.Close)
				r.Post("/rounds/{roundId}/cancel", roundHandler.Cancel)
				r.Post("/rounds/{roundId}/settle", roundHandler.Settle)
				r.Post("/rounds/{roundId}/resume", roundHandler.Resume)
				r.Get("/rounds/stalled", roundHandler.Stalled)
				r.Get("/rounds/{roundId}/entries", entryHandler.List)
			})
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info("server starting", zap.String("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
