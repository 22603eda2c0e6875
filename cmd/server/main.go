package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/vaultcore/backend/internal/database"
	mW "github.com/vaultcore/backend/internal/middleware"
	"github.com/vaultcore/backend/internal/services"
)

// @title VaultCore Transfer Engine API
// @version 1.0
// @description Fund-transfer ledger engine: paired DEBIT/CREDIT entries over locked account balances
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

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
	viper.BindEnv("ledger.flag_threshold", "LEDGER_FLAG_THRESHOLD")
	viper.BindEnv("alerts.low_balance_floor", "ALERTS_LOW_BALANCE_FLOOR")
	viper.BindEnv("settlement.currency", "SETTLEMENT_CURRENCY")
	viper.BindEnv("settlement.bic", "SETTLEMENT_BIC")
	viper.BindEnv("settlement.drain_interval", "SETTLEMENT_DRAIN_INTERVAL")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	accountService := services.NewAccountService(db)
	ledgerService := services.NewLedgerService(db)
	securityService := services.NewAccountSecurityService(db)
	limitService := services.NewTransactionLimitService()
	notificationService := services.NewNotificationService(redisClient)
	settlementService := services.NewSettlementService(redisClient)
	transferService := services.NewFundTransferService(
		db, accountService, ledgerService, securityService, limitService,
		notificationService, settlementService,
	)

	// Settlement export worker
	viper.SetDefault("settlement.drain_interval", time.Minute)
	drainCtx, stopDrain := context.WithCancel(context.Background())
	defer stopDrain()
	go func() {
		ticker := time.NewTicker(viper.GetDuration("settlement.drain_interval"))
		defer ticker.Stop()
		for {
			select {
			case <-drainCtx.Done():
				return
			case <-ticker.C:
				if n, err := settlementService.DrainOnce(drainCtx); err != nil {
					log.Printf("[SETTLEMENT] Drain failed: %v", err)
				} else if n > 0 {
					log.Printf("[SETTLEMENT] Exported %d transfers", n)
				}
			}
		}
	}()

	r := chi.NewRouter()

	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/transfers", transferService.TransferFunds)
			r.Get("/transactions", transferService.ListTransactions)
			r.Get("/transactions/recent", transferService.GetRecentTransactions)
			r.Get("/transactions/summary", transferService.GetTransactionSummary)
			r.Get("/transactions/{entryId}", transferService.GetTransaction)
			r.Post("/accounts/pin", transferService.ChangePIN)
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

	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
