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
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/zamio/backend/docs"
	"github.com/zamio/backend/internal/database"
	"github.com/zamio/backend/internal/events"
	"github.com/zamio/backend/internal/handlers"
	mW "github.com/zamio/backend/internal/middleware"
	"github.com/zamio/backend/internal/models"
	"github.com/zamio/backend/internal/services"
)

// @title Zamio Royalty Settlement API
// @version 1.0
// @description Balance ledger and payout workflows for the royalty platform
// @host localhost:8080
// @BasePath /api
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.SetEnvPrefix("")

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

	viper.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	viper.BindEnv("kafka.topic", "KAFKA_TOPIC")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("rail.settlement_url", "RAIL_SETTLEMENT_URL")
	viper.BindEnv("rail.momo_url", "RAIL_MOMO_URL")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "Zamio Royalty Settlement API"
	docs.SwaggerInfo.Description = "Balance ledger and payout workflows for the royalty platform"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize infrastructure
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	publisher := events.NewPublisher()
	defer publisher.Close()

	// Initialize services
	ledgerService := services.NewLedgerService(db)
	railService := services.NewPaymentRailService()
	moneyFlowService := services.NewMoneyFlowService(db, ledgerService, publisher)
	depositService := services.NewDepositService(db, ledgerService, publisher)
	withdrawalService := services.NewWithdrawalService(db, ledgerService, railService, redisClient, publisher)
	subDistributionService := services.NewSubDistributionService(db)
	disputeService := services.NewDisputeService(db)
	disputeHandler := handlers.NewDisputeHandler(disputeService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(mW.AuthMiddleware)

		r.Route("/royalties", func(r chi.Router) {
			r.Get("/balance/", moneyFlowService.GetMyBalance)

			r.Group(func(r chi.Router) {
				r.Use(mW.RequireRole(models.RequesterAdmin))
				r.Get("/platform/balance/", moneyFlowService.GetPlatformBalance)
				r.Get("/accounts/{accountID}/reconcile/", moneyFlowService.ReconcileAccount)
				r.Post("/stations/{stationID}/add-funds/", moneyFlowService.AddFunds)
				r.Get("/stations/deposit-requests/", depositService.ListDeposits)
				r.Post("/stations/deposits/{depositID}/approve/", depositService.ApproveDeposit)
				r.Post("/stations/deposits/{depositID}/reject/", depositService.RejectDeposit)
				r.Post("/withdrawals/{withdrawalID}/approve-payment/", withdrawalService.ApproveWithdrawal)
				r.Post("/withdrawals/{withdrawalID}/reject-payment/", withdrawalService.RejectWithdrawal)
			})

			r.Get("/accounts/{accountID}/transactions/", moneyFlowService.ListAccountTransactions)
			r.Get("/stations/{stationID}/balance/", moneyFlowService.GetStationBalance)

			r.Group(func(r chi.Router) {
				r.Use(mW.RequireRole("station", models.RequesterAdmin))
				r.Post("/stations/{stationID}/deposit/", depositService.CreateDeposit)
				r.Get("/stations/deposits/{depositID}/qr/", depositService.DepositQR)
				r.Post("/stations/{stationID}/charge-play/", moneyFlowService.ChargePlay)
			})

			r.Group(func(r chi.Router) {
				r.Use(mW.RequireRole(models.RequesterArtist, models.RequesterPublisher))
				r.Post("/withdrawal-request/", withdrawalService.CreateWithdrawal)
			})
			r.Get("/withdrawals/", withdrawalService.ListWithdrawals)
			r.Get("/withdrawals/{withdrawalID}/", withdrawalService.GetWithdrawal)
			r.Post("/withdrawals/{withdrawalID}/cancel/", withdrawalService.CancelWithdrawal)
		})

		r.Route("/publishers/sub-distributions", func(r chi.Router) {
			r.Get("/", subDistributionService.ListSubDistributions)
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireRole(models.RequesterPublisher, models.RequesterAdmin))
				r.Post("/", subDistributionService.CreateSubDistribution)
				r.Post("/{subID}/approve/", subDistributionService.ApproveSubDistribution)
				r.Post("/{subID}/mark-paid/", subDistributionService.MarkSubDistributionPaid)
				r.Post("/{subID}/mark-failed/", subDistributionService.MarkSubDistributionFailed)
			})
		})

		// The admin portal consumes disputes under a doubled prefix,
		// /api/disputes/api/disputes/.
		r.Route("/disputes/api/disputes", func(r chi.Router) {
			r.Get("/", disputeHandler.ListDisputes)
			r.Post("/", disputeHandler.CreateDispute)
			r.Get("/{disputeID}/", disputeHandler.GetDispute)
			r.Post("/{disputeID}/transition_status/", disputeHandler.TransitionStatus)
			r.Post("/{disputeID}/add_comment/", disputeHandler.AddComment)
			r.Post("/{disputeID}/add_evidence/", disputeHandler.AddEvidence)
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireRole(models.RequesterAdmin))
				r.Post("/{disputeID}/assign/", disputeHandler.Assign)
			})
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
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
