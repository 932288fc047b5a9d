package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"mirror-ledger/api"
	"mirror-ledger/config"
	"mirror-ledger/engine"
	"mirror-ledger/handlers"
	"mirror-ledger/middleware"
	"mirror-ledger/storage"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

// publishMetrics pushes engine counters to Redis every 30 seconds.
func publishMetrics(eng *engine.Engine, store *engine.MetricsStore) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := store.Save(ctx, eng.Snapshot()); err != nil {
			log.Printf("[main] metrics publish: %v", err)
		}
		cancel()
	}
}

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using defaults")
	}

	cfgPath := os.Getenv("MIRROR_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var journal storage.TradeJournal
	switch cfg.Data.Backend {
	case "sqlite":
		store, err := storage.New(cfg.Data.DBPath)
		if err != nil {
			log.Fatalf("failed to init sqlite storage: %v", err)
		}
		journal = store
	case "postgres":
		store, err := storage.NewPostgres()
		if err != nil {
			log.Fatalf("failed to init postgres storage: %v", err)
		}
		journal = store
	case "none":
		log.Println("[main] trade journal disabled")
	}
	if journal != nil {
		defer journal.Close()
	}

	if cfg.Exchange.ChainRPCURL == "" {
		log.Fatal("chain RPC URL is required (exchange.chain_rpc_url or MIRROR_CHAIN_RPC_URL)")
	}
	clock, err := api.DialChainClock(context.Background(), cfg.Exchange.ChainRPCURL)
	if err != nil {
		log.Fatalf("failed to connect chain clock: %v", err)
	}
	defer clock.Close()

	exchange := api.NewRouterClient(cfg.Exchange.RouterURL)
	custody := api.NewCustodyClient(cfg.Exchange.CustodyURL)

	eng := engine.New(exchange, custody, clock, journal, engine.Params{
		CooldownBlocks: cfg.Engine.CooldownBlocks,
		FeeVault:       cfg.FeeVaultAddress(),
		Owner:          cfg.OwnerAddress(),
		Operator:       cfg.OperatorAddress(),
		Router:         cfg.RouterAddress(),
	})

	log.Printf("[main] engine ready (cooldown=%d blocks, router=%s)",
		cfg.Engine.CooldownBlocks, cfg.Engine.Router)

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		metricsStore := engine.NewMetricsStore(redis.NewClient(opt))
		go publishMetrics(eng, metricsStore)
		log.Println("[main] metrics publisher started")
	}

	// Set up router
	r := gin.Default()

	h := handlers.NewHandler(eng, journal, cfg.OwnerAddress())

	// Read endpoints
	r.GET("/health", h.HealthCheck)
	r.GET("/api/status", h.GetStatus)
	r.GET("/api/leaders", h.GetLeaders)
	r.GET("/api/leaders/:id", h.GetLeader)
	r.GET("/api/leaders/address/:address", middleware.ValidateAddressParam("address"), h.GetLeaderByAddress)
	r.GET("/api/leaders/address/:address/trails", middleware.ValidateAddressParam("address"), middleware.ValidateQueryParams(), h.GetLeaderTrails)
	r.GET("/api/sessions/:id", h.GetSession)
	r.GET("/api/sessions/:id/min-out", h.EstimateMinOut)
	r.GET("/api/followers/:address", middleware.ValidateAddressParam("address"), h.GetFollower)
	r.GET("/api/trails/:id", h.GetTrail)
	r.GET("/api/router-updates", h.GetRouterUpdates)

	// Admin endpoints
	admin := r.Group("/api/admin", middleware.BasicAuth())
	admin.POST("/leaders", h.DesignateLeader)
	admin.DELETE("/leaders/:address", middleware.ValidateAddressParam("address"), h.RevokeLeader)
	admin.POST("/halt", h.SetHalted)
	admin.POST("/operator", h.SetOperator)
	admin.POST("/router", h.SetExchangeEndpoint)
	admin.POST("/withdraw-fees", h.WithdrawFees)

	// Get port from environment or use default
	port := os.Getenv("PORT")
	if port == "" {
		port = strconv.Itoa(cfg.Server.Port)
	}

	log.Printf("Server starting on http://localhost:%s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatal(err)
	}
}
