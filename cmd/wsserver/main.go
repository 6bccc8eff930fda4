package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Joginder1706/backend-socket/internal/admission"
	"github.com/Joginder1706/backend-socket/internal/delivery"
	"github.com/Joginder1706/backend-socket/internal/messaging"
	"github.com/Joginder1706/backend-socket/internal/metrics"
	"github.com/Joginder1706/backend-socket/internal/presence"
	"github.com/Joginder1706/backend-socket/internal/ratelimit"
	"github.com/Joginder1706/backend-socket/internal/relay"
	"github.com/Joginder1706/backend-socket/internal/store"
	"github.com/Joginder1706/backend-socket/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if n := envInt("WORKER_POOL_SIZE"); n > 0 {
		config.WorkerPoolSize = n
	}
	if n := envInt("MAX_CONNECTIONS"); n > 0 {
		config.MaxConnections = n
	}
	if d := envDuration("READ_TIMEOUT"); d > 0 {
		config.ReadTimeout = d
	}
	if d := envDuration("WRITE_TIMEOUT"); d > 0 {
		config.WriteTimeout = d
	}
	if n := envInt("MAX_FRAME_BYTES"); n > 0 {
		config.MaxFrameBytes = int64(n)
	}

	presenceConfig := presence.DefaultConfig()
	if v := os.Getenv("PRESENCE_SETTLE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			presenceConfig.SettleDelay = d
		}
	}

	admissionConfig := admission.DefaultConfig()
	if n := envInt("DAILY_FREE_LIMIT"); n > 0 {
		admissionConfig.DailyFreeLimit = n
	}
	if v := os.Getenv("FREE_PLAN"); v != "" {
		admissionConfig.FreePlan = strings.ToLower(v)
	}
	if v := os.Getenv("PINNED_PLANS"); v != "" {
		var plans []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				plans = append(plans, p)
			}
		}
		admissionConfig.PinnedPlans = plans
	}

	metricsAddr := ":9090"
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		metricsAddr = v
	}
	serverName, _ := os.Hostname()
	if v := os.Getenv("SERVER_NAME"); v != "" {
		serverName = v
	}
	if serverName == "" {
		serverName = "relay-1"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- PostgreSQL ---
	storeConfig := store.DefaultConfig()
	if v := os.Getenv("DATABASE_URL"); v != "" {
		storeConfig.DSN = v
	}
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	db, err := store.Open(openCtx, storeConfig)
	cancel()
	if err != nil {
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	// --- Redis (flood guard) ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	var limiter relay.Limiter
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Printf("redis unavailable at %s, flood guard disabled: %v", redisAddr, err)
	} else {
		limiter = ratelimit.NewLimiter(rdb)
	}
	cancel()

	// --- NATS (moderation events) ---
	natsConfig := messaging.DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "chat-relay-" + serverName
	var publisher admission.Publisher
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Printf("nats unavailable at %s, moderation events disabled: %v", natsConfig.URL, err)
	} else {
		publisher = natsClient
		defer natsClient.Close()
	}

	log.Printf("chat relay starting")
	log.Printf("  server_name:     %s", serverName)
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  metrics_addr:    %s", metricsAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  max_frame_bytes: %d", config.MaxFrameBytes)
	log.Printf("  settle_delay:    %s", presenceConfig.SettleDelay)
	log.Printf("  daily_limit:     %d (fallback)", admissionConfig.DailyFreeLimit)
	log.Printf("  free_plan:       %s", admissionConfig.FreePlan)
	log.Printf("  pinned_plans:    %v", admissionConfig.PinnedPlans)
	log.Printf("  redis_addr:      %s", redisAddr)
	log.Printf("  nats_url:        %s", natsConfig.URL)

	dispatcher := ws.NewMessageDispatcher()
	server := ws.NewServer(config, dispatcher.Dispatch)

	registry := presence.NewRegistry()
	router := delivery.NewRouter(registry, server)
	pipeline := admission.NewPipeline(db, registry, router, publisher, admissionConfig)

	svc := relay.NewService(relay.Deps{
		Registry:  registry,
		Presence:  presence.NewBroadcaster(registry, server, presenceConfig),
		Router:    router,
		Admission: pipeline,
		Reads:     db,
		Limiter:   limiter,
		Transport: server,
	})
	svc.Register(ctx, dispatcher)

	server.SetOnConnect(func(c *ws.Connection) {
		svc.Connected(relay.Caller{ConnID: c.ID, UserID: c.UserID})
	})
	server.SetOnDisconnect(func(c *ws.Connection) {
		svc.Disconnected(relay.Caller{ConnID: c.ID, UserID: c.UserID})
	})
	server.SetOnlineUsers(func() int { return len(registry.OnlineUsers()) })

	metricsServer := &http.Server{Addr: metricsAddr, Handler: metrics.Handler()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Printf("shutting down: %v", context.Cause(gctx))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown error: %v", err)
		}
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
	log.Printf("chat relay stopped")
}

func envInt(name string) int {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("ignoring %s=%q: %v", name, v, err)
		return 0
	}
	return n
}

func envDuration(name string) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("ignoring %s=%q: %v", name, v, err)
		return 0
	}
	return d
}
