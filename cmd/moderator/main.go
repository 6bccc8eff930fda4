package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Joginder1706/backend-socket/internal/audit"
	"github.com/Joginder1706/backend-socket/internal/messaging"
	"github.com/Joginder1706/backend-socket/internal/moderation"
	"github.com/Joginder1706/backend-socket/internal/offense"
	"github.com/Joginder1706/backend-socket/internal/store"
)

func main() {
	log.Println("Starting chat moderation service...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// PostgreSQL setup.
	storeConfig := store.DefaultConfig()
	if v := os.Getenv("DATABASE_URL"); v != "" {
		storeConfig.DSN = v
	}
	storeConfig.MaxOpenConns = 5
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	db, err := store.Open(openCtx, storeConfig)
	cancel()
	if err != nil {
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}
	if err := db.Migrate(); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}
	auditStore := audit.NewStore(db.DB())

	// Redis setup.
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()
	offenses := offense.NewStore(rdb)

	// NATS setup.
	natsConfig := messaging.DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "chat-moderator"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	err = natsClient.SubscribeFlagged(func(ev moderation.FlaggedEvent) {
		handleCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := auditStore.Record(handleCtx, ev); err != nil {
			log.Printf("[moderator] failed to record event sender=%s kind=%s: %v", ev.SenderID, ev.Kind, err)
		}

		count, repeat, err := offenses.Record(handleCtx, ev.SenderID)
		if err != nil {
			log.Printf("[moderator] failed to count offense sender=%s: %v", ev.SenderID, err)
			return
		}

		// The Redis counter expires; the audit log is the durable history.
		recorded, err := auditStore.CountRecent(handleCtx, ev.SenderID, offense.Window)
		if err != nil {
			log.Printf("[moderator] failed to count audit events sender=%s: %v", ev.SenderID, err)
		}

		log.Printf("[moderator] FLAGGED kind=%s sender=%s receiver=%s reasons=%v term=%q hints=%v offenses=%d recorded=%d",
			ev.Kind, ev.SenderID, ev.ReceiverID, ev.Reasons, ev.Term, ev.Hints, count, recorded)
		if repeat {
			log.Printf("[moderator] REPEAT OFFENDER sender=%s reached %d offenses in %s",
				ev.SenderID, offense.Threshold, offense.Window)
		}
	})
	if err != nil {
		log.Fatalf("failed to subscribe to moderation events: %v", err)
	}

	log.Printf("chat moderation service running")
	log.Printf("  redis_addr: %s", redisAddr)
	log.Printf("  nats_url:   %s", natsConfig.URL)

	<-ctx.Done()
	log.Printf("received shutdown signal, shutting down...")

	natsClient.Close()
	rdb.Close()
	db.Close()
}
