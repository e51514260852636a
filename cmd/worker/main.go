package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"classmark/internal/attendance"
	"classmark/internal/config"
	"classmark/internal/queue"
	"classmark/internal/store"
)

// Worker drains the sync queue: records whose remote write was degraded
// at marking time are re-pushed to the remote store here.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	if cfg.FirebaseDatabaseURL == "" {
		log.Fatal("FIREBASE_DATABASE_URL required: the sync worker only makes sense with a remote store")
	}
	remote, err := store.NewFirebase(ctx, cfg.FirebaseDatabaseURL, cfg.FirebaseCredentials)
	if err != nil {
		log.Fatalf("firebase connect failed: %v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	cache := store.NewCache(redisClient.Client)
	repo := attendance.NewRepository(remote, cache, cfg.RemoteTimeout)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "classmark:sync")
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("sync worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != attendance.SyncMessageType {
			continue
		}

		var rec attendance.Record
		if err := json.Unmarshal(msg.Body, &rec); err != nil {
			log.Printf("undecodable sync message dropped: %v", err)
			continue
		}

		if err := repo.SyncRemote(ctx, rec); err != nil {
			log.Printf("remote sync for record %s failed, requeueing: %v", rec.ID, err)
			if perr := q.Publish(ctx, msg); perr != nil {
				log.Printf("requeue failed, record %s stays cache-only: %v", rec.ID, perr)
			}
			// Back off so a dead remote does not spin the loop.
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
			}
			continue
		}
		log.Printf("record %s synced to remote", rec.ID)
	}

	log.Println("sync worker stopped")
}
