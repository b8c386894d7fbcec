package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"presence/internal/attendance"
	"presence/internal/config"
	"presence/internal/queue"
	"presence/internal/store"
)

// Worker drains the outbox queue and hands messages to the external
// collaborators: accepted attendance events and password-reset deliveries go
// to the configured webhook, or to the log when none is set.
func main() {
	_ = godotenv.Load()
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

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Printf("warning: schema migration failed: %v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "presence:outbox")
	}

	eventRepo := attendance.NewRepository(db.Client)
	notify := &dispatcher{
		notifyURL: cfg.NotifyURL,
		http:      &http.Client{Timeout: 10 * time.Second},
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		switch msg.Type {
		case queue.TypeEvent:
			var notice queue.EventNotice
			if err := json.Unmarshal(msg.Body, &notice); err != nil {
				log.Printf("bad event notice: %v", err)
				continue
			}
			evt, err := eventRepo.GetEvent(ctx, notice.EventID)
			if err != nil {
				log.Printf("fetch event %s failed: %v", notice.EventID, err)
				continue
			}
			if err := notify.dispatchEvent(ctx, evt); err != nil {
				log.Printf("dispatch event %s failed: %v", evt.ID, err)
				continue
			}
			log.Printf("event %s dispatched", evt.ID)

		case queue.TypePasswordReset:
			var notice queue.ResetNotice
			if err := json.Unmarshal(msg.Body, &notice); err != nil {
				log.Printf("bad reset notice: %v", err)
				continue
			}
			if err := notify.dispatchReset(ctx, notice); err != nil {
				log.Printf("dispatch reset for %s failed: %v", notice.Email, err)
				continue
			}
			log.Printf("reset delivery dispatched for %s", notice.Email)

		default:
			log.Printf("skipping message type %q", msg.Type)
		}
	}

	log.Println("worker stopped")
}

type dispatcher struct {
	notifyURL string
	http      *http.Client
}

func (d *dispatcher) dispatchEvent(ctx context.Context, evt attendance.Event) error {
	payload := map[string]any{
		"type":       "attendance_event",
		"event_id":   evt.ID,
		"when":       evt.When,
		"status":     evt.Status,
		"method":     evt.Method,
		"confidence": evt.Confidence,
		"location":   evt.Location,
	}
	return d.post(ctx, payload)
}

func (d *dispatcher) dispatchReset(ctx context.Context, notice queue.ResetNotice) error {
	payload := map[string]any{
		"type":  "password_reset",
		"email": notice.Email,
		"token": notice.Value,
	}
	return d.post(ctx, payload)
}

func (d *dispatcher) post(ctx context.Context, payload map[string]any) error {
	if d.notifyURL == "" {
		// No collaborator configured; visible in logs but without secrets.
		log.Printf("no NOTIFY_URL set, dropping %v notification", payload["type"])
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.notifyURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
