package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

// ReconciliationEvent is published after a sweep or auto-fix run completes,
// so downstream consumers (alerting, BI sync) can react without polling.
type ReconciliationEvent struct {
	BusinessId    string    `json:"business_id"`
	RunType       string    `json:"run_type"` // "reconciliation" | "autofix"
	CorrelationId string    `json:"correlation_id"`
	LocationId    *int      `json:"location_id,omitempty"`
	VarianceCount int       `json:"variance_count"`
	FixedCount    int       `json:"fixed_count"`
	ErrorCount    int       `json:"error_count"`
	GeneratedAt   time.Time `json:"generated_at"`
}

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

func init() {
	// Load env from .env
	godotenv.Load()
}

func getPubSubProjectID() string {
	// Prefer explicit override.
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	// Cloud Run/Cloud Functions often set this.
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	// Common fallback.
	if v := os.Getenv("GCP_PROJECT"); v != "" {
		return v
	}
	return ""
}

func getPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		return pubsubClient, nil
	}

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON")

	var (
		c   *pubsub.Client
		err error
	)
	if credJSON != "" {
		c, err = pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
	} else {
		// Uses Application Default Credentials (Cloud Run service account or GOOGLE_APPLICATION_CREDENTIALS).
		c, err = pubsub.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, err
	}
	pubsubClient = c
	return pubsubClient, nil
}

// PublishReconciliationEvent is best effort: callers log the returned error
// and continue. The engine's own result is the source of truth; events are
// a convenience for subscribers.
func PublishReconciliationEvent(ctx context.Context, event ReconciliationEvent) error {
	topicName := os.Getenv("RECON_EVENTS_TOPIC")
	if topicName == "" {
		// Publishing disabled.
		return nil
	}
	client, err := getPubSubClient(ctx)
	if err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	topic := client.Topic(topicName)
	res := topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"business_id":    event.BusinessId,
			"run_type":       event.RunType,
			"correlation_id": event.CorrelationId,
		},
	})
	_, err = res.Get(ctx)
	return err
}
