package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/geowatch/geowatch/internal/job"
)

// Message attributes set on every alert.
const (
	AttrAnalysisType = "analysis_type"
	AttrRegionID     = "region_id"
)

// AlertPublisherConfig holds configuration for an AlertPublisher.
type AlertPublisherConfig struct {
	ProjectID string
	Topic     string
	Logger    zerolog.Logger

	// ClientOptions are passed to the Pub/Sub client, e.g. credentials or an
	// emulator connection.
	ClientOptions []option.ClientOption
}

// AlertPublisher publishes envelopes whose alert fired to a Pub/Sub topic.
type AlertPublisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	topic     string
	logger    zerolog.Logger
}

var _ job.Recorder = (*AlertPublisher)(nil)

// NewAlertPublisher creates a Pub/Sub client for cfg.ProjectID.
func NewAlertPublisher(ctx context.Context, cfg AlertPublisherConfig) (*AlertPublisher, error) {
	if cfg.Topic == "" {
		return nil, errors.New("alert topic is required")
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, cfg.ClientOptions...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	return &AlertPublisher{
		client:    client,
		publisher: client.Publisher(cfg.Topic),
		topic:     cfg.Topic,
		logger:    cfg.Logger,
	}, nil
}

// Record implements job.Recorder. Envelopes without a triggered alert are
// skipped. It blocks until the server acknowledges the message.
func (p *AlertPublisher) Record(ctx context.Context, env job.Envelope) error {
	if !env.AlertTriggered {
		return nil
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	result := p.publisher.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			AttrAnalysisType: string(env.AnalysisType),
			AttrRegionID:     env.RegionID,
		},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("publishing alert to %s: %w", p.topic, err)
	}

	p.logger.Info().
		Str("message_id", id).
		Str("topic", p.topic).
		Str("region_id", env.RegionID).
		Msg("alert published")
	return nil
}

// Close flushes pending messages and closes the client.
func (p *AlertPublisher) Close() error {
	p.publisher.Stop()
	return p.client.Close()
}
