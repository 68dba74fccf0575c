package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// StreamPublisher appends JSON payloads to a capped Redis stream
type StreamPublisher struct {
	client *Client
	stream string
	maxLen int64
}

// NewStreamPublisher creates a publisher for stream (approximate cap maxLen entries)
func NewStreamPublisher(client *Client, stream string, maxLen int64) *StreamPublisher {
	if maxLen <= 0 {
		maxLen = 10_000
	}
	return &StreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

// Publish marshals payload and XADDs it under field "event" with a "type" field
func (p *StreamPublisher) Publish(ctx context.Context, eventType string, payload interface{}) error {
	if !p.client.Enabled() {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("stream marshal failed: %w", err)
	}

	return p.client.Redis().XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":  eventType,
			"event": string(data),
		},
	}).Err()
}
