package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ExportRequest asks the job worker to build a patient's history export.
type ExportRequest struct {
	RequestID   uuid.UUID `json:"request_id"`
	UserID      uuid.UUID `json:"user_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// ExportQueue is a FIFO of export requests kept in a Redis list. Producers
// LPUSH and the worker BRPOPs, so a request is handed to exactly one worker.
type ExportQueue struct {
	client *redis.Client
	key    string
}

func NewExportQueue(client *redis.Client, key string) *ExportQueue {
	return &ExportQueue{client: client, key: key}
}

func (q *ExportQueue) Enqueue(ctx context.Context, userID uuid.UUID) (ExportRequest, error) {
	req := ExportRequest{
		RequestID:   uuid.New(),
		UserID:      userID,
		RequestedAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return ExportRequest{}, fmt.Errorf("marshal export request: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return ExportRequest{}, fmt.Errorf("enqueue export request: %w", err)
	}
	return req, nil
}

// Dequeue blocks for up to wait. It returns nil, nil when nothing arrived.
func (q *ExportQueue) Dequeue(ctx context.Context, wait time.Duration) (*ExportRequest, error) {
	res, err := q.client.BRPop(ctx, wait, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue export request: %w", err)
	}

	// BRPOP replies with [key, value]
	if len(res) != 2 {
		return nil, fmt.Errorf("dequeue export request: unexpected reply length %d", len(res))
	}

	var req ExportRequest
	if err := json.Unmarshal([]byte(res[1]), &req); err != nil {
		return nil, fmt.Errorf("decode export request: %w", err)
	}
	return &req, nil
}
