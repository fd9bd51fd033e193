package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	redisclient "github.com/hackgods/clinic-appointment-scheduling/internal/redis"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaSink_KeyedByRecipient(t *testing.T) {
	w := &fakeWriter{}
	sink := &KafkaSink{writer: w}

	err := sink.Emit(context.Background(), Artifact{
		Kind:      KindReminder,
		Recipient: "ada@example.com",
		Body:      "hello",
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}

	msg := w.msgs[0]
	if string(msg.Key) != "ada@example.com" {
		t.Errorf("unexpected key %q", msg.Key)
	}
	var decoded Artifact
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Kind != KindReminder || decoded.Body != "hello" {
		t.Errorf("unexpected payload %+v", decoded)
	}
}

func TestMultiSink_EmitsToAllAndJoinsErrors(t *testing.T) {
	ok := &recordingSink{}
	broken := &KafkaSink{writer: &fakeWriter{err: errors.New("broker down")}}

	err := MultiSink{broken, ok, NewLogSink(zap.NewNop())}.Emit(context.Background(), Artifact{Kind: KindReminder})
	if err == nil {
		t.Fatal("expected error from broken sink")
	}
	if len(ok.all()) != 1 {
		t.Error("healthy sink should still receive the artifact")
	}
}

type fakeQueue struct {
	reqs chan *redisclient.ExportRequest
}

func (q *fakeQueue) Dequeue(ctx context.Context, wait time.Duration) (*redisclient.ExportRequest, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-q.reqs:
		return r, nil
	case <-time.After(wait):
		return nil, nil
	}
}

func TestExportWorker_RunsJobPerRequest(t *testing.T) {
	q := &fakeQueue{reqs: make(chan *redisclient.ExportRequest, 1)}
	runner := NewRunner(zap.NewNop(), time.Second)

	userID := uuid.New()
	seen := make(chan Trigger, 1)
	job := funcJob{name: "history-export", fn: func(_ context.Context, trig Trigger) (Summary, error) {
		seen <- trig
		return Summary{Artifacts: 1}, nil
	}}

	w := NewExportWorker(q, runner, job, zap.NewNop())
	w.wait = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	q.reqs <- &redisclient.ExportRequest{RequestID: uuid.New(), UserID: userID, RequestedAt: time.Now()}

	select {
	case trig := <-seen:
		if trig.UserID != userID || trig.Source != SourceQueue {
			t.Errorf("unexpected trigger %+v", trig)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("export job was not run")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestCronSource_RejectsBadSpec(t *testing.T) {
	src := NewCronSource(NewRunner(zap.NewNop(), time.Second), time.UTC, zap.NewNop())
	job := funcJob{name: "x", fn: func(context.Context, Trigger) (Summary, error) { return Summary{}, nil }}

	if err := src.Schedule("every tuesday", job); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
	if err := src.Schedule("0 8 * * *", job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
