package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/oriys/taskworker/internal/codec"
	"github.com/oriys/taskworker/internal/handler"
	"github.com/oriys/taskworker/internal/publish"
	"github.com/oriys/taskworker/internal/task"
)

type fakeConsumer struct {
	mu         sync.Mutex
	deliveries chan amqp.Delivery
	acked      []uint64
	nacked     []uint64
	nackRequeue map[uint64]bool
	cancelled  bool
}

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{deliveries: make(chan amqp.Delivery, 8), nackRequeue: map[uint64]bool{}}
}

func (f *fakeConsumer) Consume(tag string) (<-chan amqp.Delivery, error) { return f.deliveries, nil }

func (f *fakeConsumer) CancelConsume(tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.cancelled {
		f.cancelled = true
		close(f.deliveries)
	}
	return nil
}

func (f *fakeConsumer) Ack(tag uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, tag)
	return nil
}

func (f *fakeConsumer) Nack(tag uint64, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacked = append(f.nacked, tag)
	f.nackRequeue[tag] = requeue
	return nil
}

type fakePublishConn struct {
	mu        sync.Mutex
	published [][]byte
}

func (f *fakePublishConn) Publish(ctx context.Context, body []byte, correlationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, body)
	return nil
}
func (*fakePublishConn) NotifyPublish() chan amqp.Confirmation { return nil }
func (*fakePublishConn) ConfirmsEnabled() bool                 { return false }

func (f *fakePublishConn) callbacks(t *testing.T) []task.TaskCallback {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]task.TaskCallback, 0, len(f.published))
	for _, body := range f.published {
		cb, err := codec.DecodeCallback(body)
		if err != nil {
			t.Fatalf("decode published callback: %v", err)
		}
		out = append(out, cb)
	}
	return out
}

type instantInterrupter struct{}

func (instantInterrupter) Wait(ctx context.Context, max time.Duration) bool { return false }

type echoSyncHandler struct{}

func (echoSyncHandler) Execute(msg *task.IncomingMessage, progress handler.SyncProgressFunc) (any, error) {
	progress(nil, "halfway")
	return map[string]any{"doubled": msg.Body["n"]}, nil
}

func TestDispatcher_OneShot_AcksOnSuccess(t *testing.T) {
	consumer := newFakeConsumer()
	pub := publish.New(&fakePublishConn{}, instantInterrupter{})
	adapter := handler.New(func() any { return echoSyncHandler{} })

	d, err := New(consumer, pub, adapter, task.OneShotMode())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	body, _ := json.Marshal(map[string]any{"task_id": "t1", "n": 2})
	consumer.deliveries <- amqp.Delivery{DeliveryTag: 1, Body: body}

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for one-shot run to finish")
	}

	consumer.mu.Lock()
	defer consumer.mu.Unlock()
	if len(consumer.acked) != 1 || consumer.acked[0] != 1 {
		t.Errorf("expected delivery 1 to be acked, got acked=%v nacked=%v", consumer.acked, consumer.nacked)
	}
}

type erroringSyncHandler struct{}

func (erroringSyncHandler) Execute(msg *task.IncomingMessage, progress handler.SyncProgressFunc) (any, error) {
	return nil, errFake
}

var errFake = &fakeErr{"boom"}

type fakeErr struct{ s string }

func (e *fakeErr) Error() string { return e.s }

func TestDispatcher_OneShot_StillAcksOnHandlerError(t *testing.T) {
	// A handler error produces a failure callback, which still gets
	// confirmed and acked — only a decode failure or a permanently failed
	// publish results in a nack.
	consumer := newFakeConsumer()
	pub := publish.New(&fakePublishConn{}, instantInterrupter{})
	adapter := handler.New(func() any { return erroringSyncHandler{} })

	d, err := New(consumer, pub, adapter, task.OneShotMode())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	body, _ := json.Marshal(map[string]any{"task_id": "t2"})
	consumer.deliveries <- amqp.Delivery{DeliveryTag: 7, Body: body}

	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	consumer.mu.Lock()
	defer consumer.mu.Unlock()
	if len(consumer.acked) != 1 || consumer.acked[0] != 7 {
		t.Errorf("expected delivery 7 to be acked despite handler error, got acked=%v nacked=%v", consumer.acked, consumer.nacked)
	}
}

func TestDispatcher_DecodeFailure_NacksWithoutRequeue(t *testing.T) {
	consumer := newFakeConsumer()
	publishConn := &fakePublishConn{}
	pub := publish.New(publishConn, instantInterrupter{})
	adapter := handler.New(func() any { return echoSyncHandler{} })

	d, err := New(consumer, pub, adapter, task.OneShotMode())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	consumer.deliveries <- amqp.Delivery{DeliveryTag: 3, Body: []byte("not json")}

	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	consumer.mu.Lock()
	defer consumer.mu.Unlock()
	if len(consumer.nacked) != 1 || consumer.nacked[0] != 3 {
		t.Fatalf("expected delivery 3 to be nacked, got acked=%v nacked=%v", consumer.acked, consumer.nacked)
	}

	callbacks := publishConn.callbacks(t)
	if len(callbacks) != 1 {
		t.Fatalf("expected exactly one failure callback, got %d", len(callbacks))
	}
	cb := callbacks[0]
	if cb.Status != task.StatusFailure {
		t.Errorf("expected status failure, got %q", cb.Status)
	}
	resp, ok := cb.Response.(map[string]any)
	if !ok {
		t.Fatalf("expected response to be a JSON object, got %T", cb.Response)
	}
	if resp["error"] != codec.ErrorKindDecode {
		t.Errorf("expected error kind %q, got %v", codec.ErrorKindDecode, resp["error"])
	}
	if consumer.nackRequeue[3] {
		t.Error("expected decode failure to nack without requeue")
	}
}
