package events

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/provenance_layer/pkg/logger"
)

const (
	defaultStreamMaxLen = 100000
	exportQueueSize     = 1024
	exportTimeout       = 5 * time.Second
)

// StreamWriter is the subset of the redis client used by the exporter.
type StreamWriter interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisExporter mirrors committed records onto a Redis stream so off-chain
// indexers can consume them. Delivery is asynchronous; records are dropped
// with a warning when the queue is full.
type RedisExporter struct {
	client StreamWriter
	stream string
	maxLen int64
	log    *logger.Logger

	queue chan Record

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewRedisExporter constructs an exporter writing to stream.
func NewRedisExporter(client StreamWriter, stream string, log *logger.Logger) *RedisExporter {
	if log == nil {
		log = logger.NewDefault("events-redis")
	}
	if stream == "" {
		stream = "provenance:events"
	}
	return &RedisExporter{
		client: client,
		stream: stream,
		maxLen: defaultStreamMaxLen,
		log:    log,
		queue:  make(chan Record, exportQueueSize),
	}
}

// Attach subscribes the exporter to a buffer.
func (e *RedisExporter) Attach(rb *RingBuffer) func() {
	return rb.Subscribe(e.enqueue)
}

func (e *RedisExporter) enqueue(rec Record) {
	select {
	case e.queue <- rec:
	default:
		e.log.WithField("seq", rec.Seq).WithField("type", rec.Type).Warn("redis export queue full; dropping event")
	}
}

func (e *RedisExporter) Name() string { return "events-redis-exporter" }

func (e *RedisExporter) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case rec := <-e.queue:
				if err := e.Export(runCtx, rec); err != nil {
					e.log.WithError(err).WithField("seq", rec.Seq).Warn("redis export failed")
				}
			}
		}
	}()
	e.log.WithField("stream", e.stream).Info("redis event exporter started")
	return nil
}

func (e *RedisExporter) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	cancel := e.cancel
	e.running = false
	e.cancel = nil
	e.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.wg.Wait()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Export writes a single record to the stream.
func (e *RedisExporter) Export(ctx context.Context, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, exportTimeout)
	defer cancel()
	return e.client.XAdd(ctx, &redis.XAddArgs{
		Stream: e.stream,
		MaxLen: e.maxLen,
		Approx: true,
		Values: streamValues(rec),
	}).Err()
}

func streamValues(rec Record) map[string]interface{} {
	attrs, _ := json.Marshal(rec.Attributes)
	return map[string]interface{}{
		"seq":        strconv.FormatUint(rec.Seq, 10),
		"type":       string(rec.Type),
		"entity_id":  rec.EntityID,
		"actor":      rec.Actor,
		"timestamp":  rec.Timestamp.UTC().Format(time.RFC3339Nano),
		"attributes": string(attrs),
	}
}
