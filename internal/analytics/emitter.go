// Package analytics ships request logs and rate limit violations to the
// analytics service. Delivery is fire-and-forget through a bounded queue:
// a slow or dead analytics service drops events, it never slows requests.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nexusgate/gateway/internal/logging"
)

const (
	defaultQueueSize = 1024
	defaultWorkers   = 2
	defaultTimeout   = 5 * time.Second
)

// RequestLog records one handled request.
type RequestLog struct {
	ApiKeyID       int64  `json:"apiKeyId"`
	ServiceRouteID int64  `json:"serviceRouteId"`
	Method         string `json:"method"`
	Path           string `json:"path"`
	Status         int    `json:"status"`
	LatencyMs      int64  `json:"latencyMs"`
	ClientIP       string `json:"clientIp"`
	RateLimited    bool   `json:"rateLimited"`
	Blocked        bool   `json:"blocked"`
	Timestamp      string `json:"timestamp"`
}

// Violation records one rate limit rejection.
type Violation struct {
	ApiKey      string `json:"apiKey"`
	ServiceName string `json:"serviceName"`
	Endpoint    string `json:"endpoint"`
	HTTPMethod  string `json:"httpMethod"`
	LimitValue  string `json:"limitValue"`
	ActualValue int64  `json:"actualValue"`
	ClientIP    string `json:"clientIp"`
	Timestamp   string `json:"timestamp"`
}

type event struct {
	path    string
	payload any
}

// Emitter posts analytics events in the background. A nil or zero-URL
// emitter discards everything. Emit calls after Close are discarded too;
// requests can still be completing while the server shuts down.
type Emitter struct {
	baseURL string
	http    *http.Client
	queue   chan event
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// Options tunes the emitter's queue and delivery.
type Options struct {
	QueueSize int
	Workers   int
	Timeout   time.Duration
}

// NewEmitter creates an emitter posting to baseURL. An empty baseURL
// disables delivery entirely.
func NewEmitter(baseURL string, opts Options) *Emitter {
	if baseURL == "" {
		return &Emitter{}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	e := &Emitter{
		baseURL: baseURL,
		http:    &http.Client{Timeout: opts.Timeout},
		queue:   make(chan event, opts.QueueSize),
	}
	for i := 0; i < opts.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

// EmitRequest queues a request log. Drops the event when the queue is full.
func (e *Emitter) EmitRequest(log RequestLog) {
	log.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	if log.ClientIP == "" {
		log.ClientIP = "unknown"
	}
	e.enqueue(event{path: "/analytics/logs/request", payload: log})
}

// EmitViolation queues a rate limit violation. Drops when the queue is full.
func (e *Emitter) EmitViolation(v Violation) {
	v.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	e.enqueue(event{path: "/analytics/logs/violation", payload: v})
}

func (e *Emitter) enqueue(ev event) {
	if e.queue == nil {
		return
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	select {
	case e.queue <- ev:
	default:
		logging.Debug("Analytics queue full, dropping event", zap.String("path", ev.path))
	}
}

// Close stops accepting events, drains the queue, and waits for workers.
// Safe to call more than once and concurrently with Emit.
func (e *Emitter) Close() {
	if e.queue == nil {
		return
	}
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Emitter) worker() {
	defer e.wg.Done()
	for ev := range e.queue {
		e.send(ev)
	}
}

func (e *Emitter) send(ev event) {
	body, err := json.Marshal(ev.payload)
	if err != nil {
		logging.Warn("Failed to encode analytics event", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.http.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+ev.path, bytes.NewReader(body))
	if err != nil {
		logging.Warn("Failed to build analytics request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		logging.Debug("Failed to send analytics event",
			zap.String("path", ev.path),
			zap.Error(err))
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		logging.Debug("Analytics service rejected event",
			zap.String("path", ev.path),
			zap.Int("status", resp.StatusCode))
	}
}
