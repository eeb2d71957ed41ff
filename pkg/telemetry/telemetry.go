package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"chatsync/pkg/state"
)

// Minimal, low-overhead request telemetry designed for local usage.
// - By default only slow requests are logged (see slowThreshold).
// - Per-request spans are only recorded when a request is sampled.

type ctxKeyType struct{}

var (
	writerOnce    sync.Once
	writerCh      chan []byte
	requestCtr    uint64
	spanCtr       uint64
	sampleRate    = 0.001
	slowThreshold = 200 * time.Millisecond
)

// Span is a simple span relative to request start (milliseconds).
type Span struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
	Op       string `json:"op"`
	StartMs  int64  `json:"start_ms"`
	Duration int64  `json:"duration_ms"`
}

// Telemetry holds the per-request trace and metadata.
type Telemetry struct {
	RequestID string `json:"request_id"`
	Op        string `json:"op"`
	StartMs   int64  `json:"start_ms"`
	Duration  int64  `json:"duration_ms"`
	Status    int    `json:"status"`
	Spans     []Span `json:"spans,omitempty"`

	startTime time.Time
	mu        sync.Mutex
	spanStack []string
}

func genRequestID() string {
	return fmt.Sprintf("req-%d-%d", time.Now().UnixNano(), atomic.AddUint64(&requestCtr, 1))
}

func genSpanID() string {
	return fmt.Sprintf("span-%d", atomic.AddUint64(&spanCtr, 1))
}

func shouldSample() bool {
	return rand.Float64() < sampleRate
}

// initWriter lazily starts a background writer that appends JSON lines to
// the telemetry file under the state dir.
func initWriter() {
	writerCh = make(chan []byte, 1024)
	go func() {
		dir := filepath.Join("state", "telemetry")
		if state.PathsVar.Tmp != "" {
			dir = filepath.Join(filepath.Dir(state.PathsVar.Tmp), "telemetry")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return
		}
		f, err := os.OpenFile(filepath.Join(dir, "telemetry.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return
		}
		defer f.Close()
		for b := range writerCh {
			_, _ = f.Write(append(b, '\n'))
		}
	}()
}

func enqueue(b []byte) {
	writerOnce.Do(initWriter)
	select {
	case writerCh <- b:
	default:
		// drop if channel full to avoid blocking
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Middleware wraps the provided handler and records request timing and
// sampled spans.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := genRequestID()

		var tel *Telemetry
		if shouldSample() {
			tel = &Telemetry{
				RequestID: reqID,
				Op:        r.URL.Path,
				startTime: start,
				StartMs:   start.UnixNano() / 1e6,
			}
			rootID := genSpanID()
			tel.Spans = append(tel.Spans, Span{ID: rootID, Op: tel.Op, StartMs: 0})
			tel.spanStack = append(tel.spanStack, rootID)
			r = r.WithContext(context.WithValue(r.Context(), ctxKeyType{}, tel))
		}

		srw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(srw, r)

		dur := time.Since(start)
		if tel != nil {
			tel.mu.Lock()
			tel.Status = srw.status
			tel.Duration = dur.Milliseconds()
			b, err := json.Marshal(tel)
			tel.mu.Unlock()
			if err == nil {
				enqueue(b)
			}
			return
		}

		// not sampled: only record slow requests
		if dur > slowThreshold {
			rec := map[string]any{
				"request_id":  reqID,
				"op":          r.URL.Path,
				"duration_ms": dur.Milliseconds(),
				"status":      srw.status,
				"slow":        true,
			}
			if b, err := json.Marshal(rec); err == nil {
				enqueue(b)
			}
		}
	})
}

// StartSpan returns an end function. If telemetry isn't enabled for the
// request, StartSpan returns a no-op end function.
func StartSpan(ctx context.Context, name string) func() {
	v := ctx.Value(ctxKeyType{})
	if v == nil {
		return func() {}
	}
	tel, ok := v.(*Telemetry)
	if !ok {
		return func() {}
	}
	startRel := time.Since(tel.startTime).Milliseconds()
	id := genSpanID()

	tel.mu.Lock()
	parent := ""
	if len(tel.spanStack) > 0 {
		parent = tel.spanStack[len(tel.spanStack)-1]
	}
	tel.Spans = append(tel.Spans, Span{ID: id, ParentID: parent, Op: name, StartMs: startRel})
	tel.spanStack = append(tel.spanStack, id)
	idx := len(tel.Spans) - 1
	tel.mu.Unlock()

	return func() {
		endRel := time.Since(tel.startTime).Milliseconds()
		tel.mu.Lock()
		if idx < len(tel.Spans) {
			tel.Spans[idx].Duration = endRel - tel.Spans[idx].StartMs
		}
		if len(tel.spanStack) > 0 {
			tel.spanStack = tel.spanStack[:len(tel.spanStack)-1]
		}
		tel.mu.Unlock()
	}
}
