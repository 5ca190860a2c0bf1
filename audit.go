package behaviorsdk

import (
	"context"
	"log"
	"sync"
	"time"
)

// ──────────────────────────────────────────────
// Audit Log — fire-and-forget moderation trail
// ──────────────────────────────────────────────

// Audit record kinds.
const (
	AuditKindTrigger    = "trigger"
	AuditKindTransition = "phase_transition"
	AuditKindReset      = "phase_reset"
)

// AuditRecord is one moderation-review event.
type AuditRecord struct {
	Kind         string       `json:"kind"`
	AgentID      string       `json:"agent_id"`
	BehaviorType BehaviorType `json:"behavior_type"`
	TriggerType  TriggerType  `json:"trigger_type,omitempty"`
	FromPhase    int          `json:"from_phase,omitempty"`
	ToPhase      int          `json:"to_phase,omitempty"`
	Intensity    float64      `json:"intensity"`
	Detail       string       `json:"detail,omitempty"`
	At           time.Time    `json:"at"`
}

// AuditSink receives audit records. Implementations may be slow; the async
// log in front of them keeps the critical path unblocked.
type AuditSink interface {
	Write(record AuditRecord) error
}

// AuditLogConfig tunes the async pipeline.
type AuditLogConfig struct {
	Workers   int // background goroutines, default 1
	QueueSize int // buffered channel capacity, default 256
}

// AsyncAuditLog decouples audit writes from message processing. Submit is
// non-blocking and drops records under back-pressure; the state machine's
// correctness never depends on the audit trail.
type AsyncAuditLog struct {
	sink   AuditSink
	queue  chan AuditRecord
	wg     sync.WaitGroup
	cancel context.CancelFunc

	// mu orders Submit's send against Stop's close: Stop takes the write
	// lock before closing the queue, so no Submit can be mid-send.
	mu      sync.RWMutex
	stopped bool
}

// NewAsyncAuditLog creates and starts the pipeline. Call Stop() to drain.
func NewAsyncAuditLog(sink AuditSink, config ...AuditLogConfig) *AsyncAuditLog {
	cfg := AuditLogConfig{Workers: 1, QueueSize: 256}
	if len(config) > 0 {
		if config[0].Workers > 0 {
			cfg.Workers = config[0].Workers
		}
		if config[0].QueueSize > 0 {
			cfg.QueueSize = config[0].QueueSize
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &AsyncAuditLog{
		sink:   sink,
		queue:  make(chan AuditRecord, cfg.QueueSize),
		cancel: cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		a.wg.Add(1)
		go a.worker(ctx)
	}
	return a
}

// Submit enqueues a record. Returns false if the queue was full and the
// record was dropped.
func (a *AsyncAuditLog) Submit(record AuditRecord) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.stopped {
		return false
	}
	select {
	case a.queue <- record:
		return true
	default:
		log.Printf("[AuditLog] Queue full, dropping %s record | agent=%s behavior=%s", record.Kind, record.AgentID, record.BehaviorType)
		return false
	}
}

// Pending returns the number of queued records.
func (a *AsyncAuditLog) Pending() int {
	return len(a.queue)
}

// Stop drains the queue and shuts workers down. Blocks until done. Further
// Submit calls are rejected.
func (a *AsyncAuditLog) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.mu.Unlock()
	a.cancel()
	close(a.queue)
	a.wg.Wait()
}

func (a *AsyncAuditLog) worker(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case rec, ok := <-a.queue:
			if !ok {
				return
			}
			a.write(rec)
		case <-ctx.Done():
			for rec := range a.queue {
				a.write(rec)
			}
			return
		}
	}
}

func (a *AsyncAuditLog) write(rec AuditRecord) {
	if err := a.sink.Write(rec); err != nil {
		log.Printf("[AuditLog] Sink write failed: %v", err)
	}
}

// MemoryAuditSink is a thread-safe in-memory sink for tests and local runs.
type MemoryAuditSink struct {
	mu      sync.Mutex
	records []AuditRecord
}

// NewMemoryAuditSink creates an empty sink.
func NewMemoryAuditSink() *MemoryAuditSink {
	return &MemoryAuditSink{}
}

func (s *MemoryAuditSink) Write(record AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

// Records returns a copy of everything written so far.
func (s *MemoryAuditSink) Records() []AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditRecord, len(s.records))
	copy(out, s.records)
	return out
}

var _ AuditSink = (*MemoryAuditSink)(nil)
