package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Record is one observed status transition, from either a mutation ack on
// the admin channel or a poll-detected change of the tracked order.
type Record struct {
	Timestamp time.Time
	OrderID   string
	OldStatus string
	NewStatus string
	Source    string
	Message   string
}

type Processor interface {
	Process(batch []Record) error
}

// LogProcessor writes batches as structured log entries.
type LogProcessor struct {
	Log *zap.Logger
}

func (p *LogProcessor) Process(batch []Record) error {
	for _, rec := range batch {
		p.Log.Info("order transition",
			zap.Time("at", rec.Timestamp),
			zap.String("order_id", rec.OrderID),
			zap.String("old_status", rec.OldStatus),
			zap.String("new_status", rec.NewStatus),
			zap.String("source", rec.Source),
			zap.String("message", rec.Message),
		)
	}
	return nil
}

type PoolConfig struct {
	BatchSize   int
	Timeout     time.Duration
	ChannelSize int
}

// Trail batches records through a worker pool. A full queue drops the
// record: the trail must never block the engine.
type Trail struct {
	inputCh    chan Record
	processors []Processor
	batchSize  int
	timeout    time.Duration
	log        *zap.Logger

	wg sync.WaitGroup
}

func NewTrail(cfg PoolConfig, log *zap.Logger, processors ...Processor) *Trail {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	if cfg.ChannelSize <= 0 {
		cfg.ChannelSize = 256
	}
	return &Trail{
		inputCh:    make(chan Record, cfg.ChannelSize),
		processors: processors,
		batchSize:  cfg.BatchSize,
		timeout:    cfg.Timeout,
		log:        log,
	}
}

func (t *Trail) Start(ctx context.Context, numWorkers int) {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	for i := 0; i < numWorkers; i++ {
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.worker(ctx)
		}()
	}
}

func (t *Trail) worker(ctx context.Context) {
	var batch []Record
	timer := time.NewTimer(t.timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				t.processBatch(batch)
			}
			return
		case rec := <-t.inputCh:
			batch = append(batch, rec)
			if len(batch) >= t.batchSize {
				if !timer.Stop() {
					<-timer.C
				}
				t.processBatch(batch)
				batch = nil
				timer.Reset(t.timeout)
			}
		case <-timer.C:
			if len(batch) > 0 {
				t.processBatch(batch)
				batch = nil
			}
			timer.Reset(t.timeout)
		}
	}
}

func (t *Trail) processBatch(batch []Record) {
	for _, proc := range t.processors {
		if err := proc.Process(batch); err != nil {
			t.log.Warn("audit batch processing failed", zap.Error(err))
		}
	}
}

func (t *Trail) Record(rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	select {
	case t.inputCh <- rec:
	default:
		t.log.Warn("audit queue full, dropping record",
			zap.String("order_id", rec.OrderID))
	}
}

// Wait blocks until all workers have flushed and exited; call after
// canceling the context passed to Start.
func (t *Trail) Wait() {
	t.wg.Wait()
}
