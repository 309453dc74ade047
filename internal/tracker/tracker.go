package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ordersync/internal/audit"
	"ordersync/internal/broadcast"
	"ordersync/internal/models"
)

const auditSource = "tracker"

type Config struct {
	BaseURL  string
	Interval time.Duration
	Client   *http.Client
}

// Poller keeps the single active order of one subject fresh: a fixed-interval
// fetch plus on-demand refresh, both serviced by one loop so a manual refresh
// never races the timer. It is the sole owner of the tracked record.
type Poller struct {
	baseURL  string
	interval time.Duration
	client   *http.Client
	bc       *broadcast.Broadcaster
	trail    *audit.Trail
	log      *zap.Logger

	mu     sync.RWMutex
	token  string
	record *models.ActiveOrder

	refresh chan struct{}
}

func New(cfg Config, bc *broadcast.Broadcaster, trail *audit.Trail, log *zap.Logger) *Poller {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Poller{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		interval: cfg.Interval,
		client:   cfg.Client,
		bc:       bc,
		trail:    trail,
		log:      log,
		refresh:  make(chan struct{}, 1),
	}
}

// SetToken installs the subject token. An empty token (logout) clears the
// tracked record immediately and suspends fetching until a token returns.
func (p *Poller) SetToken(token string) {
	p.mu.Lock()
	p.token = token
	p.mu.Unlock()
	if token == "" {
		p.setRecord(nil)
	}
}

// Refresh requests an immediate fetch. The poll loop services it and resets
// the interval, so refresh and timer never produce duplicate in-flight
// fetches. Coalesces if a refresh is already pending.
func (p *Poller) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// Active returns a copy of the tracked record, or nil when there is none.
func (p *Poller) Active() *models.ActiveOrder {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.record == nil {
		return nil
	}
	cp := *p.record
	return &cp
}

// Start runs the poll loop until ctx is canceled. On teardown the record is
// not cleared; owning session shutdown should clear via SetToken("").
func (p *Poller) Start(ctx context.Context) {
	p.fetch(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.fetch(ctx)
		case <-p.refresh:
			p.fetch(ctx)
			ticker.Reset(p.interval)
		}
	}
}

func (p *Poller) fetch(ctx context.Context) {
	p.mu.RLock()
	token := p.token
	p.mu.RUnlock()
	if token == "" {
		return
	}

	rec, absent, err := p.fetchActive(ctx, token)
	if err != nil {
		// Fail soft: a transient failure must not flash the UI empty.
		p.log.Warn("active order fetch failed, keeping previous state", zap.Error(err))
		return
	}
	if absent {
		p.setRecord(nil)
		return
	}
	if rec.Status.IsTerminal() {
		// A terminal order is never surfaced as active.
		p.setRecord(nil)
		return
	}
	p.enrich(ctx, token, rec)
	p.setRecord(rec)
}

func (p *Poller) fetchActive(ctx context.Context, token string) (*models.ActiveOrder, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/orders/active", nil)
	if err != nil {
		return nil, false, fmt.Errorf("build active order request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("fetch active order: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusNoContent:
		return nil, true, nil
	default:
		return nil, false, fmt.Errorf("fetch active order: unexpected status %d", resp.StatusCode)
	}

	var rec models.ActiveOrder
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, false, fmt.Errorf("decode active order: %w", err)
	}
	if rec.ID == "" {
		return nil, true, nil
	}
	return &rec, false, nil
}

// enrich pulls the order's line items and totals when the tracked id
// changes. Failure keeps the bare record.
func (p *Poller) enrich(ctx context.Context, token string, rec *models.ActiveOrder) {
	p.mu.RLock()
	sameOrder := p.record != nil && p.record.ID == rec.ID
	var prevItems []models.OrderItem
	var prevTotal decimal.Decimal
	if sameOrder {
		prevItems = p.record.Items
		prevTotal = p.record.TotalAmount
	}
	p.mu.RUnlock()
	if sameOrder {
		rec.Items = prevItems
		if rec.TotalAmount.IsZero() {
			rec.TotalAmount = prevTotal
		}
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/orders/"+rec.ID, nil)
	if err != nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Debug("order detail fetch failed", zap.String("order_id", rec.ID), zap.Error(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}

	var detail struct {
		Items       []models.OrderItem `json:"items"`
		TotalAmount json.RawMessage    `json:"total_amount"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		p.log.Debug("order detail decode failed", zap.String("order_id", rec.ID), zap.Error(err))
		return
	}
	rec.Items = detail.Items
	if len(detail.TotalAmount) > 0 {
		_ = rec.TotalAmount.UnmarshalJSON(detail.TotalAmount)
	}
}

func (p *Poller) setRecord(rec *models.ActiveOrder) {
	p.mu.Lock()
	old := p.record
	changed := recordChanged(old, rec)
	p.record = rec
	p.mu.Unlock()

	if !changed {
		return
	}
	if p.trail != nil {
		p.trail.Record(audit.Record{
			OrderID:   recordID(old, rec),
			OldStatus: string(recordStatus(old)),
			NewStatus: string(recordStatus(rec)),
			Source:    auditSource,
		})
	}
	if p.bc != nil {
		p.bc.Publish(rec)
	}
}

func recordChanged(old, next *models.ActiveOrder) bool {
	if (old == nil) != (next == nil) {
		return true
	}
	if old == nil {
		return false
	}
	return old.ID != next.ID || old.Status != next.Status ||
		old.StatusMessage != next.StatusMessage
}

func recordID(old, next *models.ActiveOrder) string {
	if next != nil {
		return next.ID
	}
	if old != nil {
		return old.ID
	}
	return ""
}

func recordStatus(rec *models.ActiveOrder) models.ActiveStatus {
	if rec == nil {
		return ""
	}
	return rec.Status
}
