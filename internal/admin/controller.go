package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ordersync/internal/audit"
	"ordersync/internal/cache"
	"ordersync/internal/channel"
	"ordersync/internal/filter"
	"ordersync/internal/models"
)

const (
	defaultDebounce = 500 * time.Millisecond
	auditSource     = "admin"
)

var (
	ErrPageOutOfRange  = errors.New("page out of range")
	ErrMutationPending = errors.New("mutation already pending for order")
	ErrInvalidStatus   = errors.New("invalid order status")
	ErrPartnerRequired = errors.New("delivery partner id required")
)

// SyncState tells the dashboard whether the visible page is trustworthy.
type SyncState string

const (
	StateIdle       SyncState = "idle"
	StateLoading    SyncState = "loading"
	StateRefreshing SyncState = "refreshing"
)

// Sender is the outbound half of the query channel the controller needs.
type Sender interface {
	Send(channel.Envelope) error
}

type Config struct {
	Debounce time.Duration
}

// Controller drives the admin order list: it owns the filter state, issues
// queries over the channel, applies results to the page cache, and serializes
// mutations. All inbound results flow through its handle* methods, so the
// channel client itself stays free of business state.
type Controller struct {
	sender Sender
	cache  *cache.PageCache
	notify Notifier
	trail  *audit.Trail
	log    *zap.Logger

	debounce time.Duration
	now      func() time.Time

	mu            sync.Mutex
	filters       filter.State
	search        string
	searchDraft   string
	searchTimer   *time.Timer
	page          int
	pageSize      int
	syncState     SyncState
	lastRequestID string
	pendingMut    map[string]struct{}
	partners      []models.DeliveryPartner
	requests      map[string][]models.DeliveryRequest
	history       map[string][]models.StatusHistoryEntry
	closed        bool
}

func New(cfg Config, sender Sender, pc *cache.PageCache, notifier Notifier, trail *audit.Trail, log *zap.Logger) *Controller {
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	return &Controller{
		sender:     sender,
		cache:      pc,
		notify:     notifier,
		trail:      trail,
		log:        log,
		debounce:   cfg.Debounce,
		now:        time.Now,
		filters:    filter.Defaults(),
		page:       1,
		pageSize:   filter.DefaultPageSize,
		syncState:  StateIdle,
		pendingMut: make(map[string]struct{}),
		requests:   make(map[string][]models.DeliveryRequest),
		history:    make(map[string][]models.StatusHistoryEntry),
	}
}

// Attach registers the controller's result handlers on the channel client.
func (c *Controller) Attach(cl *channel.Client) {
	cl.OnMessage(channel.KindOrdersData, c.handleOrdersData)
	cl.OnMessage(channel.KindDeliveryPartnersData, c.handlePartnersData)
	cl.OnMessage(channel.KindDeliveryRequestsData, c.handleDeliveryRequests)
	cl.OnMessage(channel.KindOrderStatusHistory, c.handleStatusHistory)
	cl.OnMessage(channel.KindOrderUpdated, c.handleOrderUpdated)
	cl.OnMessage(channel.KindOrderAssigned, c.handleOrderAssigned)
	cl.OnMessage(channel.KindError, c.handleError)
}

// Start issues the initial page query and the partner roster request.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncState = StateLoading
	c.sendQueryLocked()
	c.sendLocked(channel.Envelope{Type: channel.TypeGetDeliveryPartners})
}

// ApplyFilters replaces the filter state and re-queries from page one.
// Filter changes are immediate; only free-text search is debounced.
func (c *Controller) ApplyFilters(st filter.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = st
	c.page = 1
	c.syncState = StateLoading
	c.sendQueryLocked()
}

// ClearFilters resets filters, search, and page in one step.
func (c *Controller) ClearFilters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelSearchLocked()
	c.filters = filter.Defaults()
	c.search = ""
	c.searchDraft = ""
	c.page = 1
	c.syncState = StateLoading
	c.sendQueryLocked()
}

// SetSearch records a search keystroke. The query fires only after the
// debounce window passes with no further keystrokes, and always carries the
// latest text.
func (c *Controller) SetSearch(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.searchDraft = text
	if c.searchTimer != nil {
		c.searchTimer.Stop()
	}
	c.searchTimer = time.AfterFunc(c.debounce, c.commitSearch)
}

func (c *Controller) commitSearch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.search = c.searchDraft
	c.page = 1
	c.syncState = StateLoading
	c.sendQueryLocked()
}

// SetPage navigates to an absolute page. Out-of-range pages are rejected
// against the last known pagination rather than sent to the backend.
func (c *Controller) SetPage(page int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, pg := c.cache.Get()
	if page < 1 || (pg.TotalPages > 0 && page > pg.TotalPages) {
		return fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, page, pg.TotalPages)
	}
	c.page = page
	c.syncState = StateLoading
	c.sendQueryLocked()
	return nil
}

// SetPageSize changes the page size and returns to page one, since the old
// page number is meaningless under a new size.
func (c *Controller) SetPageSize(size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pageSize = size
	c.page = 1
	c.syncState = StateLoading
	c.sendQueryLocked()
}

// Refresh re-queries the current page without touching filters.
func (c *Controller) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncState = StateRefreshing
	c.sendQueryLocked()
}

// UpdateOrderStatus requests a status change for one order. At most one
// mutation may be in flight per order; the guard is released by the matching
// ack or by an error result.
func (c *Controller) UpdateOrderStatus(orderID string, status models.OrderStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.pendingMut[orderID]; busy {
		c.notifyMutationBusy(orderID)
		return fmt.Errorf("%w: %s", ErrMutationPending, orderID)
	}
	env := channel.Envelope{
		Type:      channel.TypeUpdateOrderStatus,
		RequestID: uuid.NewString(),
		Data: map[string]string{
			"order_id":   orderID,
			"new_status": string(status),
		},
	}
	if err := c.sender.Send(env); err != nil {
		return fmt.Errorf("send status update: %w", err)
	}
	c.pendingMut[orderID] = struct{}{}
	return nil
}

// AssignPartner requests a courier assignment for one order.
func (c *Controller) AssignPartner(orderID, partnerID string) error {
	if partnerID == "" {
		c.notify.Notify(Notice{
			Severity: SeverityError,
			Title:    "Assignment failed",
			Message:  "Select a delivery partner first",
		})
		return ErrPartnerRequired
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.pendingMut[orderID]; busy {
		c.notifyMutationBusy(orderID)
		return fmt.Errorf("%w: %s", ErrMutationPending, orderID)
	}
	env := channel.Envelope{
		Type:      channel.TypeAssignPartner,
		RequestID: uuid.NewString(),
		Data: map[string]string{
			"order_id":            orderID,
			"delivery_partner_id": partnerID,
		},
	}
	if err := c.sender.Send(env); err != nil {
		return fmt.Errorf("send partner assignment: %w", err)
	}
	c.pendingMut[orderID] = struct{}{}
	return nil
}

// notifyMutationBusy surfaces a guarded rejection: the caller's action is a
// no-op, and the operator must see why.
func (c *Controller) notifyMutationBusy(orderID string) {
	c.notify.Notify(Notice{
		Severity: SeverityError,
		Title:    "Change already in progress",
		Message:  fmt.Sprintf("Order %s has a pending change, wait for it to finish", orderID),
	})
}

// RequestStatusHistory asks for the full transition history of one order.
func (c *Controller) RequestStatusHistory(orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendLocked(channel.Envelope{
		Type: channel.TypeGetStatusHistory,
		Data: map[string]string{"order_id": orderID},
	})
}

// RequestDeliveryRequests asks for the open courier offers on one order.
func (c *Controller) RequestDeliveryRequests(orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendLocked(channel.Envelope{
		Type: channel.TypeGetDeliveryRequests,
		Data: map[string]string{"order_id": orderID},
	})
}

func (c *Controller) State() SyncState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncState
}

func (c *Controller) Partners() []models.DeliveryPartner {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.DeliveryPartner(nil), c.partners...)
}

// DeliveryRequests returns the cached courier offers for one order.
func (c *Controller) DeliveryRequests(orderID string) []models.DeliveryRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.DeliveryRequest(nil), c.requests[orderID]...)
}

func (c *Controller) StatusHistory(orderID string) []models.StatusHistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.StatusHistoryEntry(nil), c.history[orderID]...)
}

// MutationPending reports whether a status change or assignment is still in
// flight for the order.
func (c *Controller) MutationPending(orderID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, busy := c.pendingMut[orderID]
	return busy
}

// Close cancels any pending debounce. Further keystrokes are ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.cancelSearchLocked()
}

func (c *Controller) cancelSearchLocked() {
	if c.searchTimer != nil {
		c.searchTimer.Stop()
		c.searchTimer = nil
	}
}

// sendQueryLocked compiles the current filter state and sends the query with
// a fresh correlation id. Only the latest id is honored by handleOrdersData;
// everything older is stale by definition.
func (c *Controller) sendQueryLocked() {
	id := uuid.NewString()
	c.lastRequestID = id
	q := filter.Compile(c.filters, c.search, c.page, c.pageSize, c.now())
	c.sendLocked(channel.Envelope{
		Type:      channel.TypeGetOrders,
		RequestID: id,
		Filters:   q,
	})
}

func (c *Controller) sendLocked(env channel.Envelope) {
	if err := c.sender.Send(env); err != nil {
		c.syncState = StateIdle
		c.log.Warn("channel send failed", zap.String("type", env.Type), zap.Error(err))
		c.notify.Notify(Notice{
			Severity: SeverityError,
			Title:    "Connection problem",
			Message:  "Could not reach the order service",
		})
	}
}

func (c *Controller) handleOrdersData(raw []byte) {
	var res models.PageResult
	if err := json.Unmarshal(raw, &res); err != nil {
		c.log.Warn("undecodable orders result", zap.Error(err))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if res.RequestID != "" {
		if res.RequestID != c.lastRequestID {
			c.log.Debug("discarding stale orders result",
				zap.String("request_id", res.RequestID))
			return
		}
	} else if res.Pagination.CurrentPage != c.page {
		// Backend without request_id echo: fall back to page matching.
		c.log.Debug("discarding out-of-order orders result",
			zap.Int("got_page", res.Pagination.CurrentPage),
			zap.Int("want_page", c.page))
		return
	}
	c.cache.Replace(res)
	if res.Pagination.CurrentPage > 0 {
		c.page = res.Pagination.CurrentPage
	}
	c.syncState = StateIdle
}

func (c *Controller) handlePartnersData(raw []byte) {
	var res struct {
		Partners []models.DeliveryPartner `json:"partners"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		c.log.Warn("undecodable partner roster", zap.Error(err))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partners = res.Partners
}

func (c *Controller) handleDeliveryRequests(raw []byte) {
	var res struct {
		OrderID  string                   `json:"order_id"`
		Requests []models.DeliveryRequest `json:"requests"`
	}
	if err := json.Unmarshal(raw, &res); err != nil || res.OrderID == "" {
		c.log.Warn("undecodable delivery requests", zap.Error(err))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[res.OrderID] = res.Requests
}

func (c *Controller) handleStatusHistory(raw []byte) {
	var res struct {
		OrderID string                      `json:"order_id"`
		History []models.StatusHistoryEntry `json:"history"`
	}
	if err := json.Unmarshal(raw, &res); err != nil || res.OrderID == "" {
		c.log.Warn("undecodable status history", zap.Error(err))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history[res.OrderID] = res.History
}

func (c *Controller) handleOrderUpdated(raw []byte) {
	var ack struct {
		OrderID   string `json:"order_id"`
		OldStatus string `json:"old_status"`
		NewStatus string `json:"new_status"`
	}
	if err := json.Unmarshal(raw, &ack); err != nil {
		c.log.Warn("undecodable update ack", zap.Error(err))
		return
	}
	if c.trail != nil && ack.OrderID != "" {
		c.trail.Record(audit.Record{
			OrderID:   ack.OrderID,
			OldStatus: ack.OldStatus,
			NewStatus: ack.NewStatus,
			Source:    auditSource,
		})
	}
	c.notify.Notify(Notice{
		Severity: SeveritySuccess,
		Title:    "Order updated",
		Message:  fmt.Sprintf("Order %s is now %s", ack.OrderID, ack.NewStatus),
	})
	c.finishMutation(ack.OrderID)
}

func (c *Controller) handleOrderAssigned(raw []byte) {
	var ack struct {
		OrderID           string `json:"order_id"`
		DeliveryPartnerID string `json:"delivery_partner_id"`
	}
	if err := json.Unmarshal(raw, &ack); err != nil {
		c.log.Warn("undecodable assignment ack", zap.Error(err))
		return
	}
	c.notify.Notify(Notice{
		Severity: SeveritySuccess,
		Title:    "Partner assigned",
		Message:  fmt.Sprintf("Order %s assigned to %s", ack.OrderID, ack.DeliveryPartnerID),
	})
	c.finishMutation(ack.OrderID)
}

// finishMutation releases the per-order guard and re-queries the current
// page so the visible row reflects the server's view, not a local patch.
func (c *Controller) finishMutation(orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pendingMut, orderID)
	c.syncState = StateRefreshing
	c.sendQueryLocked()
}

func (c *Controller) handleError(raw []byte) {
	var res struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return
	}
	if swallowedError(res.Message) {
		c.log.Debug("ignoring benign channel error", zap.String("message", res.Message))
		return
	}
	c.mu.Lock()
	// A failed request leaves no way to tell which mutation died, so all
	// guards are released rather than wedging orders forever.
	for id := range c.pendingMut {
		delete(c.pendingMut, id)
	}
	c.syncState = StateIdle
	c.mu.Unlock()

	c.notify.Notify(Notice{
		Severity: SeverityError,
		Title:    "Order service error",
		Message:  res.Message,
	})
}

// swallowedError filters backend noise that carries no actionable signal.
func swallowedError(msg string) bool {
	return strings.Contains(msg, "Unknown message type") ||
		strings.Contains(msg, "not implemented")
}
