package admin

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ordersync/internal/cache"
	"ordersync/internal/channel"
	"ordersync/internal/filter"
	"ordersync/internal/models"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []channel.Envelope
	err  error
}

func (s *fakeSender) Send(env channel.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, env)
	return nil
}

func (s *fakeSender) byType(t string) []channel.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []channel.Envelope
	for _, env := range s.sent {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

func (s *fakeSender) lastQuery(t *testing.T) (channel.Envelope, filter.Query) {
	t.Helper()
	queries := s.byType(channel.TypeGetOrders)
	require.NotEmpty(t, queries, "expected a get_orders message")
	env := queries[len(queries)-1]
	q, ok := env.Filters.(filter.Query)
	require.True(t, ok, "filters payload must be a compiled query")
	return env, q
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *fakeNotifier) Notify(notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *fakeNotifier) all() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notice(nil), n.notices...)
}

func newTestController(debounce time.Duration) (*Controller, *fakeSender, *fakeNotifier, *cache.PageCache) {
	sender := &fakeSender{}
	notifier := &fakeNotifier{}
	pc := cache.NewPageCache()
	ctrl := New(Config{Debounce: debounce}, sender, pc, notifier, nil, zap.NewNop())
	return ctrl, sender, notifier, pc
}

func ordersPayload(t *testing.T, requestID string, page, totalPages int, orders ...models.OrderSummary) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"type":       channel.KindOrdersData,
		"request_id": requestID,
		"orders":     orders,
		"pagination": models.PaginationInfo{
			CurrentPage: page,
			TotalPages:  totalPages,
			TotalCount:  totalPages * filter.DefaultPageSize,
			HasNext:     page < totalPages,
			HasPrev:     page > 1,
		},
	})
	require.NoError(t, err)
	return raw
}

func TestStartSendsInitialQueryAndRoster(t *testing.T) {
	ctrl, sender, _, _ := newTestController(0)
	ctrl.Start()

	_, q := sender.lastQuery(t)
	assert.Equal(t, 1, q.Page)
	assert.Equal(t, filter.DefaultPageSize, q.Limit)
	assert.Empty(t, q.Status, "default filters must compile to no constraints")
	assert.Len(t, sender.byType(channel.TypeGetDeliveryPartners), 1)
	assert.Equal(t, StateLoading, ctrl.State())
}

func TestApplyFiltersResetsToPageOne(t *testing.T) {
	ctrl, sender, _, pc := newTestController(0)
	ctrl.Start()
	pc.Replace(models.PageResult{Pagination: models.PaginationInfo{CurrentPage: 1, TotalPages: 5}})
	require.NoError(t, ctrl.SetPage(3))

	ctrl.ApplyFilters(filter.State{Status: "delivered", DateRange: filter.RangeAll, DeliveryPartner: filter.All})

	_, q := sender.lastQuery(t)
	assert.Equal(t, "delivered", q.Status)
	assert.Equal(t, 1, q.Page, "filter change must return to page one")
}

func TestSearchDebounceSendsOnlyLastText(t *testing.T) {
	ctrl, sender, _, _ := newTestController(20 * time.Millisecond)

	ctrl.SetSearch("c")
	ctrl.SetSearch("co")
	ctrl.SetSearch("coffee")
	time.Sleep(80 * time.Millisecond)

	queries := sender.byType(channel.TypeGetOrders)
	require.Len(t, queries, 1, "three keystrokes inside the window collapse into one query")
	q, ok := queries[0].Filters.(filter.Query)
	require.True(t, ok)
	assert.Equal(t, "coffee", q.Search)
	assert.Equal(t, 1, q.Page)
}

func TestSearchDebounceResetsPerKeystroke(t *testing.T) {
	ctrl, sender, _, _ := newTestController(40 * time.Millisecond)

	ctrl.SetSearch("a")
	time.Sleep(25 * time.Millisecond)
	ctrl.SetSearch("ab")
	time.Sleep(25 * time.Millisecond)
	assert.Empty(t, sender.byType(channel.TypeGetOrders),
		"window restarts on every keystroke")

	time.Sleep(40 * time.Millisecond)
	queries := sender.byType(channel.TypeGetOrders)
	require.Len(t, queries, 1)
}

func TestSetPageRejectsOutOfRange(t *testing.T) {
	ctrl, sender, _, pc := newTestController(0)
	pc.Replace(models.PageResult{Pagination: models.PaginationInfo{CurrentPage: 1, TotalPages: 3}})

	assert.ErrorIs(t, ctrl.SetPage(4), ErrPageOutOfRange)
	assert.ErrorIs(t, ctrl.SetPage(0), ErrPageOutOfRange)
	assert.Empty(t, sender.byType(channel.TypeGetOrders), "rejected pages never hit the wire")

	require.NoError(t, ctrl.SetPage(3))
	_, q := sender.lastQuery(t)
	assert.Equal(t, 3, q.Page)
}

func TestSetPageSizeReturnsToPageOne(t *testing.T) {
	ctrl, sender, _, pc := newTestController(0)
	pc.Replace(models.PageResult{Pagination: models.PaginationInfo{CurrentPage: 1, TotalPages: 9}})
	require.NoError(t, ctrl.SetPage(5))

	ctrl.SetPageSize(25)

	_, q := sender.lastQuery(t)
	assert.Equal(t, 25, q.Limit)
	assert.Equal(t, 1, q.Page)
}

func TestStaleResultDiscardedByRequestID(t *testing.T) {
	ctrl, sender, _, pc := newTestController(0)
	ctrl.Start()
	first, _ := sender.lastQuery(t)

	ctrl.Refresh()
	latest, _ := sender.lastQuery(t)
	require.NotEqual(t, first.RequestID, latest.RequestID)

	ctrl.handleOrdersData(ordersPayload(t, first.RequestID, 1, 1,
		models.OrderSummary{ID: "stale"}))
	assert.False(t, pc.Populated(), "an older request's result must be discarded")
	assert.Equal(t, StateRefreshing, ctrl.State())

	ctrl.handleOrdersData(ordersPayload(t, latest.RequestID, 1, 1,
		models.OrderSummary{ID: "fresh"}))
	orders, _ := pc.Get()
	require.Len(t, orders, 1)
	assert.Equal(t, "fresh", orders[0].ID)
	assert.Equal(t, StateIdle, ctrl.State())
}

func TestResultWithoutRequestIDFallsBackToPageMatch(t *testing.T) {
	ctrl, _, _, pc := newTestController(0)
	ctrl.Start()

	ctrl.handleOrdersData(ordersPayload(t, "", 2, 5, models.OrderSummary{ID: "wrong-page"}))
	assert.False(t, pc.Populated())

	ctrl.handleOrdersData(ordersPayload(t, "", 1, 5, models.OrderSummary{ID: "right-page"}))
	orders, pg := pc.Get()
	require.Len(t, orders, 1)
	assert.Equal(t, "right-page", orders[0].ID)
	assert.Equal(t, 1, pg.CurrentPage)
}

func TestMutationAckReleasesGuardAndRefreshesCurrentPage(t *testing.T) {
	ctrl, sender, _, pc := newTestController(0)
	ctrl.Start()
	pc.Replace(models.PageResult{Pagination: models.PaginationInfo{CurrentPage: 1, TotalPages: 4}})
	require.NoError(t, ctrl.SetPage(2))
	env, _ := sender.lastQuery(t)
	ctrl.handleOrdersData(ordersPayload(t, env.RequestID, 2, 4))

	require.NoError(t, ctrl.UpdateOrderStatus("ord-9", models.StatusPreparing))
	assert.True(t, ctrl.MutationPending("ord-9"))
	assert.ErrorIs(t, ctrl.UpdateOrderStatus("ord-9", models.StatusDelivered), ErrMutationPending)

	ack, _ := json.Marshal(map[string]string{
		"type": channel.KindOrderUpdated, "order_id": "ord-9",
		"old_status": "confirmed", "new_status": "preparing",
	})
	ctrl.handleOrderUpdated(ack)

	assert.False(t, ctrl.MutationPending("ord-9"))
	_, q := sender.lastQuery(t)
	assert.Equal(t, 2, q.Page, "ack must re-query the page being viewed")
	assert.Equal(t, StateRefreshing, ctrl.State())
}

func TestGuardedMutationRejectionNotifies(t *testing.T) {
	ctrl, _, notifier, _ := newTestController(0)
	require.NoError(t, ctrl.UpdateOrderStatus("ord-1", models.StatusPreparing))
	require.Empty(t, notifier.all(), "an accepted mutation produces no notice")

	assert.ErrorIs(t, ctrl.UpdateOrderStatus("ord-1", models.StatusDelivered), ErrMutationPending)
	notices := notifier.all()
	require.Len(t, notices, 1, "guarded rejection must be visible, not just an error return")
	assert.Equal(t, SeverityError, notices[0].Severity)

	assert.ErrorIs(t, ctrl.AssignPartner("ord-1", "dp-2"), ErrMutationPending)
	require.Len(t, notifier.all(), 2, "same rule for assignments")
}

func TestUpdateOrderStatusRejectsUnknownStatus(t *testing.T) {
	ctrl, sender, _, _ := newTestController(0)
	assert.ErrorIs(t, ctrl.UpdateOrderStatus("ord-1", "teleported"), ErrInvalidStatus)
	assert.Empty(t, sender.byType(channel.TypeUpdateOrderStatus))
}

func TestAssignPartnerRequiresPartnerID(t *testing.T) {
	ctrl, sender, notifier, _ := newTestController(0)

	assert.ErrorIs(t, ctrl.AssignPartner("ord-1", ""), ErrPartnerRequired)
	assert.Empty(t, sender.byType(channel.TypeAssignPartner))
	notices := notifier.all()
	require.Len(t, notices, 1)
	assert.Equal(t, SeverityError, notices[0].Severity)
}

func TestAssignPartnerSendsAssignment(t *testing.T) {
	ctrl, sender, _, _ := newTestController(0)

	require.NoError(t, ctrl.AssignPartner("ord-1", "dp-7"))
	envs := sender.byType(channel.TypeAssignPartner)
	require.Len(t, envs, 1)
	data, ok := envs[0].Data.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "dp-7", data["delivery_partner_id"])
	assert.NotEmpty(t, envs[0].RequestID)
	assert.True(t, ctrl.MutationPending("ord-1"))
}

func TestErrorResultReleasesGuardsAndNotifies(t *testing.T) {
	ctrl, _, notifier, _ := newTestController(0)
	require.NoError(t, ctrl.UpdateOrderStatus("ord-1", models.StatusConfirmed))

	raw, _ := json.Marshal(map[string]string{"type": channel.KindError, "message": "order not found"})
	ctrl.handleError(raw)

	assert.False(t, ctrl.MutationPending("ord-1"))
	notices := notifier.all()
	require.Len(t, notices, 1)
	assert.Equal(t, "order not found", notices[0].Message)
}

func TestBenignErrorsSwallowed(t *testing.T) {
	ctrl, _, notifier, _ := newTestController(0)

	for _, msg := range []string{
		"Unknown message type: get_delivery_requests_for_order",
		"get_order_status_history not implemented",
	} {
		raw, _ := json.Marshal(map[string]string{"type": channel.KindError, "message": msg})
		ctrl.handleError(raw)
	}
	assert.Empty(t, notifier.all())
}

func TestPartnerRosterCached(t *testing.T) {
	ctrl, _, _, _ := newTestController(0)

	raw, _ := json.Marshal(map[string]any{
		"type": channel.KindDeliveryPartnersData,
		"partners": []models.DeliveryPartner{
			{ID: "dp-1", Name: "Lena"},
			{ID: "dp-2", Name: "Marat"},
		},
	})
	ctrl.handlePartnersData(raw)

	partners := ctrl.Partners()
	require.Len(t, partners, 2)
	assert.Equal(t, "Lena", partners[0].Name)
}

func TestDeliveryRequestsStoredPerOrder(t *testing.T) {
	ctrl, sender, _, _ := newTestController(0)

	ctrl.RequestDeliveryRequests("ord-5")
	require.Len(t, sender.byType(channel.TypeGetDeliveryRequests), 1)

	raw, _ := json.Marshal(map[string]any{
		"type":     channel.KindDeliveryRequestsData,
		"order_id": "ord-5",
		"requests": []models.DeliveryRequest{
			{ID: "req-1", OrderID: "ord-5", PartnerID: "dp-1"},
		},
	})
	ctrl.handleDeliveryRequests(raw)

	reqs := ctrl.DeliveryRequests("ord-5")
	require.Len(t, reqs, 1)
	assert.Equal(t, "dp-1", reqs[0].PartnerID)
}

func TestStatusHistoryStoredPerOrder(t *testing.T) {
	ctrl, _, _, _ := newTestController(0)

	raw, _ := json.Marshal(map[string]any{
		"type":     channel.KindOrderStatusHistory,
		"order_id": "ord-3",
		"history": []models.StatusHistoryEntry{
			{Status: models.StatusPending, UpdatedBy: "system"},
			{Status: models.StatusConfirmed, UpdatedBy: "admin"},
		},
	})
	ctrl.handleStatusHistory(raw)

	hist := ctrl.StatusHistory("ord-3")
	require.Len(t, hist, 2)
	assert.Equal(t, models.StatusConfirmed, hist[1].Status)
	assert.Empty(t, ctrl.StatusHistory("ord-other"))
}

func TestCloseCancelsPendingSearch(t *testing.T) {
	ctrl, sender, _, _ := newTestController(20 * time.Millisecond)

	ctrl.SetSearch("draft")
	ctrl.Close()
	time.Sleep(60 * time.Millisecond)

	assert.Empty(t, sender.byType(channel.TypeGetOrders), "no query after shutdown")
}

func TestSendFailureSurfacesNotice(t *testing.T) {
	ctrl, sender, notifier, _ := newTestController(0)
	sender.err = channel.ErrChannelBusy

	ctrl.Refresh()

	assert.Equal(t, StateIdle, ctrl.State())
	notices := notifier.all()
	require.NotEmpty(t, notices)
	assert.Equal(t, SeverityError, notices[0].Severity)
}
