package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Inbound result kinds.
const (
	KindOrdersData           = "orders_data"
	KindDeliveryPartnersData = "delivery_partners_data"
	KindDeliveryRequestsData = "delivery_requests_data"
	KindOrderStatusHistory   = "order_status_history"
	KindOrderUpdated         = "order_updated"
	KindOrderAssigned        = "order_assigned"
	KindError                = "error"
	KindPong                 = "pong"
)

// Outbound message types.
const (
	TypeGetOrders           = "get_orders"
	TypeUpdateOrderStatus   = "update_order_status"
	TypeAssignPartner       = "assign_delivery_partner"
	TypeGetDeliveryPartners = "get_delivery_partners"
	TypeGetDeliveryRequests = "get_delivery_requests_for_order"
	TypeGetStatusHistory    = "get_order_status_history"
	TypePing                = "ping"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 64
)

var (
	ErrChannelBusy   = errors.New("channel send buffer full")
	ErrChannelClosed = errors.New("channel closed")
)

// Envelope is one outbound message. Queries carry Filters, mutations carry
// Data; RequestID is echoed back by the backend in the matching result.
type Envelope struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Filters   any    `json:"filters,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// Handler receives the raw message bytes for one inbound kind.
type Handler func(payload []byte)

// Client owns one persistent bidirectional channel: a single outbound send
// path and an inbound dispatch table. It holds no business state; request
// intent and staleness are the caller's concern.
type Client struct {
	conn *websocket.Conn
	log  *zap.Logger

	send chan []byte
	done chan struct{}

	mu       sync.RWMutex
	handlers map[string]Handler

	closeOnce sync.Once
}

func Dial(ctx context.Context, url string, log *zap.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial channel: %w", err)
	}
	return NewClient(conn, log), nil
}

// NewClient wraps an established connection and starts the pumps.
func NewClient(conn *websocket.Conn, log *zap.Logger) *Client {
	c := &Client{
		conn:     conn,
		log:      log,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		handlers: make(map[string]Handler),
	}
	go c.readPump()
	go c.writePump()
	return c
}

// OnMessage registers the handler for one inbound kind, replacing any
// previous one. Kinds without a handler are swallowed.
func (c *Client) OnMessage(kind string, h Handler) {
	c.mu.Lock()
	c.handlers[kind] = h
	c.mu.Unlock()
}

// Send queues one envelope. Fire and forget: there is no per-send ack, and a
// full buffer is reported instead of blocking.
func (c *Client) Send(env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}
	select {
	case c.send <- raw:
		return nil
	default:
		return ErrChannelBusy
	}
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = c.conn.Close()
	})
	return nil
}

func (c *Client) readPump() {
	defer c.Close()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Warn("channel read failed", zap.Error(err))
				c.dispatchTransportFailure("channel read failed: " + err.Error())
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.dispatch(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case raw := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				c.log.Warn("channel write failed", zap.Error(err))
				// The send was already acked with nil; the failure must
				// still reach the business layer before teardown.
				c.dispatchTransportFailure("channel write failed: " + err.Error())
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.dispatchTransportFailure("channel ping failed: " + err.Error())
				return
			}
		}
	}
}

func (c *Client) dispatch(raw []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil || head.Type == "" {
		c.log.Debug("unparseable channel message", zap.Error(err))
		return
	}
	c.mu.RLock()
	h := c.handlers[head.Type]
	c.mu.RUnlock()
	if h == nil {
		// Forward compatibility: unknown kinds are not errors.
		c.log.Debug("unhandled channel message kind", zap.String("kind", head.Type))
		return
	}
	h(raw)
}

// dispatchTransportFailure surfaces a transport failure as the generic error
// result kind so callers have one failure path.
func (c *Client) dispatchTransportFailure(message string) {
	c.mu.RLock()
	h := c.handlers[KindError]
	c.mu.RUnlock()
	if h == nil {
		return
	}
	raw, err := json.Marshal(map[string]string{
		"type":    KindError,
		"message": message,
	})
	if err != nil {
		return
	}
	h(raw)
}
