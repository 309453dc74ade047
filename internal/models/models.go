package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the status set used by the admin order list.
type OrderStatus string

const (
	StatusPending        OrderStatus = "pending"
	StatusConfirmed      OrderStatus = "confirmed"
	StatusPreparing      OrderStatus = "preparing"
	StatusPrepared       OrderStatus = "prepared"
	StatusAccepted       OrderStatus = "accepted"
	StatusAssigned       OrderStatus = "assigned"
	StatusOutForDelivery OrderStatus = "out_for_delivery"
	StatusDelivered      OrderStatus = "delivered"
	StatusCancelled      OrderStatus = "cancelled"
)

func (s OrderStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusPrepared,
		StatusAccepted, StatusAssigned, StatusOutForDelivery,
		StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// ActiveStatus is the narrower status set the consumer tracking contract uses.
// "arrived" exists only here; it never appears in the admin list.
type ActiveStatus string

const (
	ActivePending        ActiveStatus = "pending"
	ActiveConfirmed      ActiveStatus = "confirmed"
	ActivePreparing      ActiveStatus = "preparing"
	ActiveOutForDelivery ActiveStatus = "out_for_delivery"
	ActiveArrived        ActiveStatus = "arrived"
	ActiveDelivered      ActiveStatus = "delivered"
	ActiveCancelled      ActiveStatus = "cancelled"
)

func (s ActiveStatus) IsTerminal() bool {
	return s == ActiveDelivered || s == ActiveCancelled
}

type OrderItem struct {
	Product   string          `json:"product"`
	UnitPrice decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// OrderSummary is one row of the admin list. Rows are replaced wholesale per
// query result, never patched field by field.
type OrderSummary struct {
	ID                string          `json:"id"`
	CustomerName      string          `json:"customer"`
	TotalAmount       decimal.Decimal `json:"total"`
	Status            OrderStatus     `json:"status"`
	DeliveryPartnerID string          `json:"delivery_partner_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	Items             []OrderItem     `json:"items,omitempty"`
}

type PaginationInfo struct {
	CurrentPage int  `json:"current_page"`
	TotalPages  int  `json:"total_pages"`
	TotalCount  int  `json:"total_count"`
	HasNext     bool `json:"has_next"`
	HasPrev     bool `json:"has_prev"`
}

// PageResult is one full page of the admin list plus its pagination metadata.
// RequestID echoes the id of the query that produced it; older backends leave
// it empty.
type PageResult struct {
	RequestID  string         `json:"request_id,omitempty"`
	Orders     []OrderSummary `json:"orders"`
	Pagination PaginationInfo `json:"pagination"`
}

// DeliveryPartner is a roster entry (assignable courier).
type DeliveryPartner struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Status        string `json:"status,omitempty"`
	CurrentOrders int    `json:"current_orders,omitempty"`
}

// PartnerInfo is the courier descriptor attached to a tracked order.
type PartnerInfo struct {
	Name       string  `json:"name"`
	Phone      string  `json:"phone"`
	Rating     float64 `json:"rating,omitempty"`
	Deliveries int     `json:"deliveries,omitempty"`
}

type TimelineEvent struct {
	Status    ActiveStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Message   string       `json:"message,omitempty"`
}

// ActiveOrder is the single tracked order of one subject. A terminal status
// is never held here: the poller converts it to absence before caching.
type ActiveOrder struct {
	ID                string          `json:"id"`
	Status            ActiveStatus    `json:"order_status"`
	DeliveryPartner   *PartnerInfo    `json:"delivery_partner,omitempty"`
	EstimatedDelivery *time.Time      `json:"estimated_delivery,omitempty"`
	ActualDelivery    *time.Time      `json:"actual_delivery,omitempty"`
	StatusMessage     string          `json:"status_message,omitempty"`
	Timeline          []TimelineEvent `json:"timeline,omitempty"`
	Items             []OrderItem     `json:"items,omitempty"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
}

// DeliveryRequest is one courier's standing offer to take an order.
type DeliveryRequest struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	PartnerID   string    `json:"partner_id"`
	PartnerName string    `json:"partner_name,omitempty"`
	Status      string    `json:"status,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type StatusHistoryEntry struct {
	Status          OrderStatus `json:"status"`
	Timestamp       time.Time   `json:"timestamp"`
	UpdatedBy       string      `json:"updated_by"`
	Notes           string      `json:"notes,omitempty"`
	DeliveryPartner string      `json:"delivery_partner,omitempty"`
}
