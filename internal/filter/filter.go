package filter

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// All is the sentinel meaning "no constraint". It is stripped at compile
// time, never transmitted.
const All = "all"

type DateRange string

const (
	RangeAll        DateRange = "all"
	RangeToday      DateRange = "today"
	RangeYesterday  DateRange = "yesterday"
	RangeLast7Days  DateRange = "last_7_days"
	RangeLast30Days DateRange = "last_30_days"
	RangeThisMonth  DateRange = "this_month"
	RangeCustom     DateRange = "custom"
)

const DefaultPageSize = 10

// PageSizes is the fixed set of accepted page sizes.
var PageSizes = []int{10, 25, 50}

// State mirrors the mutable filter fields of the admin view. Zero values and
// "all" both mean unconstrained.
type State struct {
	Status          string
	DateRange       DateRange
	FromDate        string
	ToDate          string
	DeliveryPartner string
	MinAmount       string
	MaxAmount       string
	CustomerName    string
}

func Defaults() State {
	return State{
		Status:          All,
		DateRange:       RangeAll,
		DeliveryPartner: All,
	}
}

// Query is the compiled, sentinel-stripped request. Immutable once sent; a
// new user action always produces a new Query.
type Query struct {
	Status          string           `json:"status,omitempty"`
	FromDate        *time.Time       `json:"from_date,omitempty"`
	ToDate          *time.Time       `json:"to_date,omitempty"`
	DeliveryPartner string           `json:"delivery_partner,omitempty"`
	MinAmount       *decimal.Decimal `json:"min_amount,omitempty"`
	MaxAmount       *decimal.Decimal `json:"max_amount,omitempty"`
	CustomerName    string           `json:"customer_name,omitempty"`
	Search          string           `json:"search,omitempty"`
	Page            int              `json:"page"`
	Limit           int              `json:"limit"`
}

// Compile normalizes the filter state into a query. Pure: the clock instant
// is an argument, so preset ranges are deterministic for a given now.
func Compile(st State, search string, page, pageSize int, now time.Time) Query {
	q := Query{
		Page:   page,
		Limit:  pageSize,
		Search: strings.TrimSpace(search),
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if !allowedPageSize(q.Limit) {
		q.Limit = DefaultPageSize
	}

	if v := strings.TrimSpace(st.Status); v != "" && v != All {
		q.Status = v
	}
	if v := strings.TrimSpace(st.DeliveryPartner); v != "" && v != All {
		q.DeliveryPartner = v
	}
	if v := strings.TrimSpace(st.CustomerName); v != "" {
		q.CustomerName = v
	}
	q.MinAmount = parseAmount(st.MinAmount)
	q.MaxAmount = parseAmount(st.MaxAmount)

	from, to, ok := resolveRange(st, now)
	if ok {
		q.FromDate = &from
		q.ToDate = &to
	}
	return q
}

func allowedPageSize(size int) bool {
	for _, s := range PageSizes {
		if s == size {
			return true
		}
	}
	return false
}

// parseAmount treats unparseable bounds as sentinel-empty: the compiler
// normalizes, it does not reject.
func parseAmount(raw string) *decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	return &d
}

func resolveRange(st State, now time.Time) (from, to time.Time, ok bool) {
	switch st.DateRange {
	case RangeToday:
		return startOfDay(now), endOfDay(now), true
	case RangeYesterday:
		y := startOfDay(now).AddDate(0, 0, -1)
		return y, endOfDay(y), true
	case RangeLast7Days:
		return startOfDay(now).AddDate(0, 0, -7), endOfDay(now), true
	case RangeLast30Days:
		return startOfDay(now).AddDate(0, 0, -30), endOfDay(now), true
	case RangeThisMonth:
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return first, endOfDay(now), true
	case RangeCustom:
		// Both bounds must be present and well-formed, otherwise the range
		// is omitted entirely (treated as "all").
		f, errF := time.Parse(time.RFC3339, strings.TrimSpace(st.FromDate))
		t, errT := time.Parse(time.RFC3339, strings.TrimSpace(st.ToDate))
		if errF != nil || errT != nil {
			return time.Time{}, time.Time{}, false
		}
		return f, t, true
	default:
		return time.Time{}, time.Time{}, false
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// endOfDay is 23:59:59.999, the backend's millisecond contract.
func endOfDay(t time.Time) time.Time {
	return startOfDay(t).Add(24*time.Hour - time.Millisecond)
}

// TotalPages computes the page count the backend is expected to report for a
// given record count, used for client-side page-bound checks.
func TotalPages(totalCount, pageSize int) int {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if totalCount <= 0 {
		return 0
	}
	return (totalCount + pageSize - 1) / pageSize
}
