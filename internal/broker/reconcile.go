package broker

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/newthinker/arena/internal/core"
)

// MismatchKind classifies a reconciliation finding.
type MismatchKind string

const (
	// MismatchEntryPrice: both sides hold the symbol but entry prices differ
	// beyond tolerance.
	MismatchEntryPrice MismatchKind = "ENTRY_PRICE_DIFF"
	// MismatchDirection: the broker holds the opposite side.
	MismatchDirection MismatchKind = "DIRECTION_MISMATCH"
	// MismatchQuantity: same side, but the held size differs beyond
	// tolerance.
	MismatchQuantity MismatchKind = "QUANTITY_DIFF"
	// MismatchMissing: tracked internally, absent at the broker.
	MismatchMissing MismatchKind = "MISSING_POSITION"
	// MismatchExtra: held at the broker with no internal counterpart.
	MismatchExtra MismatchKind = "EXTRA_POSITION"
	// PendingOrder is informational: the broker has not filled the order
	// behind an internal position yet.
	PendingOrder MismatchKind = "PENDING_ORDER"
)

// Detail is one reconciliation finding.
type Detail struct {
	Kind          MismatchKind `json:"kind"`
	Symbol        string       `json:"symbol"`
	Message       string       `json:"message"`
	InternalPrice float64      `json:"internal_price,omitempty"`
	BrokerPrice   float64      `json:"broker_price,omitempty"`
	DiffPct       float64      `json:"diff_pct,omitempty"`
	InternalQty   float64      `json:"internal_qty,omitempty"`
	BrokerQty     float64      `json:"broker_qty,omitempty"`
	OrderID       string       `json:"order_id,omitempty"`
	Informational bool         `json:"informational,omitempty"`
}

// Report is the outcome of comparing internal positions with the broker.
type Report struct {
	Matches    int      `json:"matches"`
	Mismatches int      `json:"mismatches"`
	Details    []Detail `json:"details"`
	Account    *Balance `json:"account,omitempty"`
}

type aggregate struct {
	qty      float64 // signed
	notional float64
	orderIDs []string
}

func (a aggregate) entry() float64 {
	if a.qty == 0 {
		return 0
	}
	return math.Abs(a.notional / a.qty)
}

// Reconcile compares open internal positions with the broker's view.
// Internal positions are aggregated per symbol into a signed net quantity
// with a quantity-weighted entry. A symbol matches when side, size and entry
// agree; tolerancePct bounds the accepted size and entry differences.
func Reconcile(internal []core.Position, account *Balance, positions []Position, orders []Order, tolerancePct float64) Report {
	report := Report{Account: account, Details: []Detail{}}

	mine := make(map[string]*aggregate)
	for _, p := range internal {
		if !p.IsOpen {
			continue
		}
		key := strings.ToUpper(p.Symbol)
		a, ok := mine[key]
		if !ok {
			a = &aggregate{}
			mine[key] = a
		}
		qty := p.Quantity
		if p.Direction == core.Short {
			qty = -qty
		}
		a.qty += qty
		a.notional += qty * p.EntryPrice
		if p.BrokerOrderID != "" {
			a.orderIDs = append(a.orderIDs, p.BrokerOrderID)
		}
	}

	theirs := make(map[string]Position, len(positions))
	for _, p := range positions {
		if p.Quantity != 0 {
			theirs[strings.ToUpper(p.Symbol)] = p
		}
	}

	pending := make(map[string]Order)
	for _, o := range orders {
		if o.IsOpen() {
			pending[o.OrderID] = o
			pending["symbol:"+strings.ToUpper(o.Symbol)] = o
		}
	}

	for _, symbol := range sortedKeys(mine) {
		a := mine[symbol]
		bp, held := theirs[symbol]

		if !held {
			if a.qty == 0 {
				// offsetting long and short legs; flat on both sides
				report.Matches++
				continue
			}
			if o, ok := pendingFor(pending, symbol, a.orderIDs); ok {
				report.Details = append(report.Details, Detail{
					Kind:          PendingOrder,
					Symbol:        symbol,
					Message:       fmt.Sprintf("order %s is %s", o.OrderID, o.Status),
					InternalPrice: a.entry(),
					InternalQty:   a.qty,
					OrderID:       o.OrderID,
					Informational: true,
				})
				continue
			}
			report.Mismatches++
			report.Details = append(report.Details, Detail{
				Kind:          MismatchMissing,
				Symbol:        symbol,
				Message:       "open internally but not held at the broker",
				InternalPrice: a.entry(),
				InternalQty:   a.qty,
			})
			continue
		}

		if math.Signbit(a.qty) != math.Signbit(bp.Quantity) || a.qty == 0 {
			report.Mismatches++
			report.Details = append(report.Details, Detail{
				Kind:          MismatchDirection,
				Symbol:        symbol,
				Message:       fmt.Sprintf("internal %s %s vs broker %s %s", side(a.qty), formatQty(a.qty), side(bp.Quantity), formatQty(bp.Quantity)),
				InternalPrice: a.entry(),
				BrokerPrice:   bp.AverageCost,
				InternalQty:   a.qty,
				BrokerQty:     bp.Quantity,
			})
			continue
		}
		if qtyDiff := math.Abs(bp.Quantity-a.qty) / math.Abs(a.qty) * 100; qtyDiff > tolerancePct {
			report.Mismatches++
			report.Details = append(report.Details, Detail{
				Kind:          MismatchQuantity,
				Symbol:        symbol,
				Message:       fmt.Sprintf("quantity %s vs broker %s (%.2f%%)", formatQty(a.qty), formatQty(bp.Quantity), qtyDiff),
				InternalPrice: a.entry(),
				BrokerPrice:   bp.AverageCost,
				DiffPct:       qtyDiff,
				InternalQty:   a.qty,
				BrokerQty:     bp.Quantity,
			})
			continue
		}

		entry := a.entry()
		var diffPct float64
		if entry > 0 {
			diffPct = math.Abs(bp.AverageCost-entry) / entry * 100
		}
		if diffPct > tolerancePct {
			report.Mismatches++
			report.Details = append(report.Details, Detail{
				Kind:          MismatchEntryPrice,
				Symbol:        symbol,
				Message:       fmt.Sprintf("entry %.4f vs broker %.4f (%.2f%%)", entry, bp.AverageCost, diffPct),
				InternalPrice: entry,
				BrokerPrice:   bp.AverageCost,
				DiffPct:       diffPct,
				InternalQty:   a.qty,
				BrokerQty:     bp.Quantity,
			})
			continue
		}
		report.Matches++
	}

	for _, symbol := range sortedKeys(theirs) {
		if _, ok := mine[symbol]; ok {
			continue
		}
		bp := theirs[symbol]
		report.Mismatches++
		report.Details = append(report.Details, Detail{
			Kind:        MismatchExtra,
			Symbol:      symbol,
			Message:     "held at the broker with no internal position",
			BrokerPrice: bp.AverageCost,
			BrokerQty:   bp.Quantity,
		})
	}

	return report
}

func side(qty float64) string {
	switch {
	case qty > 0:
		return "long"
	case qty < 0:
		return "short"
	}
	return "flat"
}

func formatQty(qty float64) string {
	return strconv.FormatFloat(math.Abs(qty), 'f', -1, 64)
}

func pendingFor(pending map[string]Order, symbol string, orderIDs []string) (Order, bool) {
	for _, id := range orderIDs {
		if o, ok := pending[id]; ok {
			return o, true
		}
	}
	o, ok := pending["symbol:"+symbol]
	return o, ok
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
