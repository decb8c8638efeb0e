package history

import (
	"fmt"
	"time"
)

// Lot is an open position chunk awaiting a closing leg
type Lot struct {
	TradeID      string
	RemainingQty float64
	Price        float64
	EntryTime    time.Time
}

// CloseResult is the outcome of matching one closing leg against open lots
type CloseResult struct {
	MatchedQty   float64
	AvgCost      float64
	RealizedPnL  float64
	ReturnPct    float64
	HoldingHours float64 // weighted by matched quantity
	ConsumedIDs  []string
}

// InvariantError marks FIFO bookkeeping corruption. The operation is
// aborted; the process continues.
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation: %s", e.Reason)
}

// Reconciler matches closing legs against open lots, oldest first.
// Long lots are consumed by sells, short lots by covers. Not safe for
// concurrent use; callers serialize per ticker.
type Reconciler struct {
	longLots  map[string][]Lot
	shortLots map[string][]Lot
}

// NewReconciler creates an empty reconciler
func NewReconciler() *Reconciler {
	return &Reconciler{
		longLots:  make(map[string][]Lot),
		shortLots: make(map[string][]Lot),
	}
}

// OpenLots returns the open long lots for a ticker, oldest first
func (r *Reconciler) OpenLots(ticker string) []Lot {
	return append([]Lot(nil), r.longLots[ticker]...)
}

// OpenShortLots returns the open short lots for a ticker, oldest first
func (r *Reconciler) OpenShortLots(ticker string) []Lot {
	return append([]Lot(nil), r.shortLots[ticker]...)
}

// Apply feeds one filled trade into the lot queues. Opening actions push a
// lot; closing actions consume lots and return a CloseResult.
func (r *Reconciler) Apply(t TradeRecord) (*CloseResult, error) {
	if t.Quantity <= 0 {
		return nil, &InvariantError{Reason: fmt.Sprintf("trade %s has non-positive quantity %.4f", t.ID, t.Quantity)}
	}

	switch t.Action {
	case ActionBuy:
		r.longLots[t.Ticker] = append(r.longLots[t.Ticker], Lot{
			TradeID: t.ID, RemainingQty: t.Quantity, Price: t.EntryPrice, EntryTime: t.EntryTime,
		})
		return nil, nil
	case ActionShort:
		r.shortLots[t.Ticker] = append(r.shortLots[t.Ticker], Lot{
			TradeID: t.ID, RemainingQty: t.Quantity, Price: t.EntryPrice, EntryTime: t.EntryTime,
		})
		return nil, nil
	case ActionSell:
		return r.consume(r.longLots, t, false)
	case ActionCover:
		return r.consume(r.shortLots, t, true)
	default:
		return nil, &InvariantError{Reason: fmt.Sprintf("unknown trade action %q", t.Action)}
	}
}

// consume matches a closing leg against the oldest open lots. For shorts
// the P&L sign flips: profit when the cover price is below the lot price.
func (r *Reconciler) consume(lots map[string][]Lot, t TradeRecord, short bool) (*CloseResult, error) {
	queue := lots[t.Ticker]
	var open float64
	for _, lot := range queue {
		open += lot.RemainingQty
	}
	if t.Quantity > open+1e-9 {
		return nil, &InvariantError{
			Reason: fmt.Sprintf("%s %s qty %.4f exceeds open lots %.4f for %s", t.Action, t.ID, t.Quantity, open, t.Ticker),
		}
	}

	closePrice := t.EntryPrice
	closeTime := t.EntryTime
	remaining := t.Quantity
	result := &CloseResult{}
	var matchedCost, weightedHours float64

	for remaining > 1e-9 && len(queue) > 0 {
		lot := &queue[0]
		matched := lot.RemainingQty
		if matched > remaining {
			matched = remaining
		}

		var pnl float64
		if short {
			pnl = (lot.Price - closePrice) * matched
		} else {
			pnl = (closePrice - lot.Price) * matched
		}
		result.RealizedPnL += pnl
		result.MatchedQty += matched
		matchedCost += lot.Price * matched
		weightedHours += closeTime.Sub(lot.EntryTime).Hours() * matched
		result.ConsumedIDs = append(result.ConsumedIDs, lot.TradeID)

		lot.RemainingQty -= matched
		remaining -= matched
		if lot.RemainingQty <= 1e-9 {
			queue = queue[1:]
		}
	}
	lots[t.Ticker] = queue

	if result.MatchedQty > 0 {
		result.AvgCost = matchedCost / result.MatchedQty
		result.HoldingHours = weightedHours / result.MatchedQty
		if result.AvgCost != 0 {
			if short {
				result.ReturnPct = (result.AvgCost - closePrice) / result.AvgCost * 100
			} else {
				result.ReturnPct = (closePrice - result.AvgCost) / result.AvgCost * 100
			}
		}
	}
	return result, nil
}
