// Package stock tracks per-option inventory as a ledger of live
// reservations. Availability is always derived, never cached:
//
//	available = product_options.stock_quantity - SUM(live reservations)
//
// Options whose stock_quantity is NULL are untracked and bypass the
// ledger entirely.
package stock

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/storage"
)

// InsufficientStockError reports the first line of a reservation that
// could not be covered. The whole reservation fails with it.
type InsufficientStockError struct {
	OptionID  uuid.UUID
	Requested int32
	Available int32
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for option %s: requested %d, available %d",
		e.OptionID, e.Requested, e.Available)
}

type Line struct {
	OptionID uuid.UUID
	Quantity int32
}

// Ledger is stateless; every method runs against the caller's
// transaction so reservations commit or roll back with the order.
type Ledger struct{}

func NewLedger() *Ledger { return &Ledger{} }

// Reserve places holds for every line or none of them and reports how
// many holds it placed. Untracked options need no hold, so a cart of
// only untracked items reserves zero rows. Option rows are locked in id
// order so concurrent reservations cannot deadlock. The caller's
// transaction rolls the partial holds back on error.
func (l *Ledger) Reserve(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, expiresAt time.Time, lines []Line) (int, error) {
	held := 0
	for _, line := range mergeLines(lines) {
		var stock *int32
		err := tx.QueryRow(ctx, `
			SELECT stock_quantity
			FROM product_options
			WHERE id = $1
			FOR UPDATE`, line.OptionID).Scan(&stock)
		if err != nil {
			return 0, fmt.Errorf("lock option %s: %w", line.OptionID, err)
		}
		if stock == nil {
			// Untracked option; nothing to hold.
			continue
		}

		var reserved int32
		err = tx.QueryRow(ctx, `
			SELECT COALESCE(SUM(quantity), 0)
			FROM stock_reservations
			WHERE option_id = $1`, line.OptionID).Scan(&reserved)
		if err != nil {
			return 0, fmt.Errorf("sum reservations for option %s: %w", line.OptionID, err)
		}

		available := *stock - reserved
		if line.Quantity > available {
			return 0, &InsufficientStockError{
				OptionID:  line.OptionID,
				Requested: line.Quantity,
				Available: available,
			}
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO stock_reservations (id, order_id, option_id, quantity, expires_at)
			VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), orderID, line.OptionID, line.Quantity, expiresAt,
		)
		if err != nil {
			return 0, fmt.Errorf("insert reservation for option %s: %w", line.OptionID, err)
		}
		held++
	}
	return held, nil
}

// Release drops all holds for the order and reports how many rows were
// dropped. Releasing an order with no live holds is a no-op, so cancel,
// expiry and payment-denied paths may race without double-counting.
func (l *Ledger) Release(ctx context.Context, q storage.Querier, orderID uuid.UUID) (int64, error) {
	tag, err := q.Exec(ctx, `DELETE FROM stock_reservations WHERE order_id = $1`, orderID)
	if err != nil {
		return 0, fmt.Errorf("release reservations for order %s: %w", orderID, err)
	}
	return tag.RowsAffected(), nil
}

// Commit converts the order's holds into real decrements and removes
// them. Must run in the same transaction that marks the order paid.
func (l *Ledger) Commit(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE product_options o
		SET stock_quantity = o.stock_quantity - r.quantity
		FROM stock_reservations r
		WHERE r.order_id = $1 AND o.id = r.option_id`, orderID)
	if err != nil {
		return fmt.Errorf("decrement stock for order %s: %w", orderID, err)
	}
	_, err = tx.Exec(ctx, `DELETE FROM stock_reservations WHERE order_id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("drop committed reservations for order %s: %w", orderID, err)
	}
	return nil
}

// Available reports sellable units for one option. A nil result means
// the option is untracked and always sellable.
func (l *Ledger) Available(ctx context.Context, q storage.Querier, optionID uuid.UUID) (*int32, error) {
	var available *int32
	err := q.QueryRow(ctx, `
		SELECT o.stock_quantity - COALESCE(SUM(r.quantity), 0)
		FROM product_options o
		LEFT JOIN stock_reservations r ON r.option_id = o.id
		WHERE o.id = $1
		GROUP BY o.stock_quantity`, optionID).Scan(&available)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("option %s not found", optionID)
		}
		return nil, fmt.Errorf("query availability for option %s: %w", optionID, err)
	}
	return available, nil
}

// mergeLines folds duplicate option ids together and orders the result
// by option id. Lock order must be stable across concurrent callers.
func mergeLines(lines []Line) []Line {
	byOption := make(map[uuid.UUID]int32, len(lines))
	for _, l := range lines {
		byOption[l.OptionID] += l.Quantity
	}
	merged := make([]Line, 0, len(byOption))
	for id, qty := range byOption {
		merged = append(merged, Line{OptionID: id, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].OptionID.String() < merged[j].OptionID.String()
	})
	return merged
}
