package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/storage"
)

var ErrOptionNotFound = errors.New("option not found")

// SellableOption is a purchasable product option joined with the product
// fields checkout and shipping need. UnitPriceCents is the product price plus
// the option delta at read time.
type SellableOption struct {
	OptionID       uuid.UUID
	ProductID      uuid.UUID
	ProductName    string
	Label          string
	UnitPriceCents int64
	// StockQuantity nil means stock tracking is disabled.
	StockQuantity *int32

	WeightValue *float64
	WeightUnit  string
	DimLength   *float64
	DimWidth    *float64
	DimHeight   *float64
	DimUnit     string
}

type Repo struct{}

func NewRepo() *Repo {
	return &Repo{}
}

// OptionsByID resolves active options by id. Every requested id must
// resolve; a missing or inactive option fails the whole lookup.
func (r *Repo) OptionsByID(ctx context.Context, q storage.Querier, ids []uuid.UUID) (map[uuid.UUID]SellableOption, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]SellableOption{}, nil
	}

	rows, err := q.Query(ctx, `
		SELECT o.id, o.product_id, p.name, o.label,
		       p.price_cents + o.price_delta_cents,
		       o.stock_quantity,
		       p.weight_value, COALESCE(p.weight_unit, ''),
		       p.dim_length, p.dim_width, p.dim_height, COALESCE(p.dim_unit, '')
		FROM product_options o
		JOIN products p ON p.id = o.product_id
		WHERE o.id = ANY($1) AND o.active AND p.active`, ids)
	if err != nil {
		return nil, fmt.Errorf("query options: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]SellableOption, len(ids))
	for rows.Next() {
		var o SellableOption
		if err := rows.Scan(
			&o.OptionID, &o.ProductID, &o.ProductName, &o.Label,
			&o.UnitPriceCents, &o.StockQuantity,
			&o.WeightValue, &o.WeightUnit,
			&o.DimLength, &o.DimWidth, &o.DimHeight, &o.DimUnit,
		); err != nil {
			return nil, err
		}
		out[o.OptionID] = o
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrOptionNotFound, id)
		}
	}

	return out, nil
}

// OptionByID resolves a single active option.
func (r *Repo) OptionByID(ctx context.Context, q storage.Querier, id uuid.UUID) (*SellableOption, error) {
	opts, err := r.OptionsByID(ctx, q, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	o := opts[id]
	return &o, nil
}
