package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/CAR-BNP-LLC/simfab-facelift-sub004/internal/storage"
)

// Outbox writes notification events next to the state change that
// produced them. The row commits or rolls back with the caller's
// transaction, so a notification can never outlive a failed mutation.
type Outbox struct{}

func NewOutbox() *Outbox { return &Outbox{} }

func (o *Outbox) Enqueue(ctx context.Context, q storage.Querier, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	if _, err := q.Exec(ctx, `
		INSERT INTO notification_outbox (event_type, payload)
		VALUES ($1, $2)`, eventType, body); err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	return nil
}
