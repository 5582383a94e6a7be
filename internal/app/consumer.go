/**
 * @description
 * This file implements the broker-side consumer for order-finalized events.
 * The webhook path publishes a small event after the atomic finalization
 * commits; this consumer picks it up and runs the result processor off the
 * webhook's latency path. Returning false nacks the delivery for redelivery.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/rentora/screening-service/internal/domain"
	"github.com/rentora/screening-service/internal/store"
)

type FinalizedOrderConsumer struct {
	service *Service
}

func NewFinalizedOrderConsumer(service *Service) *FinalizedOrderConsumer {
	return &FinalizedOrderConsumer{service: service}
}

// HandleMessage processes one order-finalized delivery. Malformed payloads
// and permanent failures (missing order or application rows) are acked so
// they do not poison the queue; only transient processing errors are nacked
// for redelivery. The result processor itself tolerates redelivery.
func (c *FinalizedOrderConsumer) HandleMessage(body []byte) bool {
	var event domain.OrderFinalizedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=finalized_consumer msg=\"failed to unmarshal payload\" err=%v", err)
		return true
	}

	if event.OrderID == uuid.Nil || event.ApplicationID == uuid.Nil {
		log.Printf("level=warn component=finalized_consumer msg=\"event missing order or application id\" event_id=%s", event.EventID)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	outcome, err := c.service.ApplyScreeningResult(ctx, event.OrderID, event.ApplicationID)
	if err != nil {
		// Missing rows are a data-integrity problem redelivery cannot fix;
		// requeueing would loop the delivery forever.
		if errors.Is(err, store.ErrOrderNotFound) || errors.Is(err, store.ErrApplicationNotFound) {
			log.Printf("level=error component=finalized_consumer order_id=%s application_id=%s msg=\"dropping delivery with missing order or application\" err=%v", event.OrderID, event.ApplicationID, err)
			return true
		}
		log.Printf("level=error component=finalized_consumer order_id=%s msg=\"result processing failed\" err=%v", event.OrderID, err)
		return false
	}
	if outcome.Skipped {
		log.Printf("level=info component=finalized_consumer order_id=%s msg=\"redelivery for completed screening; acknowledged\"", event.OrderID)
	}
	return true
}
