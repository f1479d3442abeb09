package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hanko-field/variants/internal/domain"
)

// AttributeEvent is the message attribute carrying the event name.
const AttributeEvent = "event"

// ErrMalformedEvent marks messages that can never be processed and should not be redelivered.
var ErrMalformedEvent = errors.New("jobs: malformed event")

type optionEventPayload struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
}

// DecodeProductOptionEvent converts a Pub/Sub message body and attributes into a product option
// event. The event name comes from the "event" attribute, falling back to the payload.
func DecodeProductOptionEvent(messageID string, data []byte, attrs map[string]string, publishedAt time.Time) (domain.ProductOptionEvent, error) {
	var payload optionEventPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.ProductOptionEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	name := strings.TrimSpace(attrs[AttributeEvent])
	if name == "" {
		name = strings.TrimSpace(payload.Name)
	}
	optionID := strings.TrimSpace(payload.ID)
	if name == "" || optionID == "" {
		return domain.ProductOptionEvent{}, fmt.Errorf("%w: event name and option id are required", ErrMalformedEvent)
	}

	return domain.ProductOptionEvent{
		ID:         messageID,
		Name:       name,
		OptionID:   optionID,
		ProductID:  strings.TrimSpace(payload.ProductID),
		OccurredAt: publishedAt.UTC(),
	}, nil
}
