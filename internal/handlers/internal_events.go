package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/variants/internal/platform/httpx"
	"github.com/hanko-field/variants/internal/platform/jobs"
	"github.com/hanko-field/variants/internal/platform/requestctx"
	"github.com/hanko-field/variants/internal/services"
)

const maxPushEnvelopeBody = 64 << 10

// InternalEventHandlers accepts Pub/Sub push deliveries for events consumed by this service.
type InternalEventHandlers struct {
	options services.ProductOptionEventHandler
}

// NewInternalEventHandlers constructs the push endpoints. Authentication is applied by the
// router through the internal middleware chain.
func NewInternalEventHandlers(options services.ProductOptionEventHandler) *InternalEventHandlers {
	return &InternalEventHandlers{options: options}
}

// Routes registers the push endpoints.
func (h *InternalEventHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/events/product-options", h.productOptions)
}

type pushEnvelope struct {
	Message struct {
		Data        []byte            `json:"data"`
		Attributes  map[string]string `json:"attributes"`
		MessageID   string            `json:"messageId"`
		PublishTime time.Time         `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func (h *InternalEventHandlers) productOptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.options == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "option event handler unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPushEnvelopeBody+1))
	if err != nil || len(body) > maxPushEnvelopeBody {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "push envelope unreadable", http.StatusBadRequest))
		return
	}

	var envelope pushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "push envelope must be valid JSON", http.StatusBadRequest))
		return
	}

	logger := requestctx.Logger(ctx).With(
		zap.String("messageId", envelope.Message.MessageID),
		zap.String("subscription", envelope.Subscription),
	)

	event, err := jobs.DecodeProductOptionEvent(envelope.Message.MessageID, envelope.Message.Data, envelope.Message.Attributes, envelope.Message.PublishTime)
	if err != nil {
		// Acknowledge so Pub/Sub stops redelivering a message that can never succeed.
		logger.Warn("dropping undecodable product option event", zap.Error(err))
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.options.HandleProductOptionEvent(ctx, event); err != nil {
		if errors.Is(err, services.ErrVariantGenerationInvalidInput) {
			logger.Warn("dropping invalid product option event", zap.String("event", event.Name), zap.Error(err))
			w.WriteHeader(http.StatusNoContent)
			return
		}
		logger.Error("product option event failed", zap.String("event", event.Name), zap.String("optionId", event.OptionID), zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("event_failed", "product option event could not be processed", http.StatusInternalServerError))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
