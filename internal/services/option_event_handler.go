package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	domain "github.com/hanko-field/variants/internal/domain"
	"github.com/hanko-field/variants/internal/repositories"
)

// ProductOptionEventHandlerDeps bundles the collaborators of the option event subscriber.
type ProductOptionEventHandlerDeps struct {
	Products repositories.ProductRepository
	// Resolutions drops memoized drafts for a product once its options changed.
	Resolutions interface{ Invalidate(productID string) }
	Logger      *zap.Logger
	Clock       func() time.Time
}

type productOptionEventHandler struct {
	products    repositories.ProductRepository
	resolutions interface{ Invalidate(productID string) }
	logger      *zap.Logger
	clock       func() time.Time
}

var _ ProductOptionEventHandler = (*productOptionEventHandler)(nil)

// NewProductOptionEventHandler builds the subscriber that re-arms variant generation when an
// option is created or updated.
func NewProductOptionEventHandler(deps ProductOptionEventHandlerDeps) (ProductOptionEventHandler, error) {
	if deps.Products == nil {
		return nil, errors.New("product option event handler: product repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &productOptionEventHandler{
		products:    deps.Products,
		resolutions: deps.Resolutions,
		logger:      logger,
		clock:       func() time.Time { return clock().UTC() },
	}, nil
}

// HandleProductOptionEvent clears the dismissed flag of the product owning the option, so the
// generator is offered again for the new values. Events for unknown products are ignored.
func (h *productOptionEventHandler) HandleProductOptionEvent(ctx context.Context, event ProductOptionEvent) error {
	switch event.Name {
	case domain.EventProductOptionCreated, domain.EventProductOptionUpdated:
	default:
		return nil
	}
	optionID := strings.TrimSpace(event.OptionID)
	if optionID == "" {
		return fmt.Errorf("%w: option id is required", ErrVariantGenerationInvalidInput)
	}

	productID := strings.TrimSpace(event.ProductID)
	if productID == "" {
		product, err := h.products.FindByOptionID(ctx, optionID)
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return mapRepositoryError(err)
		}
		productID = product.ID
	}

	if _, err := h.products.SetMetadata(ctx, productID, map[string]string{
		domain.MetadataDismissVariantGeneration: domain.MetadataFlagFalse,
	}, h.clock()); err != nil {
		if isNotFound(err) {
			return nil
		}
		return mapRepositoryError(err)
	}
	if h.resolutions != nil {
		h.resolutions.Invalidate(productID)
	}

	h.logger.Info("product updated by option subscriber",
		zap.String("productId", productID),
		zap.String("optionId", optionID),
		zap.String("event", event.Name),
	)
	return nil
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
