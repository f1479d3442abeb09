package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	domain "github.com/hanko-field/variants/internal/domain"
	"github.com/hanko-field/variants/internal/platform/pagination"
	"github.com/hanko-field/variants/internal/repositories"
	"github.com/hanko-field/variants/internal/variants"
)

const (
	variantIDPrefix            = "variant_"
	defaultResolutionCacheSize = 512
	defaultResolutionCacheTTL  = 10 * time.Minute
	defaultRegionCacheTTL      = 5 * time.Minute
	maxTitleLength             = 255
	maxSKULength               = 128
	metricNamespace            = "github.com/hanko-field/variants/internal/services"

	auditActionCreate  = "variant_generation.create"
	auditActionDismiss = "variant_generation.dismiss"
	auditActionRestore = "variant_generation.restore"
)

// VariantGenerationServiceDeps bundles the collaborators of the variant generation service.
type VariantGenerationServiceDeps struct {
	Products         repositories.ProductRepository
	Regions          repositories.RegionRepository
	Stores           repositories.StoreRepository
	PricePreferences repositories.PricePreferenceRepository
	Publisher        VariantEventPublisher
	Audit            AuditLogService
	Logger           *zap.Logger
	Meter            metric.Meter
	Clock            func() time.Time
	IDGenerator      func() string

	DefaultPageSize     int
	MaxPageSize         int
	ResolutionCacheSize int
	ResolutionCacheTTL  time.Duration
	RegionCacheTTL      time.Duration
}

type variantGenerationService struct {
	products    repositories.ProductRepository
	regions     repositories.RegionRepository
	stores      repositories.StoreRepository
	preferences repositories.PricePreferenceRepository
	publisher   VariantEventPublisher
	audit       AuditLogService
	logger      *zap.Logger
	clock       func() time.Time
	newID       func() string
	policy      *bluemonday.Policy

	defaultPageSize int
	maxPageSize     int

	resolutions *expirable.LRU[string, memoizedResolution]
	regionCache *expirable.LRU[string, []Region]
	generated   metric.Int64Counter
}

// memoizedResolution is valid only while the product's UpdatedAt is unchanged.
type memoizedResolution struct {
	updatedAt  time.Time
	resolution variants.Resolution
}

var _ VariantGenerationService = (*variantGenerationService)(nil)

// NewVariantGenerationService wires the service that lists, creates and dismisses generated variants.
func NewVariantGenerationService(deps VariantGenerationServiceDeps) (VariantGenerationService, error) {
	switch {
	case deps.Products == nil:
		return nil, errors.New("variant generation service: product repository is required")
	case deps.Regions == nil:
		return nil, errors.New("variant generation service: region repository is required")
	case deps.Stores == nil:
		return nil, errors.New("variant generation service: store repository is required")
	case deps.PricePreferences == nil:
		return nil, errors.New("variant generation service: price preference repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	defaultSize := deps.DefaultPageSize
	if defaultSize <= 0 {
		defaultSize = pagination.DefaultPageSize
	}
	maxSize := deps.MaxPageSize
	if maxSize <= 0 {
		maxSize = pagination.DefaultMaxPageSize
	}
	if defaultSize > maxSize {
		defaultSize = maxSize
	}

	cacheSize := deps.ResolutionCacheSize
	if cacheSize <= 0 {
		cacheSize = defaultResolutionCacheSize
	}
	cacheTTL := deps.ResolutionCacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultResolutionCacheTTL
	}
	regionTTL := deps.RegionCacheTTL
	if regionTTL <= 0 {
		regionTTL = defaultRegionCacheTTL
	}

	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	generated, err := meter.Int64Counter(
		"variants.generated",
		metric.WithDescription("Count of variants created from generated drafts"),
	)
	if err != nil {
		logger.Warn("variant generation: unable to register metrics", zap.Error(err))
	}

	return &variantGenerationService{
		products:        deps.Products,
		regions:         deps.Regions,
		stores:          deps.Stores,
		preferences:     deps.PricePreferences,
		publisher:       deps.Publisher,
		audit:           deps.Audit,
		logger:          logger,
		clock:           func() time.Time { return clock().UTC() },
		newID:           newID,
		policy:          bluemonday.StrictPolicy(),
		defaultPageSize: defaultSize,
		maxPageSize:     maxSize,
		resolutions:     expirable.NewLRU[string, memoizedResolution](cacheSize, nil, cacheTTL),
		regionCache:     expirable.NewLRU[string, []Region](1, nil, regionTTL),
		generated:       generated,
	}, nil
}

func (s *variantGenerationService) ListMissing(ctx context.Context, cmd ListMissingVariantsCommand) (MissingVariantsPage, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return MissingVariantsPage{}, fmt.Errorf("%w: product id is required", ErrVariantGenerationInvalidInput)
	}

	product, err := s.products.Get(ctx, productID)
	if err != nil {
		return MissingVariantsPage{}, mapRepositoryError(err)
	}
	resolution := s.resolve(product)

	pageSize := cmd.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = s.defaultPageSize
	}
	if pageSize > s.maxPageSize {
		pageSize = s.maxPageSize
	}
	items, next, err := pagination.SliceByKey(resolution.Drafts, pageSize, cmd.Pagination.PageToken, func(d DraftVariant) string {
		return d.ID
	})
	if err != nil {
		return MissingVariantsPage{}, fmt.Errorf("%w: %v", ErrVariantGenerationInvalidInput, err)
	}

	return MissingVariantsPage{
		Items:                items,
		NextPageToken:        next,
		Total:                len(resolution.Drafts),
		Dismissed:            product.Metadata[domain.MetadataDismissVariantGeneration] == domain.MetadataFlagTrue,
		OptionTitles:         variants.OptionTitles(product.Options),
		IncompleteVariantIDs: resolution.IncompleteVariantIDs,
	}, nil
}

func (s *variantGenerationService) CreateVariants(ctx context.Context, cmd CreateVariantsCommand) ([]ProductVariant, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return nil, fmt.Errorf("%w: product id is required", ErrVariantGenerationInvalidInput)
	}
	if len(cmd.Variants) == 0 {
		return nil, fmt.Errorf("%w: at least one variant is required", ErrVariantGenerationInvalidInput)
	}

	product, err := s.products.Get(ctx, productID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	drafts := make(map[string]DraftVariant)
	for _, draft := range s.resolve(product).Drafts {
		drafts[draft.ID] = draft
	}

	var regionCurrencies map[string]string
	if needsRegions(cmd.Variants) {
		if regionCurrencies, err = s.regionCurrencies(ctx); err != nil {
			return nil, mapReferenceError(err)
		}
	}

	batch := make([]ProductVariant, 0, len(cmd.Variants))
	seen := make(map[string]struct{}, len(cmd.Variants))
	for i, input := range cmd.Variants {
		draftID := strings.TrimSpace(input.DraftID)
		draft, ok := drafts[draftID]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrVariantGenerationUnknownDraft, draftID)
		}
		if _, dup := seen[draftID]; dup {
			return nil, fmt.Errorf("%w: draft %q selected twice", ErrVariantGenerationInvalidInput, draftID)
		}
		seen[draftID] = struct{}{}

		prices, err := BuildPrices(input.Prices, regionCurrencies)
		if err != nil {
			var priceErr *PriceInputError
			if errors.As(err, &priceErr) {
				priceErr.Row = i
			}
			return nil, err
		}

		title := s.clean(input.Title, maxTitleLength)
		if title == "" {
			title = draft.Title
		}
		variant := ProductVariant{
			ID:              variantIDPrefix + s.newID(),
			ProductID:       productID,
			Title:           title,
			SKU:             s.clean(input.SKU, maxSKULength),
			ManageInventory: input.ManageInventory,
			AllowBackorder:  input.AllowBackorder,
			Prices:          prices,
		}
		for _, entry := range draft.Options {
			variant.Options = append(variant.Options, domain.VariantOptionSelection{
				OptionID:      entry.OptionID,
				OptionValueID: entry.OptionValueID,
				Value:         entry.Value,
			})
		}
		batch = append(batch, variant)
	}

	now := s.clock()
	created, err := s.products.CreateVariants(ctx, productID, batch, now)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	s.Invalidate(productID)

	ids := make([]string, 0, len(created))
	for _, variant := range created {
		ids = append(ids, variant.ID)
	}
	if s.generated != nil {
		s.generated.Add(ctx, int64(len(created)), metric.WithAttributes(attribute.String("source", "draft")))
	}
	s.publishCreated(ctx, domain.VariantsCreatedEvent{
		ProductID:  productID,
		VariantIDs: ids,
		ActorID:    cmd.ActorID,
		OccurredAt: now,
	})
	s.record(ctx, AuditLogRecord{
		Actor:      cmd.ActorID,
		Action:     auditActionCreate,
		TargetRef:  productRef(productID),
		OccurredAt: now,
		Metadata: map[string]any{
			"variantIds": ids,
			"count":      len(ids),
		},
	})
	return created, nil
}

func (s *variantGenerationService) Dismiss(ctx context.Context, productID string, actorID string) error {
	return s.setDismissed(ctx, productID, actorID, domain.MetadataFlagTrue, auditActionDismiss)
}

func (s *variantGenerationService) Restore(ctx context.Context, productID string, actorID string) error {
	return s.setDismissed(ctx, productID, actorID, domain.MetadataFlagFalse, auditActionRestore)
}

func (s *variantGenerationService) setDismissed(ctx context.Context, productID, actorID, flag, action string) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return fmt.Errorf("%w: product id is required", ErrVariantGenerationInvalidInput)
	}

	now := s.clock()
	product, err := s.products.Get(ctx, productID)
	if err != nil {
		return mapRepositoryError(err)
	}
	before := product.Metadata[domain.MetadataDismissVariantGeneration]
	if before == "" {
		before = domain.MetadataFlagFalse
	}

	if _, err := s.products.SetMetadata(ctx, productID, map[string]string{
		domain.MetadataDismissVariantGeneration: flag,
	}, now); err != nil {
		return mapRepositoryError(err)
	}
	s.Invalidate(productID)

	s.record(ctx, AuditLogRecord{
		Actor:      actorID,
		Action:     action,
		TargetRef:  productRef(productID),
		OccurredAt: now,
		Diff: map[string]AuditLogDiff{
			domain.MetadataDismissVariantGeneration: {Before: before, After: flag},
		},
	})
	return nil
}

func (s *variantGenerationService) Invalidate(productID string) {
	s.resolutions.Remove(strings.TrimSpace(productID))
}

// resolve returns the memoized resolution of the product when its UpdatedAt matches.
func (s *variantGenerationService) resolve(product Product) variants.Resolution {
	if cached, ok := s.resolutions.Get(product.ID); ok && cached.updatedAt.Equal(product.UpdatedAt) {
		return cached.resolution
	}
	resolution := variants.Resolve(product)
	s.resolutions.Add(product.ID, memoizedResolution{updatedAt: product.UpdatedAt, resolution: resolution})
	return resolution
}

func (s *variantGenerationService) publishCreated(ctx context.Context, event domain.VariantsCreatedEvent) {
	if s.publisher == nil {
		return
	}
	if _, err := s.publisher.PublishVariantsCreated(ctx, event); err != nil {
		s.logger.Warn("variant generation: publish variants created failed",
			zap.String("productId", event.ProductID),
			zap.Int("variants", len(event.VariantIDs)),
			zap.Error(err),
		)
	}
}

func (s *variantGenerationService) record(ctx context.Context, record AuditLogRecord) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, record)
}

// clean strips markup and surrounding whitespace and caps the length in runes.
func (s *variantGenerationService) clean(value string, limit int) string {
	cleaned := strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(value)))
	if runes := []rune(cleaned); len(runes) > limit {
		cleaned = strings.TrimSpace(string(runes[:limit]))
	}
	return cleaned
}

func needsRegions(inputs []VariantCreateInput) bool {
	for _, input := range inputs {
		for key := range input.Prices {
			if strings.HasPrefix(key, domain.RegionPriceKeyPrefix) {
				return true
			}
		}
	}
	return false
}

func productRef(productID string) string {
	return "/products/" + productID
}
