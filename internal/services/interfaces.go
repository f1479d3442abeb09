package services

import (
	"context"
	"time"

	domain "github.com/hanko-field/variants/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Product            = domain.Product
	ProductVariant     = domain.ProductVariant
	DraftVariant       = domain.DraftVariant
	Price              = domain.Price
	Region             = domain.Region
	ProductOptionEvent = domain.ProductOptionEvent
	SystemHealthReport = domain.SystemHealthReport
	AuditLogEntry      = domain.AuditLogEntry
)

// VariantGenerationService computes the option combinations a product is missing and turns
// selected drafts into persisted variants.
type VariantGenerationService interface {
	ListMissing(ctx context.Context, cmd ListMissingVariantsCommand) (MissingVariantsPage, error)
	CreateVariants(ctx context.Context, cmd CreateVariantsCommand) ([]ProductVariant, error)
	Dismiss(ctx context.Context, productID string, actorID string) error
	Restore(ctx context.Context, productID string, actorID string) error
	PriceGrid(ctx context.Context, productID string) (PriceGrid, error)
	// Invalidate drops any memoized resolution for the product.
	Invalidate(productID string)
}

// ProductOptionEventHandler reacts to option changes published by the catalog.
type ProductOptionEventHandler interface {
	HandleProductOptionEvent(ctx context.Context, event ProductOptionEvent) error
}

// VariantEventPublisher announces persisted variants to downstream consumers.
type VariantEventPublisher interface {
	PublishVariantsCreated(ctx context.Context, event domain.VariantsCreatedEvent) (string, error)
}

// SystemService exposes health and audit inspection for operators.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	ListAuditLogs(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
}

// AuditLogService centralizes immutable audit log persistence and retrieval.
type AuditLogService interface {
	Record(ctx context.Context, record AuditLogRecord)
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
}

type ListMissingVariantsCommand struct {
	ProductID  string
	Pagination Pagination
}

// MissingVariantsPage is one page of draft variants plus the product-level state the admin
// widget needs to render.
type MissingVariantsPage struct {
	Items                []DraftVariant
	NextPageToken        string
	Total                int
	Dismissed            bool
	OptionTitles         []string
	IncompleteVariantIDs []string
}

type CreateVariantsCommand struct {
	ProductID string
	ActorID   string
	Variants  []VariantCreateInput
}

// VariantCreateInput selects a draft and supplies the editable fields of the new variant.
// Prices are keyed by lower-case currency code or by region id prefixed with "reg_".
type VariantCreateInput struct {
	DraftID         string
	Title           string
	SKU             string
	ManageInventory bool
	AllowBackorder  bool
	Prices          map[string]any
}

// PriceGrid describes the editable columns of the bulk variant editor.
type PriceGrid struct {
	CurrencyColumns []PriceGridColumn
	RegionColumns   []PriceGridColumn
	DetailColumns   []PriceGridColumn
}

type PriceGridColumnType string

const (
	PriceGridColumnReadOnly PriceGridColumnType = "readonly"
	PriceGridColumnText     PriceGridColumnType = "text"
	PriceGridColumnBoolean  PriceGridColumnType = "boolean"
	PriceGridColumnCurrency PriceGridColumnType = "currency"
)

type PriceGridColumn struct {
	ID           string
	Header       string
	FieldKey     string
	Type         PriceGridColumnType
	CurrencyCode string
	Editable     bool
	TaxInclusive bool
}

// AuditLogRecord defines the payload accepted by the audit writer service.
type AuditLogRecord struct {
	Actor                 string
	ActorType             string
	Action                string
	TargetRef             string
	Severity              string
	RequestID             string
	OccurredAt            time.Time
	Metadata              map[string]any
	Diff                  map[string]AuditLogDiff
	SensitiveMetadataKeys []string
}

// AuditLogDiff captures before/after values for tracked fields.
type AuditLogDiff struct {
	Before any
	After  any
}

type AuditLogFilter struct {
	TargetRef  string
	Action     string
	Pagination Pagination
}
