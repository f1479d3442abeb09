package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/variants/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductRepository stores products together with their options and variants.
type ProductRepository interface {
	Get(ctx context.Context, productID string) (domain.Product, error)
	// FindByOptionID returns the product that owns the option. Missing products surface as a
	// RepositoryError with IsNotFound.
	FindByOptionID(ctx context.Context, optionID string) (domain.Product, error)
	// SetMetadata merges values into the product metadata and bumps UpdatedAt.
	SetMetadata(ctx context.Context, productID string, values map[string]string, now time.Time) (domain.Product, error)
	// CreateVariants appends variants atomically. It fails with IsConflict when any variant's
	// option combination already exists on the product or repeats within the batch.
	CreateVariants(ctx context.Context, productID string, variants []domain.ProductVariant, now time.Time) ([]domain.ProductVariant, error)
}

// RegionRepository lists sales regions.
type RegionRepository interface {
	List(ctx context.Context) ([]domain.Region, error)
}

// StoreRepository reads store-level settings.
type StoreRepository interface {
	Default(ctx context.Context) (domain.StoreSettings, error)
}

// PricePreferenceRepository lists tax-inclusive pricing preferences.
type PricePreferenceRepository interface {
	List(ctx context.Context) ([]domain.PricePreference, error)
}

// AuditLogRepository persists immutable audit trail entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

type AuditLogFilter struct {
	TargetRef  string
	Action     string
	Pagination domain.Pagination
}
