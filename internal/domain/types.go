package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

const (
	// MetadataDismissVariantGeneration stores whether the variant generation widget was dismissed.
	MetadataDismissVariantGeneration = "dismiss_variant_generation"
	// MetadataFlagTrue and MetadataFlagFalse are the string encodings of the dismiss flag.
	MetadataFlagTrue  = "true"
	MetadataFlagFalse = "false"
)

const (
	EventProductOptionCreated   = "product-option.created"
	EventProductOptionUpdated   = "product-option.updated"
	EventProductVariantsCreated = "product-variant.created"
)

const (
	// RegionPriceKeyPrefix marks price input keys that refer to a region instead of a currency.
	RegionPriceKeyPrefix = "reg_"
	// PriceRuleRegionID is the rule attribute attached to region scoped prices.
	PriceRuleRegionID = "region_id"
)

// Product aggregates the option definitions and concrete variants of a catalog product.
type Product struct {
	ID        string
	Title     string
	Options   []ProductOption
	Variants  []ProductVariant
	Metadata  map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProductOption is a named axis of variation, e.g. "Color". Order among options is significant.
type ProductOption struct {
	ID     string
	Title  string
	Values []ProductOptionValue
}

// ProductOptionValue is one concrete value of an option.
type ProductOptionValue struct {
	ID    string
	Value string
}

// ProductVariant is a purchasable configuration selecting one value per option.
type ProductVariant struct {
	ID              string
	ProductID       string
	Title           string
	SKU             string
	ManageInventory bool
	AllowBackorder  bool
	Options         []VariantOptionSelection
	Prices          []Price
	CreatedAt       time.Time
}

// VariantOptionSelection records the value a variant picked for an option.
type VariantOptionSelection struct {
	OptionID      string
	OptionValueID string
	Value         string
}

// Price is a variant price in minor currency units. Region prices carry a region_id rule.
type Price struct {
	ID           string
	CurrencyCode string
	Amount       int64
	Rules        map[string]string
}

// RegionID returns the region rule of the price, if any.
func (p Price) RegionID() string {
	if p.Rules == nil {
		return ""
	}
	return p.Rules[PriceRuleRegionID]
}

// Region groups countries sharing a currency.
type Region struct {
	ID           string
	Name         string
	CurrencyCode string
}

// StoreSettings lists the currencies the store sells in.
type StoreSettings struct {
	ID                  string
	Name                string
	SupportedCurrencies []StoreCurrency
}

// StoreCurrency is a currency enabled for the store.
type StoreCurrency struct {
	CurrencyCode string
	IsDefault    bool
}

const (
	PricePreferenceAttributeCurrency = "currency_code"
	PricePreferenceAttributeRegion   = "region_id"
)

// PricePreference records whether prices for a currency or region are entered tax inclusive.
type PricePreference struct {
	ID             string
	Attribute      string
	Value          string
	IsTaxInclusive bool
}

// DraftVariant is a computed, not yet persisted variant candidate.
type DraftVariant struct {
	ID             string
	Title          string
	SKU            *string
	Options        []DraftOptionEntry
	OptionByTitle  map[string]string
	CombinationKey string
}

// DraftOptionEntry is the chosen value of one option within a draft. OptionValueID is empty when
// the value could not be resolved to an option value record.
type DraftOptionEntry struct {
	OptionID      string
	OptionValueID string
	Name          string
	Value         string
}

// ProductOptionEvent notifies that an option was created or changed. ProductID is optional;
// when empty the owning product is looked up by option id.
type ProductOptionEvent struct {
	ID         string
	Name       string
	OptionID   string
	ProductID  string
	OccurredAt time.Time
}

// VariantsCreatedEvent is published after a batch of generated variants has been persisted.
type VariantsCreatedEvent struct {
	ProductID  string
	VariantIDs []string
	ActorID    string
	OccurredAt time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// AuditLogEntry stores normalized audit information for admin use.
type AuditLogEntry struct {
	ID        string
	Actor     string
	ActorType string
	Action    string
	TargetRef string
	Metadata  map[string]any
	Diff      map[string]any
	Severity  string
	RequestID string
	CreatedAt time.Time
}
