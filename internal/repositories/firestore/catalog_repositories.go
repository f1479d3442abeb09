package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/variants/internal/domain"
	pfirestore "github.com/hanko-field/variants/internal/platform/firestore"
	"github.com/hanko-field/variants/internal/repositories"
)

const (
	regionsCollection          = "regions"
	storesCollection           = "stores"
	pricePreferencesCollection = "price_preferences"
	defaultStoreID             = "default"
)

// RegionRepository reads sales regions ordered by name.
type RegionRepository struct {
	collection *pfirestore.Collection[regionDocument]
}

var _ repositories.RegionRepository = (*RegionRepository)(nil)

func NewRegionRepository(provider *pfirestore.Provider) (*RegionRepository, error) {
	if provider == nil {
		return nil, errors.New("region repository: firestore provider is required")
	}
	return &RegionRepository{collection: pfirestore.NewCollection[regionDocument](provider, regionsCollection)}, nil
}

func (r *RegionRepository) List(ctx context.Context) ([]domain.Region, error) {
	docs, err := r.collection.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("name", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	regions := make([]domain.Region, 0, len(docs))
	for _, doc := range docs {
		regions = append(regions, domain.Region{
			ID:           doc.ID,
			Name:         doc.Data.Name,
			CurrencyCode: strings.ToLower(doc.Data.CurrencyCode),
		})
	}
	return regions, nil
}

type regionDocument struct {
	Name         string `firestore:"name"`
	CurrencyCode string `firestore:"currencyCode"`
}

// StoreRepository reads the single default store document.
type StoreRepository struct {
	collection *pfirestore.Collection[storeDocument]
}

var _ repositories.StoreRepository = (*StoreRepository)(nil)

func NewStoreRepository(provider *pfirestore.Provider) (*StoreRepository, error) {
	if provider == nil {
		return nil, errors.New("store repository: firestore provider is required")
	}
	return &StoreRepository{collection: pfirestore.NewCollection[storeDocument](provider, storesCollection)}, nil
}

func (r *StoreRepository) Default(ctx context.Context) (domain.StoreSettings, error) {
	doc, err := r.collection.Get(ctx, defaultStoreID)
	if err != nil {
		return domain.StoreSettings{}, err
	}
	settings := domain.StoreSettings{ID: doc.ID, Name: doc.Data.Name}
	for _, currency := range doc.Data.SupportedCurrencies {
		settings.SupportedCurrencies = append(settings.SupportedCurrencies, domain.StoreCurrency{
			CurrencyCode: strings.ToLower(currency.CurrencyCode),
			IsDefault:    currency.IsDefault,
		})
	}
	// default currency first, then alphabetical
	sort.SliceStable(settings.SupportedCurrencies, func(i, j int) bool {
		a, b := settings.SupportedCurrencies[i], settings.SupportedCurrencies[j]
		if a.IsDefault != b.IsDefault {
			return a.IsDefault
		}
		return a.CurrencyCode < b.CurrencyCode
	})
	return settings, nil
}

type storeDocument struct {
	Name                string                  `firestore:"name"`
	SupportedCurrencies []storeCurrencyDocument `firestore:"supportedCurrencies"`
}

type storeCurrencyDocument struct {
	CurrencyCode string `firestore:"currencyCode"`
	IsDefault    bool   `firestore:"isDefault"`
}

// PricePreferenceRepository reads tax-inclusive pricing preferences.
type PricePreferenceRepository struct {
	collection *pfirestore.Collection[pricePreferenceDocument]
}

var _ repositories.PricePreferenceRepository = (*PricePreferenceRepository)(nil)

func NewPricePreferenceRepository(provider *pfirestore.Provider) (*PricePreferenceRepository, error) {
	if provider == nil {
		return nil, errors.New("price preference repository: firestore provider is required")
	}
	return &PricePreferenceRepository{collection: pfirestore.NewCollection[pricePreferenceDocument](provider, pricePreferencesCollection)}, nil
}

func (r *PricePreferenceRepository) List(ctx context.Context) ([]domain.PricePreference, error) {
	docs, err := r.collection.Query(ctx, nil)
	if err != nil {
		return nil, err
	}
	prefs := make([]domain.PricePreference, 0, len(docs))
	for _, doc := range docs {
		value := doc.Data.Value
		if doc.Data.Attribute == domain.PricePreferenceAttributeCurrency {
			value = strings.ToLower(value)
		}
		prefs = append(prefs, domain.PricePreference{
			ID:             doc.ID,
			Attribute:      doc.Data.Attribute,
			Value:          value,
			IsTaxInclusive: doc.Data.IsTaxInclusive,
		})
	}
	return prefs, nil
}

type pricePreferenceDocument struct {
	Attribute      string `firestore:"attribute"`
	Value          string `firestore:"value"`
	IsTaxInclusive bool   `firestore:"isTaxInclusive"`
}
