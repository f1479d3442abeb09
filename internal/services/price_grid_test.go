package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/variants/internal/domain"
)

func TestPriceGridBuildsColumns(t *testing.T) {
	regions := &stubRegionRepo{regions: []domain.Region{
		{ID: "reg_eu", Name: "Europe", CurrencyCode: "EUR"},
		{ID: "reg_us", Name: "United States", CurrencyCode: "usd"},
	}}
	svc, err := NewVariantGenerationService(VariantGenerationServiceDeps{
		Products: newStubProductRepo(colorSizeProduct()),
		Regions:  regions,
		Stores: &stubStoreRepo{store: domain.StoreSettings{SupportedCurrencies: []domain.StoreCurrency{
			{CurrencyCode: "eur", IsDefault: true},
			{CurrencyCode: "jpy"},
		}}},
		PricePreferences: &stubPreferenceRepo{prefs: []domain.PricePreference{
			{Attribute: domain.PricePreferenceAttributeCurrency, Value: "eur", IsTaxInclusive: true},
			{Attribute: domain.PricePreferenceAttributeRegion, Value: "reg_us", IsTaxInclusive: true},
		}},
	})
	require.NoError(t, err)

	grid, err := svc.PriceGrid(context.Background(), "prod_1")
	require.NoError(t, err)

	require.Len(t, grid.CurrencyColumns, 2)
	assert.Equal(t, PriceGridColumn{
		ID: "currency_prices.eur", Header: "EUR", FieldKey: "eur", Type: PriceGridColumnCurrency,
		CurrencyCode: "eur", Editable: true, TaxInclusive: true,
	}, grid.CurrencyColumns[0])
	assert.False(t, grid.CurrencyColumns[1].TaxInclusive)

	require.Len(t, grid.RegionColumns, 2)
	assert.Equal(t, "region_prices.reg_eu", grid.RegionColumns[0].ID)
	assert.Equal(t, "Europe", grid.RegionColumns[0].Header)
	assert.Equal(t, "reg_eu", grid.RegionColumns[0].FieldKey)
	assert.True(t, grid.RegionColumns[0].Editable)
	assert.False(t, grid.RegionColumns[1].Editable, "usd is not a store currency")
	assert.True(t, grid.RegionColumns[1].TaxInclusive)

	keys := make([]string, 0, len(grid.DetailColumns))
	for _, col := range grid.DetailColumns {
		keys = append(keys, col.FieldKey)
	}
	assert.Equal(t, []string{"title", "sku", "manage_inventory", "allow_backorder"}, keys)
	assert.False(t, grid.DetailColumns[0].Editable)

	_, err = svc.PriceGrid(context.Background(), "prod_1")
	require.NoError(t, err)
	assert.Equal(t, 1, regions.calls, "regions are cached")
}

func TestPriceGridErrors(t *testing.T) {
	svc, err := NewVariantGenerationService(VariantGenerationServiceDeps{
		Products:         newStubProductRepo(colorSizeProduct()),
		Regions:          &stubRegionRepo{err: stubRepoError{unavailable: true}},
		Stores:           &stubStoreRepo{},
		PricePreferences: &stubPreferenceRepo{},
	})
	require.NoError(t, err)

	_, err = svc.PriceGrid(context.Background(), "")
	assert.ErrorIs(t, err, ErrVariantGenerationInvalidInput)

	_, err = svc.PriceGrid(context.Background(), "prod_1")
	assert.ErrorIs(t, err, ErrVariantGenerationUnavailable)
}

func TestPriceGridReportsMissingReferenceDataAsUnavailable(t *testing.T) {
	cases := map[string]VariantGenerationServiceDeps{
		"store": {
			Regions:          &stubRegionRepo{},
			Stores:           &stubStoreRepo{err: stubRepoError{notFound: true}},
			PricePreferences: &stubPreferenceRepo{},
		},
		"regions": {
			Regions:          &stubRegionRepo{err: stubRepoError{notFound: true}},
			Stores:           &stubStoreRepo{},
			PricePreferences: &stubPreferenceRepo{},
		},
		"preferences": {
			Regions:          &stubRegionRepo{},
			Stores:           &stubStoreRepo{},
			PricePreferences: &stubPreferenceRepo{err: stubRepoError{notFound: true}},
		},
	}
	for name, deps := range cases {
		t.Run(name, func(t *testing.T) {
			deps.Products = newStubProductRepo(colorSizeProduct())
			svc, err := NewVariantGenerationService(deps)
			require.NoError(t, err)

			_, err = svc.PriceGrid(context.Background(), "prod_1")
			assert.ErrorIs(t, err, ErrVariantGenerationUnavailable)
			assert.NotErrorIs(t, err, ErrVariantGenerationNotFound)
		})
	}
}

func TestPriceGridMissingProductIsNotFound(t *testing.T) {
	svc, err := NewVariantGenerationService(VariantGenerationServiceDeps{
		Products:         newStubProductRepo(),
		Regions:          &stubRegionRepo{},
		Stores:           &stubStoreRepo{},
		PricePreferences: &stubPreferenceRepo{},
	})
	require.NoError(t, err)

	_, err = svc.PriceGrid(context.Background(), "prod_missing")
	assert.ErrorIs(t, err, ErrVariantGenerationNotFound)
}
