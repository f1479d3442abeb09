package services

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	domain "github.com/hanko-field/variants/internal/domain"
)

const regionsCacheKey = "regions"

// PriceGrid returns the column layout of the bulk editor for the product: one price column per
// store currency, one per region, then the variant detail columns.
func (s *variantGenerationService) PriceGrid(ctx context.Context, productID string) (PriceGrid, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return PriceGrid{}, ErrVariantGenerationInvalidInput
	}

	var (
		store   domain.StoreSettings
		regions []Region
		prefs   []domain.PricePreference
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.products.Get(gctx, productID)
		return mapRepositoryError(err)
	})
	g.Go(func() error {
		var err error
		store, err = s.stores.Default(gctx)
		return mapReferenceError(err)
	})
	g.Go(func() error {
		var err error
		regions, err = s.listRegions(gctx)
		return mapReferenceError(err)
	})
	g.Go(func() error {
		var err error
		prefs, err = s.preferences.List(gctx)
		return mapReferenceError(err)
	})
	if err := g.Wait(); err != nil {
		return PriceGrid{}, err
	}

	return buildPriceGrid(store, regions, prefs), nil
}

func (s *variantGenerationService) listRegions(ctx context.Context) ([]Region, error) {
	if cached, ok := s.regionCache.Get(regionsCacheKey); ok {
		return cached, nil
	}
	regions, err := s.regions.List(ctx)
	if err != nil {
		return nil, err
	}
	s.regionCache.Add(regionsCacheKey, regions)
	return regions, nil
}

// regionCurrencies maps region ids to their currency code.
func (s *variantGenerationService) regionCurrencies(ctx context.Context) (map[string]string, error) {
	regions, err := s.listRegions(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(regions))
	for _, region := range regions {
		out[region.ID] = strings.ToLower(region.CurrencyCode)
	}
	return out, nil
}

func buildPriceGrid(store domain.StoreSettings, regions []Region, prefs []domain.PricePreference) PriceGrid {
	taxInclusive := make(map[string]bool, len(prefs))
	for _, pref := range prefs {
		taxInclusive[pref.Attribute+":"+pref.Value] = pref.IsTaxInclusive
	}

	grid := PriceGrid{}
	supported := make(map[string]struct{}, len(store.SupportedCurrencies))
	for _, cur := range store.SupportedCurrencies {
		code := strings.ToLower(cur.CurrencyCode)
		supported[code] = struct{}{}
		grid.CurrencyColumns = append(grid.CurrencyColumns, PriceGridColumn{
			ID:           "currency_prices." + code,
			Header:       strings.ToUpper(code),
			FieldKey:     code,
			Type:         PriceGridColumnCurrency,
			CurrencyCode: code,
			Editable:     true,
			TaxInclusive: taxInclusive[domain.PricePreferenceAttributeCurrency+":"+code],
		})
	}

	for _, region := range regions {
		code := strings.ToLower(region.CurrencyCode)
		_, editable := supported[code]
		grid.RegionColumns = append(grid.RegionColumns, PriceGridColumn{
			ID:           "region_prices." + region.ID,
			Header:       region.Name,
			FieldKey:     region.ID,
			Type:         PriceGridColumnCurrency,
			CurrencyCode: code,
			Editable:     editable,
			TaxInclusive: taxInclusive[domain.PricePreferenceAttributeRegion+":"+region.ID],
		})
	}

	grid.DetailColumns = []PriceGridColumn{
		{ID: "title", Header: "Title", FieldKey: "title", Type: PriceGridColumnReadOnly},
		{ID: "sku", Header: "SKU", FieldKey: "sku", Type: PriceGridColumnText, Editable: true},
		{ID: "manage_inventory", Header: "Managed inventory", FieldKey: "manage_inventory", Type: PriceGridColumnBoolean, Editable: true},
		{ID: "allow_backorder", Header: "Allow backorder", FieldKey: "allow_backorder", Type: PriceGridColumnBoolean, Editable: true},
	}
	return grid
}
