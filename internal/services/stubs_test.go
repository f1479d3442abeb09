package services

import (
	"context"
	"errors"
	"sync"
	"time"

	domain "github.com/hanko-field/variants/internal/domain"
)

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return "stub repository error" }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

type stubProductRepo struct {
	mu       sync.Mutex
	products map[string]domain.Product
	gets     int

	createErr   error
	metadataErr error
	created     []domain.ProductVariant
}

func newStubProductRepo(products ...domain.Product) *stubProductRepo {
	repo := &stubProductRepo{products: make(map[string]domain.Product)}
	for _, p := range products {
		repo.products[p.ID] = p
	}
	return repo
}

func (s *stubProductRepo) Get(_ context.Context, productID string) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	product, ok := s.products[productID]
	if !ok {
		return domain.Product{}, stubRepoError{notFound: true}
	}
	return product, nil
}

func (s *stubProductRepo) FindByOptionID(_ context.Context, optionID string) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, product := range s.products {
		for _, option := range product.Options {
			if option.ID == optionID {
				return product, nil
			}
		}
	}
	return domain.Product{}, stubRepoError{notFound: true}
}

func (s *stubProductRepo) SetMetadata(_ context.Context, productID string, values map[string]string, now time.Time) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metadataErr != nil {
		return domain.Product{}, s.metadataErr
	}
	product, ok := s.products[productID]
	if !ok {
		return domain.Product{}, stubRepoError{notFound: true}
	}
	meta := make(map[string]string, len(product.Metadata)+len(values))
	for k, v := range product.Metadata {
		meta[k] = v
	}
	for k, v := range values {
		meta[k] = v
	}
	product.Metadata = meta
	product.UpdatedAt = now
	s.products[productID] = product
	return product, nil
}

func (s *stubProductRepo) CreateVariants(_ context.Context, productID string, batch []domain.ProductVariant, now time.Time) ([]domain.ProductVariant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	product, ok := s.products[productID]
	if !ok {
		return nil, stubRepoError{notFound: true}
	}
	out := make([]domain.ProductVariant, 0, len(batch))
	for _, variant := range batch {
		variant.CreatedAt = now
		out = append(out, variant)
	}
	product.Variants = append(append([]domain.ProductVariant(nil), product.Variants...), out...)
	product.UpdatedAt = now
	s.products[productID] = product
	s.created = append(s.created, out...)
	return out, nil
}

type stubRegionRepo struct {
	regions []domain.Region
	err     error
	calls   int
}

func (s *stubRegionRepo) List(context.Context) ([]domain.Region, error) {
	s.calls++
	return s.regions, s.err
}

type stubStoreRepo struct {
	store domain.StoreSettings
	err   error
}

func (s *stubStoreRepo) Default(context.Context) (domain.StoreSettings, error) {
	return s.store, s.err
}

type stubPreferenceRepo struct {
	prefs []domain.PricePreference
	err   error
}

func (s *stubPreferenceRepo) List(context.Context) ([]domain.PricePreference, error) {
	return s.prefs, s.err
}

type stubPublisher struct {
	events []domain.VariantsCreatedEvent
	err    error
}

func (s *stubPublisher) PublishVariantsCreated(_ context.Context, event domain.VariantsCreatedEvent) (string, error) {
	s.events = append(s.events, event)
	if s.err != nil {
		return "", s.err
	}
	return "msg-1", nil
}

var errStubFailure = errors.New("stub failure")

// colorSizeProduct has Color{Red,Green} x Size{S,M} with Red/S already materialised.
func colorSizeProduct() domain.Product {
	updated := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	return domain.Product{
		ID:    "prod_1",
		Title: "T-shirt",
		Options: []domain.ProductOption{
			{ID: "opt_color", Title: "Color", Values: []domain.ProductOptionValue{{ID: "ov_red", Value: "Red"}, {ID: "ov_green", Value: "Green"}}},
			{ID: "opt_size", Title: "Size", Values: []domain.ProductOptionValue{{ID: "ov_s", Value: "S"}, {ID: "ov_m", Value: "M"}}},
		},
		Variants: []domain.ProductVariant{{
			ID: "variant_existing",
			Options: []domain.VariantOptionSelection{
				{OptionID: "opt_color", OptionValueID: "ov_red", Value: "Red"},
				{OptionID: "opt_size", OptionValueID: "ov_s", Value: "S"},
			},
		}},
		Metadata:  map[string]string{},
		CreatedAt: updated,
		UpdatedAt: updated,
	}
}
