package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/variants/internal/domain"
	pfirestore "github.com/hanko-field/variants/internal/platform/firestore"
	"github.com/hanko-field/variants/internal/repositories"
	"github.com/hanko-field/variants/internal/variants"
)

const productsCollection = "products"

// ProductRepository stores each product as one document embedding its options and variants.
// optionIds mirrors the option ids so a product can be found from an option event.
type ProductRepository struct {
	provider   *pfirestore.Provider
	collection *pfirestore.Collection[productDocument]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository: firestore provider is required")
	}
	return &ProductRepository{
		provider:   provider,
		collection: pfirestore.NewCollection[productDocument](provider, productsCollection),
	}, nil
}

func (r *ProductRepository) Get(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.collection.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *ProductRepository) FindByOptionID(ctx context.Context, optionID string) (domain.Product, error) {
	optionID = strings.TrimSpace(optionID)
	if optionID == "" {
		return domain.Product{}, errors.New("product repository: option id is required")
	}
	docs, err := r.collection.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("optionIds", "array-contains", optionID).Limit(1)
	})
	if err != nil {
		return domain.Product{}, err
	}
	if len(docs) == 0 {
		return domain.Product{}, pfirestore.NotFound("products.find_by_option", "no product owns option %s", optionID)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// Save writes the whole product. Option ids are derived from the options.
func (r *ProductRepository) Save(ctx context.Context, product domain.Product) error {
	ref, err := r.collection.Doc(ctx, product.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, productFromDomain(product)); err != nil {
		return pfirestore.WrapError("products.save", err)
	}
	return nil
}

func (r *ProductRepository) SetMetadata(ctx context.Context, productID string, values map[string]string, now time.Time) (domain.Product, error) {
	ref, err := r.collection.Doc(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	now = now.UTC()

	var updated domain.Product
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		doc, err := pfirestore.Decode[productDocument](snap)
		if err != nil {
			return err
		}

		updates := make([]firestore.Update, 0, len(values)+1)
		if doc.Data.Metadata == nil {
			doc.Data.Metadata = make(map[string]string, len(values))
		}
		for key, value := range values {
			doc.Data.Metadata[key] = value
			updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{"metadata", key}, Value: value})
		}
		doc.Data.UpdatedAt = now
		updates = append(updates, firestore.Update{Path: "updatedAt", Value: now})

		updated = doc.Data.toDomain(doc.ID)
		return tx.Update(ref, updates)
	})
	if err != nil {
		return domain.Product{}, pfirestore.WrapError("products.set_metadata", err)
	}
	return updated, nil
}

func (r *ProductRepository) CreateVariants(ctx context.Context, productID string, batch []domain.ProductVariant, now time.Time) ([]domain.ProductVariant, error) {
	ref, err := r.collection.Doc(ctx, strings.TrimSpace(productID))
	if err != nil {
		return nil, err
	}
	now = now.UTC()

	var created []domain.ProductVariant
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		doc, err := pfirestore.Decode[productDocument](snap)
		if err != nil {
			return err
		}
		product := doc.Data.toDomain(doc.ID)

		created, err = admitVariants(product, batch, now)
		if err != nil {
			return err
		}

		all := make([]variantDocument, 0, len(doc.Data.Variants)+len(created))
		all = append(all, doc.Data.Variants...)
		for _, variant := range created {
			all = append(all, variantFromDomain(variant))
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "variants", Value: all},
			{Path: "updatedAt", Value: now},
		})
	})
	if err != nil {
		return nil, pfirestore.WrapError("products.create_variants", err)
	}
	return created, nil
}

// admitVariants stamps the batch for product and rejects any combination that is incomplete,
// already materialised or repeated within the batch.
func admitVariants(product domain.Product, batch []domain.ProductVariant, now time.Time) ([]domain.ProductVariant, error) {
	index := variants.NewIndex(product.Options, product.Variants)
	seen := make(map[variants.Key]struct{}, len(batch))
	out := make([]domain.ProductVariant, 0, len(batch))
	for _, variant := range batch {
		values, ok := variants.ValuesOf(product.Options, variant)
		if !ok {
			return nil, pfirestore.Conflict("products.create_variants", "variant %s does not select a value for every option", variant.ID)
		}
		if existing, ok := index.Lookup(values); ok {
			return nil, pfirestore.Conflict("products.create_variants", "combination %s already exists as variant %s", strings.Join(values, variants.TitleSeparator), existing)
		}
		key := variants.KeyOf(values)
		if _, dup := seen[key]; dup {
			return nil, pfirestore.Conflict("products.create_variants", "combination %s repeated in batch", strings.Join(values, variants.TitleSeparator))
		}
		seen[key] = struct{}{}

		variant.ProductID = product.ID
		variant.CreatedAt = now
		out = append(out, variant)
	}
	return out, nil
}

type productDocument struct {
	Title     string            `firestore:"title"`
	Options   []optionDocument  `firestore:"options"`
	OptionIDs []string          `firestore:"optionIds"`
	Variants  []variantDocument `firestore:"variants"`
	Metadata  map[string]string `firestore:"metadata"`
	CreatedAt time.Time         `firestore:"createdAt"`
	UpdatedAt time.Time         `firestore:"updatedAt"`
}

type optionDocument struct {
	ID     string                `firestore:"id"`
	Title  string                `firestore:"title"`
	Values []optionValueDocument `firestore:"values"`
}

type optionValueDocument struct {
	ID    string `firestore:"id"`
	Value string `firestore:"value"`
}

type variantDocument struct {
	ID              string              `firestore:"id"`
	Title           string              `firestore:"title"`
	SKU             string              `firestore:"sku,omitempty"`
	ManageInventory bool                `firestore:"manageInventory"`
	AllowBackorder  bool                `firestore:"allowBackorder"`
	Options         []selectionDocument `firestore:"options"`
	Prices          []priceDocument     `firestore:"prices"`
	CreatedAt       time.Time           `firestore:"createdAt"`
}

type selectionDocument struct {
	OptionID      string `firestore:"optionId"`
	OptionValueID string `firestore:"optionValueId,omitempty"`
	Value         string `firestore:"value"`
}

type priceDocument struct {
	ID           string            `firestore:"id"`
	CurrencyCode string            `firestore:"currencyCode"`
	Amount       int64             `firestore:"amount"`
	Rules        map[string]string `firestore:"rules,omitempty"`
}

func (d productDocument) toDomain(id string) domain.Product {
	product := domain.Product{
		ID:        id,
		Title:     d.Title,
		Metadata:  d.Metadata,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, option := range d.Options {
		values := make([]domain.ProductOptionValue, 0, len(option.Values))
		for _, value := range option.Values {
			values = append(values, domain.ProductOptionValue{ID: value.ID, Value: value.Value})
		}
		product.Options = append(product.Options, domain.ProductOption{ID: option.ID, Title: option.Title, Values: values})
	}
	for _, variant := range d.Variants {
		product.Variants = append(product.Variants, variant.toDomain(id))
	}
	return product
}

func (d variantDocument) toDomain(productID string) domain.ProductVariant {
	variant := domain.ProductVariant{
		ID:              d.ID,
		ProductID:       productID,
		Title:           d.Title,
		SKU:             d.SKU,
		ManageInventory: d.ManageInventory,
		AllowBackorder:  d.AllowBackorder,
		CreatedAt:       d.CreatedAt,
	}
	for _, selection := range d.Options {
		variant.Options = append(variant.Options, domain.VariantOptionSelection{
			OptionID:      selection.OptionID,
			OptionValueID: selection.OptionValueID,
			Value:         selection.Value,
		})
	}
	for _, price := range d.Prices {
		variant.Prices = append(variant.Prices, domain.Price{
			ID:           price.ID,
			CurrencyCode: price.CurrencyCode,
			Amount:       price.Amount,
			Rules:        price.Rules,
		})
	}
	return variant
}

func productFromDomain(product domain.Product) productDocument {
	doc := productDocument{
		Title:     product.Title,
		Metadata:  product.Metadata,
		CreatedAt: product.CreatedAt.UTC(),
		UpdatedAt: product.UpdatedAt.UTC(),
		OptionIDs: make([]string, 0, len(product.Options)),
	}
	for _, option := range product.Options {
		values := make([]optionValueDocument, 0, len(option.Values))
		for _, value := range option.Values {
			values = append(values, optionValueDocument{ID: value.ID, Value: value.Value})
		}
		doc.Options = append(doc.Options, optionDocument{ID: option.ID, Title: option.Title, Values: values})
		doc.OptionIDs = append(doc.OptionIDs, option.ID)
	}
	for _, variant := range product.Variants {
		doc.Variants = append(doc.Variants, variantFromDomain(variant))
	}
	return doc
}

func variantFromDomain(variant domain.ProductVariant) variantDocument {
	doc := variantDocument{
		ID:              variant.ID,
		Title:           variant.Title,
		SKU:             variant.SKU,
		ManageInventory: variant.ManageInventory,
		AllowBackorder:  variant.AllowBackorder,
		CreatedAt:       variant.CreatedAt.UTC(),
	}
	for _, selection := range variant.Options {
		doc.Options = append(doc.Options, selectionDocument{
			OptionID:      selection.OptionID,
			OptionValueID: selection.OptionValueID,
			Value:         selection.Value,
		})
	}
	for _, price := range variant.Prices {
		doc.Prices = append(doc.Prices, priceDocument{
			ID:           price.ID,
			CurrencyCode: price.CurrencyCode,
			Amount:       price.Amount,
			Rules:        price.Rules,
		})
	}
	return doc
}
