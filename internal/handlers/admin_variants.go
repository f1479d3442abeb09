package handlers

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/variants/internal/platform/auth"
	"github.com/hanko-field/variants/internal/platform/httpx"
	"github.com/hanko-field/variants/internal/platform/pagination"
	"github.com/hanko-field/variants/internal/platform/validation"
	"github.com/hanko-field/variants/internal/services"
)

const maxVariantRequestBody = 1 << 20

//go:embed schemas/create_variants.json
var createVariantsSchemaJSON []byte

var createVariantsSchema = validation.MustCompile("create_variants.json", createVariantsSchemaJSON)

// AdminVariantHandlers exposes the variant generation widget endpoints.
type AdminVariantHandlers struct {
	authn       *auth.Authenticator
	generation  services.VariantGenerationService
	idempotency func(http.Handler) http.Handler
	paging      pagination.Options
}

// AdminVariantOption customises AdminVariantHandlers.
type AdminVariantOption func(*AdminVariantHandlers)

// WithIdempotency guards the create endpoint with the given middleware.
func WithIdempotency(mw func(http.Handler) http.Handler) AdminVariantOption {
	return func(h *AdminVariantHandlers) {
		h.idempotency = mw
	}
}

// WithPaging overrides the default and maximum page sizes.
func WithPaging(opts pagination.Options) AdminVariantOption {
	return func(h *AdminVariantHandlers) {
		h.paging = opts
	}
}

// NewAdminVariantHandlers constructs the admin variant generation handlers.
func NewAdminVariantHandlers(authn *auth.Authenticator, generation services.VariantGenerationService, opts ...AdminVariantOption) *AdminVariantHandlers {
	h := &AdminVariantHandlers{authn: authn, generation: generation}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the endpoints under /products/{productID}.
func (h *AdminVariantHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	create := http.Handler(http.HandlerFunc(h.createVariants))
	if h.idempotency != nil {
		create = h.idempotency(create)
	}
	r.Route("/products/{productID}", func(rt chi.Router) {
		rt.Get("/variant-generation", h.listMissing)
		rt.Method(http.MethodPost, "/variant-generation", create)
		rt.Post("/variant-generation:dismiss", h.dismiss)
		rt.Post("/variant-generation:restore", h.restore)
		rt.Get("/variant-generation/price-grid", h.priceGrid)
	})
}

func (h *AdminVariantHandlers) listMissing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.generation == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	params, err := pagination.Parse(r.URL.Query(), h.paging)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.generation.ListMissing(ctx, services.ListMissingVariantsCommand{
		ProductID:  chi.URLParam(r, "productID"),
		Pagination: services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	})
	if err != nil {
		writeVariantGenerationError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newMissingVariantsResponse(page))
}

func (h *AdminVariantHandlers) createVariants(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.generation == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	cmd, err := decodeCreateVariantsRequest(r)
	if err != nil {
		var invalid invalidBodyError
		if errors.As(err, &invalid) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body failed validation", http.StatusBadRequest).WithFields(invalid.fields...))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	cmd.ProductID = chi.URLParam(r, "productID")
	cmd.ActorID = identity.UID

	created, err := h.generation.CreateVariants(ctx, cmd)
	if err != nil {
		writeVariantGenerationError(ctx, w, err)
		return
	}
	resp := createVariantsResponse{Variants: make([]variantResponse, 0, len(created))}
	for _, variant := range created {
		resp.Variants = append(resp.Variants, newVariantResponse(variant))
	}
	httpx.WriteJSON(w, http.StatusCreated, resp)
}

func (h *AdminVariantHandlers) dismiss(w http.ResponseWriter, r *http.Request) {
	h.setDismissed(w, r, true)
}

func (h *AdminVariantHandlers) restore(w http.ResponseWriter, r *http.Request) {
	h.setDismissed(w, r, false)
}

func (h *AdminVariantHandlers) setDismissed(w http.ResponseWriter, r *http.Request, dismissed bool) {
	ctx := r.Context()
	if h.generation == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	productID := chi.URLParam(r, "productID")
	actor := auth.ActorFromContext(ctx)

	var err error
	if dismissed {
		err = h.generation.Dismiss(ctx, productID, actor)
	} else {
		err = h.generation.Restore(ctx, productID, actor)
	}
	if err != nil {
		writeVariantGenerationError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, dismissResponse{ProductID: productID, Dismissed: dismissed})
}

func (h *AdminVariantHandlers) priceGrid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.generation == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	grid, err := h.generation.PriceGrid(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		writeVariantGenerationError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newPriceGridResponse(grid))
}

type invalidBodyError struct {
	fields []httpx.FieldError
}

func (e invalidBodyError) Error() string { return "request body failed validation" }

type createVariantsRequest struct {
	Variants []struct {
		DraftID         string         `json:"draft_id"`
		Title           *string        `json:"title"`
		SKU             *string        `json:"sku"`
		ManageInventory bool           `json:"manage_inventory"`
		AllowBackorder  bool           `json:"allow_backorder"`
		Prices          map[string]any `json:"prices"`
	} `json:"variants"`
}

func decodeCreateVariantsRequest(r *http.Request) (services.CreateVariantsCommand, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxVariantRequestBody+1))
	if err != nil {
		return services.CreateVariantsCommand{}, errors.New("unable to read request body")
	}
	if len(body) > maxVariantRequestBody {
		return services.CreateVariantsCommand{}, errors.New("request body too large")
	}

	fields, err := createVariantsSchema.Validate(body)
	if err != nil {
		return services.CreateVariantsCommand{}, errors.New("request body must be valid JSON")
	}
	if len(fields) > 0 {
		return services.CreateVariantsCommand{}, invalidBodyError{fields: fields}
	}

	var req createVariantsRequest
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&req); err != nil {
		return services.CreateVariantsCommand{}, errors.New("request body must be valid JSON")
	}

	cmd := services.CreateVariantsCommand{Variants: make([]services.VariantCreateInput, 0, len(req.Variants))}
	for _, item := range req.Variants {
		input := services.VariantCreateInput{
			DraftID:         item.DraftID,
			ManageInventory: item.ManageInventory,
			AllowBackorder:  item.AllowBackorder,
			Prices:          item.Prices,
		}
		if item.Title != nil {
			input.Title = *item.Title
		}
		if item.SKU != nil {
			input.SKU = *item.SKU
		}
		cmd.Variants = append(cmd.Variants, input)
	}
	return cmd, nil
}

func writeServiceUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "variant generation service unavailable", http.StatusServiceUnavailable))
}

func writeVariantGenerationError(ctx context.Context, w http.ResponseWriter, err error) {
	var priceErr *services.PriceInputError
	switch {
	case errors.As(err, &priceErr):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_price", "price input rejected", http.StatusBadRequest).
			WithFields(httpx.FieldError{Field: priceErr.Field(), Message: priceErr.Message}))
	case errors.Is(err, services.ErrVariantGenerationInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrVariantGenerationNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrVariantGenerationUnknownDraft):
		httpx.WriteError(ctx, w, httpx.NewError("unknown_draft", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrVariantGenerationConflict):
		httpx.WriteError(ctx, w, httpx.NewError("variant_conflict", "a requested combination already exists", http.StatusConflict))
	case errors.Is(err, services.ErrVariantGenerationUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "variant generation temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}

type missingVariantsResponse struct {
	Items                []draftVariantResponse `json:"items"`
	NextPageToken        string                 `json:"next_page_token,omitempty"`
	Total                int                    `json:"total"`
	Dismissed            bool                   `json:"dismissed"`
	OptionTitles         []string               `json:"option_titles"`
	IncompleteVariantIDs []string               `json:"incomplete_variant_ids"`
}

type draftVariantResponse struct {
	ID      string            `json:"id"`
	Title   string            `json:"title"`
	SKU     *string           `json:"sku"`
	Options map[string]string `json:"options"`
	Values  []draftOptionItem `json:"values"`
}

type draftOptionItem struct {
	OptionID      string `json:"option_id"`
	OptionValueID string `json:"option_value_id,omitempty"`
	Name          string `json:"name"`
	Value         string `json:"value"`
}

func newMissingVariantsResponse(page services.MissingVariantsPage) missingVariantsResponse {
	resp := missingVariantsResponse{
		Items:                make([]draftVariantResponse, 0, len(page.Items)),
		NextPageToken:        page.NextPageToken,
		Total:                page.Total,
		Dismissed:            page.Dismissed,
		OptionTitles:         page.OptionTitles,
		IncompleteVariantIDs: page.IncompleteVariantIDs,
	}
	if resp.OptionTitles == nil {
		resp.OptionTitles = []string{}
	}
	if resp.IncompleteVariantIDs == nil {
		resp.IncompleteVariantIDs = []string{}
	}
	for _, draft := range page.Items {
		item := draftVariantResponse{
			ID:      draft.ID,
			Title:   draft.Title,
			SKU:     draft.SKU,
			Options: draft.OptionByTitle,
			Values:  make([]draftOptionItem, 0, len(draft.Options)),
		}
		if item.Options == nil {
			item.Options = map[string]string{}
		}
		for _, entry := range draft.Options {
			item.Values = append(item.Values, draftOptionItem{
				OptionID:      entry.OptionID,
				OptionValueID: entry.OptionValueID,
				Name:          entry.Name,
				Value:         entry.Value,
			})
		}
		resp.Items = append(resp.Items, item)
	}
	return resp
}

type createVariantsResponse struct {
	Variants []variantResponse `json:"variants"`
}

type variantResponse struct {
	ID              string            `json:"id"`
	ProductID       string            `json:"product_id"`
	Title           string            `json:"title"`
	SKU             string            `json:"sku,omitempty"`
	ManageInventory bool              `json:"manage_inventory"`
	AllowBackorder  bool              `json:"allow_backorder"`
	Options         []draftOptionItem `json:"options"`
	Prices          []priceResponse   `json:"prices"`
	CreatedAt       string            `json:"created_at"`
}

type priceResponse struct {
	ID           string            `json:"id"`
	CurrencyCode string            `json:"currency_code"`
	Amount       int64             `json:"amount"`
	Rules        map[string]string `json:"rules,omitempty"`
}

func newVariantResponse(variant services.ProductVariant) variantResponse {
	resp := variantResponse{
		ID:              variant.ID,
		ProductID:       variant.ProductID,
		Title:           variant.Title,
		SKU:             variant.SKU,
		ManageInventory: variant.ManageInventory,
		AllowBackorder:  variant.AllowBackorder,
		Options:         make([]draftOptionItem, 0, len(variant.Options)),
		Prices:          make([]priceResponse, 0, len(variant.Prices)),
		CreatedAt:       formatTime(variant.CreatedAt),
	}
	for _, sel := range variant.Options {
		resp.Options = append(resp.Options, draftOptionItem{
			OptionID:      sel.OptionID,
			OptionValueID: sel.OptionValueID,
			Value:         sel.Value,
		})
	}
	for _, price := range variant.Prices {
		resp.Prices = append(resp.Prices, priceResponse{
			ID:           price.ID,
			CurrencyCode: price.CurrencyCode,
			Amount:       price.Amount,
			Rules:        price.Rules,
		})
	}
	return resp
}

type dismissResponse struct {
	ProductID string `json:"product_id"`
	Dismissed bool   `json:"dismissed"`
}

type priceGridResponse struct {
	CurrencyColumns []priceGridColumnResponse `json:"currency_columns"`
	RegionColumns   []priceGridColumnResponse `json:"region_columns"`
	DetailColumns   []priceGridColumnResponse `json:"detail_columns"`
}

type priceGridColumnResponse struct {
	ID           string `json:"id"`
	Header       string `json:"header"`
	FieldKey     string `json:"field_key"`
	Type         string `json:"type"`
	CurrencyCode string `json:"currency_code,omitempty"`
	Editable     bool   `json:"editable"`
	TaxInclusive bool   `json:"tax_inclusive"`
}

func newPriceGridResponse(grid services.PriceGrid) priceGridResponse {
	return priceGridResponse{
		CurrencyColumns: gridColumns(grid.CurrencyColumns),
		RegionColumns:   gridColumns(grid.RegionColumns),
		DetailColumns:   gridColumns(grid.DetailColumns),
	}
}

func gridColumns(columns []services.PriceGridColumn) []priceGridColumnResponse {
	out := make([]priceGridColumnResponse, 0, len(columns))
	for _, col := range columns {
		out = append(out, priceGridColumnResponse{
			ID:           col.ID,
			Header:       col.Header,
			FieldKey:     col.FieldKey,
			Type:         string(col.Type),
			CurrencyCode: col.CurrencyCode,
			Editable:     col.Editable,
			TaxInclusive: col.TaxInclusive,
		})
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
