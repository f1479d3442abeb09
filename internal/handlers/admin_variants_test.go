package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanko-field/variants/internal/domain"
	"github.com/hanko-field/variants/internal/platform/auth"
	"github.com/hanko-field/variants/internal/platform/idempotency"
	"github.com/hanko-field/variants/internal/services"
)

type stubVariantGeneration struct {
	page      services.MissingVariantsPage
	listCmd   services.ListMissingVariantsCommand
	created   []services.ProductVariant
	createCmd services.CreateVariantsCommand
	creates   int
	grid      services.PriceGrid
	dismissed map[string]string
	restored  map[string]string
	err       error
}

func (s *stubVariantGeneration) ListMissing(_ context.Context, cmd services.ListMissingVariantsCommand) (services.MissingVariantsPage, error) {
	s.listCmd = cmd
	return s.page, s.err
}

func (s *stubVariantGeneration) CreateVariants(_ context.Context, cmd services.CreateVariantsCommand) ([]services.ProductVariant, error) {
	s.createCmd = cmd
	s.creates++
	return s.created, s.err
}

func (s *stubVariantGeneration) Dismiss(_ context.Context, productID, actorID string) error {
	if s.dismissed == nil {
		s.dismissed = map[string]string{}
	}
	s.dismissed[productID] = actorID
	return s.err
}

func (s *stubVariantGeneration) Restore(_ context.Context, productID, actorID string) error {
	if s.restored == nil {
		s.restored = map[string]string{}
	}
	s.restored[productID] = actorID
	return s.err
}

func (s *stubVariantGeneration) PriceGrid(context.Context, string) (services.PriceGrid, error) {
	return s.grid, s.err
}

func (s *stubVariantGeneration) Invalidate(string) {}

func withAdminIdentity(uid string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := auth.WithIdentity(r.Context(), &auth.Identity{UID: uid, Roles: []string{auth.RoleAdmin}})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newVariantRouter(t *testing.T, svc services.VariantGenerationService, opts ...AdminVariantOption) http.Handler {
	t.Helper()
	h := NewAdminVariantHandlers(nil, svc, opts...)
	r := chi.NewRouter()
	r.Use(withAdminIdentity("staff-1"))
	h.Routes(r)
	return r
}

type errorBody struct {
	Error  string `json:"error"`
	Fields []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"fields"`
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestAdminVariantHandlers_ListMissing(t *testing.T) {
	sku := "TEE-GREEN-M"
	svc := &stubVariantGeneration{page: services.MissingVariantsPage{
		Items: []services.DraftVariant{{
			ID:            "opt_color:Green|opt_size:M",
			Title:         "Green / M",
			SKU:           &sku,
			OptionByTitle: map[string]string{"Color": "Green", "Size": "M"},
			Options: []domain.DraftOptionEntry{
				{OptionID: "opt_color", OptionValueID: "val_green", Name: "Color", Value: "Green"},
				{OptionID: "opt_size", OptionValueID: "val_m", Name: "Size", Value: "M"},
			},
		}},
		NextPageToken: "next",
		Total:         3,
		OptionTitles:  []string{"Color", "Size"},
	}}
	router := newVariantRouter(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/products/prod_1/variant-generation?pageSize=1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "prod_1", svc.listCmd.ProductID)
	assert.Equal(t, 1, svc.listCmd.Pagination.PageSize)

	var body struct {
		Items []struct {
			ID      string            `json:"id"`
			Title   string            `json:"title"`
			SKU     *string           `json:"sku"`
			Options map[string]string `json:"options"`
			Values  []struct {
				OptionValueID string `json:"option_value_id"`
			} `json:"values"`
		} `json:"items"`
		NextPageToken        string   `json:"next_page_token"`
		Total                int      `json:"total"`
		Dismissed            bool     `json:"dismissed"`
		OptionTitles         []string `json:"option_titles"`
		IncompleteVariantIDs []string `json:"incomplete_variant_ids"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	assert.Equal(t, "Green / M", body.Items[0].Title)
	require.NotNil(t, body.Items[0].SKU)
	assert.Equal(t, sku, *body.Items[0].SKU)
	assert.Equal(t, "Green", body.Items[0].Options["Color"])
	assert.Len(t, body.Items[0].Values, 2)
	assert.Equal(t, "next", body.NextPageToken)
	assert.Equal(t, 3, body.Total)
	assert.Equal(t, []string{"Color", "Size"}, body.OptionTitles)
	assert.NotNil(t, body.IncompleteVariantIDs)
}

func TestAdminVariantHandlers_ListMissingRejectsBadPageSize(t *testing.T) {
	router := newVariantRouter(t, &stubVariantGeneration{})

	req := httptest.NewRequest(http.MethodGet, "/products/prod_1/variant-generation?pageSize=abc", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_request", decodeError(t, rr).Error)
}

func TestAdminVariantHandlers_CreateVariants(t *testing.T) {
	created := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	svc := &stubVariantGeneration{created: []services.ProductVariant{{
		ID:        "variant_1",
		ProductID: "prod_1",
		Title:     "Green / M",
		Options:   []domain.VariantOptionSelection{{OptionID: "opt_color", OptionValueID: "val_green", Value: "Green"}},
		Prices:    []domain.Price{{ID: "price_1", CurrencyCode: "usd", Amount: 1299}},
		CreatedAt: created,
	}}}
	router := newVariantRouter(t, svc)

	payload := `{"variants":[{"draft_id":"opt_color:Green|opt_size:M","title":"Green / M","sku":null,"manage_inventory":true,"prices":{"usd":"12.99","reg_eu":10}}]}`
	req := httptest.NewRequest(http.MethodPost, "/products/prod_1/variant-generation", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "prod_1", svc.createCmd.ProductID)
	assert.Equal(t, "staff-1", svc.createCmd.ActorID)
	require.Len(t, svc.createCmd.Variants, 1)
	input := svc.createCmd.Variants[0]
	assert.Equal(t, "opt_color:Green|opt_size:M", input.DraftID)
	assert.Equal(t, "Green / M", input.Title)
	assert.Empty(t, input.SKU)
	assert.True(t, input.ManageInventory)
	assert.Equal(t, "12.99", input.Prices["usd"])
	assert.Equal(t, json.Number("10"), input.Prices["reg_eu"])

	var body struct {
		Variants []struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Prices    []struct {
				CurrencyCode string `json:"currency_code"`
				Amount       int64  `json:"amount"`
			} `json:"prices"`
		} `json:"variants"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Variants, 1)
	assert.Equal(t, "variant_1", body.Variants[0].ID)
	assert.Equal(t, "2024-05-01T09:00:00Z", body.Variants[0].CreatedAt)
	assert.Equal(t, int64(1299), body.Variants[0].Prices[0].Amount)
}

func TestAdminVariantHandlers_CreateVariantsSchemaErrors(t *testing.T) {
	svc := &stubVariantGeneration{}
	router := newVariantRouter(t, svc)

	cases := map[string]string{
		"empty list":     `{"variants":[]}`,
		"missing draft":  `{"variants":[{"title":"x"}]}`,
		"unknown field":  `{"variants":[{"draft_id":"a","colour":"red"}]}`,
		"bad price key":  `{"variants":[{"draft_id":"a","prices":{"dollars":1}}]}`,
		"bad price type": `{"variants":[{"draft_id":"a","prices":{"usd":true}}]}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/products/prod_1/variant-generation", strings.NewReader(payload))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			require.Equal(t, http.StatusBadRequest, rr.Code)
			body := decodeError(t, rr)
			assert.Equal(t, "invalid_request", body.Error)
			assert.NotEmpty(t, body.Fields)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/products/prod_1/variant-generation", strings.NewReader(`{"variants":`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Zero(t, svc.creates)
}

func TestAdminVariantHandlers_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{err: &services.PriceInputError{Row: 0, Key: "usd", Message: "amount must be a number"}, status: http.StatusBadRequest, code: "invalid_price"},
		{err: fmt.Errorf("%w: draft missing", services.ErrVariantGenerationInvalidInput), status: http.StatusBadRequest, code: "invalid_request"},
		{err: services.ErrVariantGenerationNotFound, status: http.StatusNotFound, code: "product_not_found"},
		{err: services.ErrVariantGenerationUnknownDraft, status: http.StatusConflict, code: "unknown_draft"},
		{err: services.ErrVariantGenerationConflict, status: http.StatusConflict, code: "variant_conflict"},
		{err: services.ErrVariantGenerationUnavailable, status: http.StatusServiceUnavailable, code: "service_unavailable"},
		{err: errors.New("boom"), status: http.StatusInternalServerError, code: "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			router := newVariantRouter(t, &stubVariantGeneration{err: tc.err})
			payload := `{"variants":[{"draft_id":"a","prices":{"usd":"x"}}]}`
			req := httptest.NewRequest(http.MethodPost, "/products/prod_1/variant-generation", strings.NewReader(payload))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			require.Equal(t, tc.status, rr.Code)
			body := decodeError(t, rr)
			assert.Equal(t, tc.code, body.Error)
			if tc.code == "invalid_price" {
				require.Len(t, body.Fields, 1)
				assert.Equal(t, "variants.0.prices.usd", body.Fields[0].Field)
			}
		})
	}
}

func TestAdminVariantHandlers_CreateIsIdempotent(t *testing.T) {
	svc := &stubVariantGeneration{created: []services.ProductVariant{{ID: "variant_1", ProductID: "prod_1"}}}
	router := newVariantRouter(t, svc, WithIdempotency(idempotency.Middleware(idempotency.NewMemoryStore())))

	payload := `{"variants":[{"draft_id":"a"}]}`
	send := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/products/prod_1/variant-generation", strings.NewReader(payload))
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	first := send("key-1")
	require.Equal(t, http.StatusCreated, first.Code)
	second := send("key-1")
	require.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, svc.creates)

	missing := send("")
	assert.Equal(t, http.StatusBadRequest, missing.Code)
}

func TestAdminVariantHandlers_DismissAndRestore(t *testing.T) {
	svc := &stubVariantGeneration{}
	router := newVariantRouter(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/products/prod_1/variant-generation:dismiss", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"product_id":"prod_1","dismissed":true}`, rr.Body.String())
	assert.Equal(t, "staff-1", svc.dismissed["prod_1"])

	req = httptest.NewRequest(http.MethodPost, "/products/prod_1/variant-generation:restore", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"product_id":"prod_1","dismissed":false}`, rr.Body.String())
	assert.Equal(t, "staff-1", svc.restored["prod_1"])
}

func TestAdminVariantHandlers_PriceGrid(t *testing.T) {
	svc := &stubVariantGeneration{grid: services.PriceGrid{
		CurrencyColumns: []services.PriceGridColumn{{ID: "price_usd", Header: "Price USD", FieldKey: "prices.usd", Type: services.PriceGridColumnCurrency, CurrencyCode: "usd", Editable: true, TaxInclusive: true}},
		DetailColumns:   []services.PriceGridColumn{{ID: "title", Header: "Title", FieldKey: "title", Type: services.PriceGridColumnReadOnly}},
	}}
	router := newVariantRouter(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/products/prod_1/variant-generation/price-grid", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		CurrencyColumns []map[string]any `json:"currency_columns"`
		RegionColumns   []map[string]any `json:"region_columns"`
		DetailColumns   []map[string]any `json:"detail_columns"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.CurrencyColumns, 1)
	assert.Equal(t, "currency", body.CurrencyColumns[0]["type"])
	assert.Equal(t, true, body.CurrencyColumns[0]["tax_inclusive"])
	assert.NotNil(t, body.RegionColumns)
	assert.Empty(t, body.RegionColumns)
	assert.Equal(t, "readonly", body.DetailColumns[0]["type"])
}

func TestAdminVariantHandlers_NilServiceUnavailable(t *testing.T) {
	router := newVariantRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/products/prod_1/variant-generation/price-grid", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
