package composerhttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/catalog"
	"github.com/odyssey-erp/backoffice/internal/composer"
	"github.com/odyssey-erp/backoffice/internal/editor"
	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/pricing"
	"github.com/odyssey-erp/backoffice/internal/search"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// ============================================================================
// STUBS
// ============================================================================

type stubCatalog struct {
	clients   []catalog.Party
	suppliers []catalog.Party
	products  []composer.CatalogProduct
	searchErr error

	mu      sync.Mutex
	filters []search.Filter
}

func (c *stubCatalog) record(f search.Filter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = append(c.filters, f)
}

func (c *stubCatalog) SearchClients(ctx context.Context, f search.Filter) ([]catalog.Party, error) {
	c.record(f)
	return c.clients, c.searchErr
}

func (c *stubCatalog) SearchSuppliers(ctx context.Context, f search.Filter) ([]catalog.Party, error) {
	c.record(f)
	return c.suppliers, c.searchErr
}

func (c *stubCatalog) SearchProducts(ctx context.Context, f search.Filter) ([]composer.CatalogProduct, error) {
	c.record(f)
	return c.products, c.searchErr
}

func findParty(parties []catalog.Party, id int64) (catalog.Party, error) {
	for _, p := range parties {
		if p.ID == id {
			return p, nil
		}
	}
	return catalog.Party{}, shared.ErrNotFound
}

func (c *stubCatalog) GetClient(ctx context.Context, id int64) (catalog.Party, error) {
	return findParty(c.clients, id)
}

func (c *stubCatalog) GetSupplier(ctx context.Context, id int64) (catalog.Party, error) {
	return findParty(c.suppliers, id)
}

func (c *stubCatalog) GetProduct(ctx context.Context, id int64) (composer.CatalogProduct, error) {
	for _, p := range c.products {
		if p.ID == id {
			return p, nil
		}
	}
	return composer.CatalogProduct{}, shared.ErrNotFound
}

type stubStore struct {
	err     error
	created []composer.Submission
}

func (s *stubStore) Create(ctx context.Context, sub composer.Submission) (composer.PersistedOrder, error) {
	if s.err != nil {
		return composer.PersistedOrder{}, s.err
	}
	s.created = append(s.created, sub)
	return composer.PersistedOrder{ID: 7, Number: "OR-000007", Flow: sub.Flow, Total: decimal.NewFromInt(450)}, nil
}

func (s *stubStore) Update(ctx context.Context, id int64, sub composer.Submission) (composer.PersistedOrder, error) {
	return composer.PersistedOrder{ID: id, Flow: sub.Flow}, s.err
}

type stubSource map[int64]*pricing.Offer

func (s stubSource) BestDiscount(ctx context.Context, q pricing.Query) (*pricing.Offer, error) {
	return s[q.ProductID], nil
}

type stubIdempotency struct {
	keys    map[string]bool
	deleted []string
}

func (s *stubIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if s.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	s.keys[key] = true
	return nil
}

func (s *stubIdempotency) Delete(ctx context.Context, key string) error {
	delete(s.keys, key)
	s.deleted = append(s.deleted, key)
	return nil
}

// immediateClock fires debounce callbacks right away on another goroutine.
type immediateClock struct{}

type noopTimer struct{}

func (noopTimer) Stop() bool { return false }

func (immediateClock) AfterFunc(d time.Duration, f func()) search.Timer {
	go f()
	return noopTimer{}
}

// ============================================================================
// HELPERS
// ============================================================================

type fixture struct {
	router  http.Handler
	handler *Handler
	catalog *stubCatalog
	store   *stubStore
	idem    *stubIdempotency
}

func newFixture(t *testing.T, caps shared.Capabilities) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cat := &stubCatalog{
		clients:   []catalog.Party{{ID: 10, Code: "C-10", Name: "ACME"}},
		suppliers: []catalog.Party{{ID: 20, Code: "S-20", Name: "Globex"}},
		products: []composer.CatalogProduct{
			{ID: 1, Name: "Widget", Price: decimal.NewFromInt(100)},
			{ID: 2, Name: "Gadget", Price: decimal.NewFromInt(12)},
		},
	}
	minQty := decimal.NewFromInt(5)
	source := stubSource{1: {ID: 3, Percentage: decimal.NewFromInt(10), MinimumQuantity: &minQty}}
	store := &stubStore{}
	idem := &stubIdempotency{keys: make(map[string]bool)}
	h := NewHandler(Config{
		Logger:       logger,
		Catalog:      cat,
		Store:        store,
		Resolver:     pricing.NewResolver(source, nil, logger, nil, nil),
		Idempotency:  idem,
		Capabilities: caps,
		Search:       search.Options{Clock: immediateClock{}},
		Sessions:     NewSessionStore(time.Hour, nil, logger),
		// Polling below would otherwise trip the limiter.
		SearchRateLimit: 10000,
	})
	r := chi.NewRouter()
	r.Route("/compositions", h.MountRoutes)
	t.Cleanup(func() {
		h.Sessions().closeAll()
	})
	return &fixture{router: r, handler: h, catalog: cat, store: store, idem: idem}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decodeSession(t *testing.T, rr *httptest.ResponseRecorder) sessionResponse {
	t.Helper()
	var resp sessionResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp), rr.Body.String())
	return resp
}

func decodeProblem(t *testing.T, rr *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	var p httpx.ProblemDetail
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&p))
	return p
}

func (f *fixture) open(t *testing.T, flow string) string {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/compositions/", `{"flow":"`+flow+`"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decodeSession(t, rr).ID
}

func (f *fixture) wait(t *testing.T, id string) {
	t.Helper()
	sess, err := f.handler.Sessions().Get(id)
	require.NoError(t, err)
	sess.Composer.Wait()
}

// ============================================================================
// TESTS
// ============================================================================

func TestOpenAndShow(t *testing.T) {
	f := newFixture(t, shared.NewCapabilities("*"))
	id := f.open(t, "order_request")

	rr := f.do(t, http.MethodGet, "/compositions/"+id, "")
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeSession(t, rr)
	assert.Equal(t, composer.FlowOrderRequest, resp.Composition.Flow)
	assert.Equal(t, editor.StateClean, resp.Composition.State)
	assert.Empty(t, resp.Composition.Lines)
}

func TestOpenRejectsUnknownFlow(t *testing.T) {
	f := newFixture(t, shared.NewCapabilities("*"))

	rr := f.do(t, http.MethodPost, "/compositions/", `{"flow":"invoice"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "flow", decodeProblem(t, rr).Problems[0].Field)
}

func TestOpenRequiresCapability(t *testing.T) {
	f := newFixture(t, shared.NewCapabilities(shared.PermPurchaseCreate))

	rr := f.do(t, http.MethodPost, "/compositions/", `{"flow":"order_request"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestUnknownSessionIsNotFound(t *testing.T) {
	f := newFixture(t, shared.NewCapabilities("*"))

	rr := f.do(t, http.MethodGet, "/compositions/missing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAddLineWithoutCounterparty(t *testing.T) {
	f := newFixture(t, shared.NewCapabilities("*"))
	id := f.open(t, "order_request")

	rr := f.do(t, http.MethodPost, "/compositions/"+id+"/lines", `{"product_id":1}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "counterparty", decodeProblem(t, rr).Problems[0].Field)

	rr = f.do(t, http.MethodPut, "/compositions/"+id+"/search/product", `{"text":"wid"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestComposeAndSubmit(t *testing.T) {
	f := newFixture(t, shared.NewCapabilities("*"))
	id := f.open(t, "order_request")

	rr := f.do(t, http.MethodPut, "/compositions/"+id+"/counterparty", `{"id":10}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = f.do(t, http.MethodPost, "/compositions/"+id+"/lines", `{"product_id":1}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	f.wait(t, id)

	rr = f.do(t, http.MethodPost, "/compositions/"+id+"/lines", `{"product_id":1}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodPatch, "/compositions/"+id+"/lines/1", `{"quantity":"5"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decodeSession(t, rr)
	require.Len(t, resp.Composition.Lines, 1)
	line := resp.Composition.Lines[0]
	assert.True(t, decimal.NewFromInt(10).Equal(line.EffectiveDiscount))
	assert.True(t, decimal.NewFromInt(450).Equal(resp.Composition.Total))
	assert.Equal(t, editor.StateDirty, resp.Composition.State)
	assert.Contains(t, resp.TotalDisplay, "450.00")

	req := httptest.NewRequest(http.MethodPost, "/compositions/"+id+"/submit", nil)
	req.Header.Set("Idempotency-Key", "k-1")
	rr = httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	require.Len(t, f.store.created, 1)
	sub := f.store.created[0]
	assert.Equal(t, int64(10), sub.CounterpartyID)
	require.NotNil(t, sub.Lines[0].Discount)
	assert.True(t, decimal.NewFromInt(10).Equal(*sub.Lines[0].Discount))
	assert.True(t, f.idem.keys["k-1"])

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/compositions/"+id, "").Code)
}

func TestSubmitPersistenceErrorIsUnprocessable(t *testing.T) {
	f := newFixture(t, shared.NewCapabilities("*"))
	f.store.err = &composer.PersistenceError{Field: "lines", Message: "Widget is discontinued"}
	id := f.open(t, "order_request")
	f.do(t, http.MethodPut, "/compositions/"+id+"/counterparty", `{"id":10}`)
	f.do(t, http.MethodPost, "/compositions/"+id+"/lines", `{"product_id":2}`)
	f.wait(t, id)

	req := httptest.NewRequest(http.MethodPost, "/compositions/"+id+"/submit", nil)
	req.Header.Set("Idempotency-Key", "k-2")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	problem := decodeProblem(t, rr)
	assert.Equal(t, "Widget is discontinued", problem.Detail)
	assert.Equal(t, "lines", problem.Field)
	assert.Equal(t, []string{"k-2"}, f.idem.deleted)

	rr = f.do(t, http.MethodGet, "/compositions/"+id, "")
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeSession(t, rr)
	assert.Len(t, resp.Composition.Lines, 1)
	require.NotEmpty(t, resp.Notices)
	assert.Equal(t, shared.NoticeError, resp.Notices[0].Level)
}

func TestSubmitValidationProblems(t *testing.T) {
	f := newFixture(t, shared.NewCapabilities("*"))
	id := f.open(t, "order_request")

	rr := f.do(t, http.MethodPost, "/compositions/"+id+"/submit", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	problem := decodeProblem(t, rr)
	require.Len(t, problem.Problems, 2)
	assert.Equal(t, "counterparty", problem.Problems[0].Field)
	assert.Equal(t, "lines", problem.Problems[1].Field)
}

func TestSearchSelectsCounterpartyAndProduct(t *testing.T) {
	f := newFixture(t, shared.NewCapabilities("*"))
	id := f.open(t, "purchase")

	rr := f.do(t, http.MethodPut, "/compositions/"+id+"/search/client", `{"text":"ac"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPut, "/compositions/"+id+"/search/supplier", `{"text":"glo","by":"name"}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	require.Eventually(t, func() bool {
		rr := f.do(t, http.MethodGet, "/compositions/"+id+"/search/supplier", "")
		var resp searchResponse
		_ = json.NewDecoder(rr.Body).Decode(&resp)
		return resp.Counterparties != nil && resp.Counterparties.State == search.StateCompleted
	}, time.Second, 5*time.Millisecond)

	rr = f.do(t, http.MethodPost, "/compositions/"+id+"/search/supplier/select", `{"id":20}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decodeSession(t, rr)
	require.NotNil(t, resp.Composition.Counterparty)
	assert.Equal(t, composer.CounterpartySupplier, resp.Composition.Counterparty.Kind)

	rr = f.do(t, http.MethodPut, "/compositions/"+id+"/search/product", `{"text":"gad","by":"barcode"}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Eventually(t, func() bool {
		rr := f.do(t, http.MethodGet, "/compositions/"+id+"/search/product", "")
		var resp searchResponse
		_ = json.NewDecoder(rr.Body).Decode(&resp)
		return resp.Products != nil && resp.Products.State == search.StateCompleted
	}, time.Second, 5*time.Millisecond)

	rr = f.do(t, http.MethodPost, "/compositions/"+id+"/search/product/select", `{"id":2}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Len(t, decodeSession(t, rr).Composition.Lines, 1)

	rr = f.do(t, http.MethodPost, "/compositions/"+id+"/search/product/select", `{"id":2}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	f.catalog.mu.Lock()
	defer f.catalog.mu.Unlock()
	last := f.catalog.filters[len(f.catalog.filters)-1]
	assert.Equal(t, search.Filter{Kind: search.KindProduct, By: search.ByBarcode, Term: "gad", Page: 1, PageSize: search.PageSize}, last)
}

func TestSearchRejectsUnsupportedFilter(t *testing.T) {
	f := newFixture(t, shared.NewCapabilities("*"))
	id := f.open(t, "order_request")

	rr := f.do(t, http.MethodPut, "/compositions/"+id+"/search/client", `{"text":"ac","by":"barcode"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSearchFailureReportsNotice(t *testing.T) {
	f := newFixture(t, shared.NewCapabilities("*"))
	f.catalog.searchErr = errors.New("catalog down")
	id := f.open(t, "order_request")

	f.do(t, http.MethodPut, "/compositions/"+id+"/search/client", `{"text":"acme"}`)
	var resp searchResponse
	require.Eventually(t, func() bool {
		rr := f.do(t, http.MethodGet, "/compositions/"+id+"/search/client", "")
		resp = searchResponse{}
		_ = json.NewDecoder(rr.Body).Decode(&resp)
		return resp.Counterparties != nil && resp.Counterparties.State == search.StateError
	}, time.Second, 5*time.Millisecond)
	assert.NotEmpty(t, resp.Counterparties.Error)
}

func TestOverrideForbidden(t *testing.T) {
	f := newFixture(t, shared.NewCapabilities(shared.PermOrderRequestCreate))
	id := f.open(t, "order_request")
	f.do(t, http.MethodPut, "/compositions/"+id+"/counterparty", `{"id":10}`)
	f.do(t, http.MethodPost, "/compositions/"+id+"/lines", `{"product_id":2}`)
	f.wait(t, id)

	rr := f.do(t, http.MethodPatch, "/compositions/"+id+"/lines/2", `{"unit_price":"1"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(t, http.MethodPatch, "/compositions/"+id+"/lines/99", `{"quantity":"1"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, http.MethodPatch, "/compositions/"+id+"/lines/abc", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUpdateLineIsAllOrNothing(t *testing.T) {
	f := newFixture(t, shared.NewCapabilities(shared.PermOrderRequestCreate))
	id := f.open(t, "order_request")
	f.do(t, http.MethodPut, "/compositions/"+id+"/counterparty", `{"id":10}`)
	f.do(t, http.MethodPost, "/compositions/"+id+"/lines", `{"product_id":2}`)
	f.wait(t, id)

	rr := f.do(t, http.MethodPatch, "/compositions/"+id+"/lines/2", `{"quantity":"7","unit_price":"1"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(t, http.MethodPatch, "/compositions/"+id+"/lines/2", `{"quantity":"7","weight":"-1"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodGet, "/compositions/"+id, "")
	require.Equal(t, http.StatusOK, rr.Code)
	lines := decodeSession(t, rr).Composition.Lines
	require.Len(t, lines, 1)
	assert.True(t, lines[0].Quantity.Equal(decimal.NewFromInt(1)), "quantity now %s", lines[0].Quantity)
	assert.True(t, lines[0].UnitPrice.Equal(decimal.NewFromInt(12)))
	assert.True(t, lines[0].Weight.IsZero())

	rr = f.do(t, http.MethodPatch, "/compositions/"+id+"/lines/2", `{"quantity":"7","weight":"2.5"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	lines = decodeSession(t, rr).Composition.Lines
	assert.True(t, lines[0].Quantity.Equal(decimal.NewFromInt(7)))
	assert.True(t, lines[0].Weight.Equal(decimal.RequireFromString("2.5")))
}

func TestCloseDirtyNeedsConfirmation(t *testing.T) {
	f := newFixture(t, shared.NewCapabilities("*"))
	id := f.open(t, "order_request")
	f.do(t, http.MethodPut, "/compositions/"+id+"/counterparty", `{"id":10}`)

	rr := f.do(t, http.MethodPost, "/compositions/"+id+"/close", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, editor.StateConfirmingDiscard, decodeSession(t, rr).Composition.State)

	rr = f.do(t, http.MethodPost, "/compositions/"+id+"/close/cancel", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, editor.StateDirty, decodeSession(t, rr).Composition.State)

	rr = f.do(t, http.MethodPost, "/compositions/"+id+"/close", `{"confirm":true}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, f.handler.Sessions().Len())
}

func TestCloseCleanClosesImmediately(t *testing.T) {
	f := newFixture(t, shared.NewCapabilities("*"))
	id := f.open(t, "purchase")

	rr := f.do(t, http.MethodPost, "/compositions/"+id+"/close", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/compositions/"+id, "").Code)
}
