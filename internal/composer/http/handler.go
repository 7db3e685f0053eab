// Package composerhttp exposes order composition sessions over JSON.
package composerhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/backoffice/internal/catalog"
	"github.com/odyssey-erp/backoffice/internal/composer"
	"github.com/odyssey-erp/backoffice/internal/editor"
	"github.com/odyssey-erp/backoffice/internal/observability"
	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/pricing"
	"github.com/odyssey-erp/backoffice/internal/search"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Catalog lists counterparties and products.
type Catalog interface {
	SearchClients(ctx context.Context, filter search.Filter) ([]catalog.Party, error)
	SearchSuppliers(ctx context.Context, filter search.Filter) ([]catalog.Party, error)
	SearchProducts(ctx context.Context, filter search.Filter) ([]composer.CatalogProduct, error)
	GetClient(ctx context.Context, id int64) (catalog.Party, error)
	GetSupplier(ctx context.Context, id int64) (catalog.Party, error)
	GetProduct(ctx context.Context, id int64) (composer.CatalogProduct, error)
}

// OrderLoader loads stored orders to seed edit sessions.
type OrderLoader interface {
	Load(ctx context.Context, flow composer.FlowKind, id int64) (composer.PersistedOrder, error)
}

// Idempotency guards submits carrying an Idempotency-Key header.
type Idempotency interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Config wires a Handler.
type Config struct {
	Logger       *slog.Logger
	Catalog      Catalog
	Orders       OrderLoader
	Store        composer.OrderStore
	Resolver     *pricing.Resolver
	Idempotency  Idempotency
	Capabilities shared.Capabilities
	Search       search.Options
	Sessions     *SessionStore
	Metrics      *observability.Metrics
	Currency     string
	Locale       language.Tag
	// SearchRateLimit caps search keystrokes per client IP per second.
	SearchRateLimit int
}

// Handler serves /compositions.
type Handler struct {
	cfg      Config
	logger   *slog.Logger
	sessions *SessionStore
}

// NewHandler constructs a Handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Sessions == nil {
		cfg.Sessions = NewSessionStore(30*time.Minute, cfg.Metrics, cfg.Logger)
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.Locale == language.Und {
		cfg.Locale = language.English
	}
	if cfg.SearchRateLimit <= 0 {
		cfg.SearchRateLimit = 20
	}
	return &Handler{cfg: cfg, logger: cfg.Logger, sessions: cfg.Sessions}
}

// Sessions returns the session store.
func (h *Handler) Sessions() *SessionStore {
	return h.sessions
}

// MountRoutes attaches composition routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.open)
	r.Route("/{sessionID}", func(r chi.Router) {
		r.Get("/", h.show)
		r.Put("/counterparty", h.selectCounterparty)
		r.Delete("/counterparty", h.clearCounterparty)
		r.Post("/lines", h.addLine)
		r.Patch("/lines/{productID}", h.updateLine)
		r.Delete("/lines/{productID}", h.removeLine)
		r.Group(func(r chi.Router) {
			r.Use(httprate.Limit(h.cfg.SearchRateLimit, time.Second, httprate.WithKeyFuncs(httprate.KeyByIP)))
			r.Put("/search/{kind}", h.searchInput)
			r.Get("/search/{kind}", h.searchView)
			r.Post("/search/{kind}/select", h.searchSelect)
		})
		r.Post("/submit", h.submit)
		r.Post("/close", h.close)
		r.Post("/close/cancel", h.cancelClose)
	})
}

func (h *Handler) open(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if !h.bind(w, r, &req) {
		return
	}
	flow, err := composer.FlowByKind(composer.FlowKind(req.Flow))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	sess, err := h.openSession(r.Context(), flow, req.OrderID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.logger.Info("composer session opened",
		slog.String("session_id", sess.ID),
		slog.String("flow", string(flow.Kind)))
	h.writeSession(w, http.StatusCreated, sess)
}

func (h *Handler) openSession(ctx context.Context, flow composer.Flow, orderID *int64) (*Session, error) {
	notices := shared.NewNoticeBuffer(20)
	cfg := composer.Config{
		Flow:         flow,
		Store:        h.cfg.Store,
		Capabilities: h.cfg.Capabilities,
		Logger:       h.logger,
		Notifier:     notices,
	}
	if h.cfg.Resolver != nil {
		cfg.Resolver = h.cfg.Resolver.WithNotifier(notices)
	}

	var comp *composer.Composer
	if orderID == nil {
		if !h.cfg.Capabilities.Has(flow.CreatePerm) {
			return nil, forbidden(flow.CreatePerm)
		}
		comp = composer.New(cfg)
	} else {
		if !h.cfg.Capabilities.Has(flow.EditPerm) {
			return nil, forbidden(flow.EditPerm)
		}
		if h.cfg.Orders == nil {
			return nil, errors.New("composerhttp: order loader not configured")
		}
		order, err := h.cfg.Orders.Load(ctx, flow.Kind, *orderID)
		if err != nil {
			return nil, err
		}
		if comp, err = composer.NewForEdit(cfg, order); err != nil {
			return nil, err
		}
	}

	opts := h.cfg.Search
	opts.Logger = h.logger
	opts.Notifier = notices
	sessCtx, stop := context.WithCancel(context.Background())

	counterpartyKind := search.KindClient
	counterpartyQuery := h.cfg.Catalog.SearchClients
	if flow.Counterparty == composer.CounterpartySupplier {
		counterpartyKind = search.KindSupplier
		counterpartyQuery = h.cfg.Catalog.SearchSuppliers
	}
	sess := &Session{
		Composer: comp,
		Notices:  notices,
		Counterparties: search.NewField(sessCtx, counterpartyKind, search.ByName,
			observed(h.cfg.Metrics, counterpartyKind, search.Query[catalog.Party](counterpartyQuery)), opts),
		Products: search.NewField(sessCtx, search.KindProduct, search.ByName,
			observed(h.cfg.Metrics, search.KindProduct, comp.ProductQuery(h.cfg.Catalog.SearchProducts)), opts),
		stop: stop,
	}
	h.sessions.add(sess)
	return sess, nil
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	h.writeSession(w, http.StatusOK, sess)
}

func (h *Handler) selectCounterparty(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req counterpartyRequest
	if !h.bind(w, r, &req) {
		return
	}
	flow := sess.Composer.Flow()
	getParty := h.cfg.Catalog.GetClient
	if flow.Counterparty == composer.CounterpartySupplier {
		getParty = h.cfg.Catalog.GetSupplier
	}
	party, err := getParty(r.Context(), req.ID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := sess.Composer.SelectCounterparty(toCounterparty(party, flow.Counterparty)); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeSession(w, http.StatusOK, sess)
}

func (h *Handler) clearCounterparty(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := sess.Composer.ClearCounterparty(); err != nil {
		h.respondError(w, r, err)
		return
	}
	sess.Products.Reset()
	h.writeSession(w, http.StatusOK, sess)
}

func (h *Handler) addLine(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req addLineRequest
	if !h.bind(w, r, &req) {
		return
	}
	if err := sess.Composer.RequireCounterparty(); err != nil {
		h.respondError(w, r, err)
		return
	}
	product, err := h.cfg.Catalog.GetProduct(r.Context(), req.ProductID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	added, err := sess.Composer.AddProduct(product)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	h.writeSession(w, status, sess)
}

func (h *Handler) updateLine(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	var req updateLineRequest
	if !h.bind(w, r, &req) {
		return
	}
	update := composer.LineUpdate{
		Quantity:           req.Quantity,
		Weight:             req.Weight,
		UnitPrice:          req.UnitPrice,
		DiscountPercentage: req.DiscountPercentage,
	}
	if err := sess.Composer.UpdateLine(productID, update); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeSession(w, http.StatusOK, sess)
}

func (h *Handler) removeLine(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	if err := sess.Composer.RemoveLine(productID); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeSession(w, http.StatusOK, sess)
}

func (h *Handler) searchInput(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	kind, ok := h.searchKind(w, r, sess)
	if !ok {
		return
	}
	var req searchRequest
	if !h.bind(w, r, &req) {
		return
	}
	by := search.By(req.By)
	if by != "" && !catalog.Supports(kind, by) {
		h.respondError(w, r, catalog.ErrUnsupportedFilter)
		return
	}
	if kind == search.KindProduct {
		if err := sess.Composer.RequireCounterparty(); err != nil {
			h.respondError(w, r, err)
			return
		}
		sess.Products.SetBy(by)
		sess.Products.Input(req.Text)
	} else {
		sess.Counterparties.SetBy(by)
		sess.Counterparties.Input(req.Text)
	}
	h.writeSearch(w, http.StatusAccepted, sess, kind)
}

func (h *Handler) searchView(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	kind, ok := h.searchKind(w, r, sess)
	if !ok {
		return
	}
	h.writeSearch(w, http.StatusOK, sess, kind)
}

func (h *Handler) searchSelect(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	kind, ok := h.searchKind(w, r, sess)
	if !ok {
		return
	}
	var req selectRequest
	if !h.bind(w, r, &req) {
		return
	}
	status := http.StatusOK
	if kind == search.KindProduct {
		product, found := sess.Products.Find(func(p composer.CatalogProduct) bool { return p.ID == req.ID })
		if !found {
			h.respondError(w, r, notInResults(req.ID))
			return
		}
		added, err := sess.Composer.AddProduct(sess.Products.Select(product))
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		if added {
			status = http.StatusCreated
		}
	} else {
		party, found := sess.Counterparties.Find(func(p catalog.Party) bool { return p.ID == req.ID })
		if !found {
			h.respondError(w, r, notInResults(req.ID))
			return
		}
		flow := sess.Composer.Flow()
		if err := sess.Composer.SelectCounterparty(toCounterparty(sess.Counterparties.Select(party), flow.Counterparty)); err != nil {
			h.respondError(w, r, err)
			return
		}
	}
	h.writeSession(w, status, sess)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	key := r.Header.Get("Idempotency-Key")
	module := "composer." + string(sess.Composer.Flow().Kind)
	if key != "" && h.cfg.Idempotency != nil {
		if err := h.cfg.Idempotency.CheckAndInsert(r.Context(), key, module); err != nil {
			h.respondError(w, r, err)
			return
		}
	}
	order, err := sess.Composer.Submit(r.Context())
	if err != nil {
		if key != "" && h.cfg.Idempotency != nil {
			if delErr := h.cfg.Idempotency.Delete(r.Context(), key); delErr != nil {
				h.logger.Warn("release idempotency key", slog.Any("error", delErr))
			}
		}
		h.respondError(w, r, err)
		return
	}
	h.sessions.Remove(sess.ID)
	httpx.JSON(w, http.StatusCreated, submitResponse{
		Order:        order,
		TotalDisplay: shared.FormatAmount(order.Total, h.cfg.Currency, h.cfg.Locale),
	})
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req closeRequest
	if r.ContentLength != 0 {
		if !h.bind(w, r, &req) {
			return
		}
	}
	state := sess.Composer.State()
	var err error
	if state != editor.StateConfirmingDiscard {
		state, err = sess.Composer.RequestClose()
	}
	if err == nil && state == editor.StateConfirmingDiscard && req.Confirm {
		state, err = sess.Composer.ConfirmDiscard()
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if state == editor.StateClosed {
		h.sessions.Remove(sess.ID)
		httpx.JSON(w, http.StatusOK, map[string]any{"id": sess.ID, "state": state})
		return
	}
	h.writeSession(w, http.StatusOK, sess)
}

func (h *Handler) cancelClose(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if _, err := sess.Composer.CancelDiscard(); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeSession(w, http.StatusOK, sess)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sess, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondError(w, r, err)
		return nil, false
	}
	return sess, true
}

func (h *Handler) productID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.ValidationProblem(w, []httpx.FieldProblem{{Field: "product_id", Message: "must be a positive integer"}})
		return 0, false
	}
	return id, true
}

func (h *Handler) searchKind(w http.ResponseWriter, r *http.Request, sess *Session) (search.Kind, bool) {
	kind := search.Kind(chi.URLParam(r, "kind"))
	if kind == search.KindProduct || kind == sess.Counterparties.Kind() {
		return kind, true
	}
	httpx.ValidationProblem(w, []httpx.FieldProblem{{Field: "kind", Message: "cannot search " + string(kind) + " here"}})
	return "", false
}

func (h *Handler) bind(w http.ResponseWriter, r *http.Request, target any) bool {
	problems, err := httpx.Bind(r, target)
	if err != nil {
		h.respondError(w, r, err)
		return false
	}
	if len(problems) > 0 {
		httpx.ValidationProblem(w, problems)
		return false
	}
	return true
}

func (h *Handler) writeSession(w http.ResponseWriter, status int, sess *Session) {
	snap := sess.Composer.Snapshot()
	httpx.JSON(w, status, sessionResponse{
		ID:           sess.ID,
		Composition:  snap,
		TotalDisplay: shared.FormatAmount(snap.Total, h.cfg.Currency, h.cfg.Locale),
		Notices:      sess.Notices.Drain(),
	})
}

func (h *Handler) writeSearch(w http.ResponseWriter, status int, sess *Session, kind search.Kind) {
	resp := searchResponse{Notices: sess.Notices.Drain()}
	if kind == search.KindProduct {
		view := sess.Products.View()
		resp.Products = &view
	} else {
		view := sess.Counterparties.View()
		resp.Counterparties = &view
	}
	httpx.JSON(w, status, resp)
}

func toCounterparty(p catalog.Party, kind composer.CounterpartyKind) composer.Counterparty {
	return composer.Counterparty{ID: p.ID, Name: p.Name, Kind: kind}
}

func observed[T any](metrics *observability.Metrics, kind search.Kind, query search.Query[T]) search.Query[T] {
	return func(ctx context.Context, filter search.Filter) ([]T, error) {
		items, err := query(ctx, filter)
		status := string(search.StateCompleted)
		switch {
		case errors.Is(err, context.Canceled):
			status = "cancelled"
		case err != nil:
			status = string(search.StateError)
		case len(items) == 0:
			status = string(search.StateEmpty)
		}
		metrics.ObserveSearch(string(kind), status)
		return items, err
	}
}
