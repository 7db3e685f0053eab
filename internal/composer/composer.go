// Package composer builds order requests and purchases line by line:
// counterparty selection, product lines, discount lookup and totals.
package composer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/editor"
	"github.com/odyssey-erp/backoffice/internal/pricing"
	"github.com/odyssey-erp/backoffice/internal/search"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// ErrSubmitInProgress is returned when Submit is called while a previous
// submission has not returned yet.
var ErrSubmitInProgress = errors.New("composer: submission in progress")

// DiscountResolver looks up the best discount. It never fails: a failed
// lookup reports ok=false.
type DiscountResolver interface {
	Resolve(ctx context.Context, q pricing.Query) (pricing.Offer, bool)
}

// OrderStore persists compositions.
type OrderStore interface {
	Create(ctx context.Context, sub Submission) (PersistedOrder, error)
	Update(ctx context.Context, id int64, sub Submission) (PersistedOrder, error)
}

// Config wires a Composer.
type Config struct {
	Flow         Flow
	Resolver     DiscountResolver
	Store        OrderStore
	Capabilities shared.Capabilities
	Logger       *slog.Logger
	Notifier     shared.Notifier
}

type pendingLookup struct {
	token  uint64
	cancel context.CancelFunc
}

// Composer owns one add/edit session. It is safe for concurrent use.
type Composer struct {
	flow     Flow
	resolver DiscountResolver
	store    OrderStore
	caps     shared.Capabilities
	logger   *slog.Logger
	notifier shared.Notifier

	mu           sync.Mutex
	counterparty *Counterparty
	registry     *Registry
	editor       *editor.Machine
	orderID      *int64
	pending      map[int64]pendingLookup
	submitting   bool
	closed       bool

	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// New returns an empty composer for a new order.
func New(cfg Config) *Composer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Composer{
		flow:     cfg.Flow,
		resolver: cfg.Resolver,
		store:    cfg.Store,
		caps:     cfg.Capabilities,
		logger:   logger.With(slog.String("flow", string(cfg.Flow.Kind))),
		notifier: cfg.Notifier,
		registry: NewRegistry(cfg.Flow),
		editor:   editor.New(),
		pending:  make(map[int64]pendingLookup),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// NewForEdit seeds a composer from a stored order. Stored prices and
// discounts are taken as-is; no lookups are started.
func NewForEdit(cfg Config, order PersistedOrder) (*Composer, error) {
	if order.Flow != cfg.Flow.Kind {
		return nil, fmt.Errorf("composer: order %d is a %s, not a %s", order.ID, order.Flow, cfg.Flow.Kind)
	}
	if order.Counterparty.Kind != cfg.Flow.Counterparty {
		return nil, fmt.Errorf("composer: order %d has a %s counterparty", order.ID, order.Counterparty.Kind)
	}
	c := New(cfg)
	id := order.ID
	cp := order.Counterparty
	c.orderID = &id
	c.counterparty = &cp
	for _, line := range order.Lines {
		c.registry.Seed(line)
	}
	return c, nil
}

// Flow returns the flow the composer serves.
func (c *Composer) Flow() Flow {
	return c.flow
}

// OrderID returns the edited order, if any.
func (c *Composer) OrderID() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.orderID == nil {
		return 0, false
	}
	return *c.orderID, true
}

// Counterparty returns the selected counterparty.
func (c *Composer) Counterparty() (Counterparty, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counterparty == nil {
		return Counterparty{}, false
	}
	return *c.counterparty, true
}

// RequireCounterparty returns ErrNoCounterparty when none is selected.
func (c *Composer) RequireCounterparty() error {
	if _, ok := c.Counterparty(); !ok {
		return ErrNoCounterparty
	}
	return nil
}

// SelectCounterparty stores cp. Selecting a different counterparty drops
// every line and pending lookup.
func (c *Composer) SelectCounterparty(cp Counterparty) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpenLocked(); err != nil {
		return err
	}
	if cp.Kind == "" {
		cp.Kind = c.flow.Counterparty
	}
	if cp.Kind != c.flow.Counterparty {
		return newValidationError("counterparty", fmt.Sprintf("a %s is required", c.flow.Counterparty))
	}
	if cp.ID <= 0 {
		return newValidationError("counterparty", "invalid id")
	}
	if c.counterparty != nil && c.counterparty.sameAs(cp) {
		c.counterparty.Name = cp.Name
		return nil
	}
	if c.registry.Len() > 0 {
		c.notify(shared.NoticeInfo, "Lines were cleared because the counterparty changed.")
	}
	c.clearLinesLocked()
	c.counterparty = &cp
	c.touchLocked()
	return nil
}

// ClearCounterparty removes the counterparty and every line.
func (c *Composer) ClearCounterparty() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpenLocked(); err != nil {
		return err
	}
	if c.counterparty == nil && c.registry.Len() == 0 {
		return nil
	}
	c.clearLinesLocked()
	c.counterparty = nil
	c.touchLocked()
	return nil
}

// AddProduct inserts a line for p. Adding a product that is already present
// is a no-op and returns false.
func (c *Composer) AddProduct(p CatalogProduct) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpenLocked(); err != nil {
		return false, err
	}
	if c.counterparty == nil {
		return false, ErrNoCounterparty
	}
	lookup := c.flow.ResolveDiscounts && c.resolver != nil
	token, added := c.registry.Add(p, lookup)
	if !added {
		return false, nil
	}
	c.touchLocked()
	if lookup {
		c.startLookupLocked(p.ID, token)
	}
	return true, nil
}

func (c *Composer) startLookupLocked(productID int64, token uint64) {
	q := pricing.Query{
		ProductID:        productID,
		CounterpartyKind: string(c.counterparty.Kind),
		CounterpartyID:   c.counterparty.ID,
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.pending[productID] = pendingLookup{token: token, cancel: cancel}
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		defer cancel()
		offer, found := c.resolver.Resolve(ctx, q)

		c.mu.Lock()
		defer c.mu.Unlock()
		if p, ok := c.pending[productID]; ok && p.token == token {
			delete(c.pending, productID)
		}
		if !c.registry.ApplyOffer(productID, token, offer, found) {
			c.logger.Debug("stale discount lookup dropped", slog.Int64("product_id", productID))
		}
	}()
}

// RemoveLine deletes a line. A pending lookup for it is cancelled and its
// result, if delivered anyway, is dropped.
func (c *Composer) RemoveLine(productID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpenLocked(); err != nil {
		return err
	}
	if !c.registry.Remove(productID) {
		return fmt.Errorf("%w: %d", ErrLineNotFound, productID)
	}
	c.cancelLookupLocked(productID)
	c.touchLocked()
	return nil
}

// SetQuantity stores a normalised quantity and returns it.
func (c *Composer) SetQuantity(productID int64, v decimal.Decimal) (decimal.Decimal, error) {
	if err := c.UpdateLine(productID, LineUpdate{Quantity: &v}); err != nil {
		return decimal.Zero, err
	}
	return c.flow.NormalizeQuantity(v), nil
}

// SetWeight stores the line weight.
func (c *Composer) SetWeight(productID int64, v decimal.Decimal) error {
	return c.UpdateLine(productID, LineUpdate{Weight: &v})
}

// SetUnitPrice overrides the catalog price.
func (c *Composer) SetUnitPrice(productID int64, v decimal.Decimal) error {
	return c.UpdateLine(productID, LineUpdate{UnitPrice: &v})
}

// SetDiscountPercentage overrides the looked-up discount.
func (c *Composer) SetDiscountPercentage(productID int64, v decimal.Decimal) error {
	return c.UpdateLine(productID, LineUpdate{DiscountPercentage: &v})
}

// UpdateLine applies every field of u or none of them. Price and discount
// overrides need the flow's override capability.
func (c *Composer) UpdateLine(productID int64, u LineUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpenLocked(); err != nil {
		return err
	}
	if u.overrides() {
		if err := c.checkOverrideLocked(); err != nil {
			return err
		}
	}
	if err := c.registry.Update(productID, u); err != nil {
		return err
	}
	if u.Empty() {
		return nil
	}
	if u.DiscountPercentage != nil {
		c.cancelLookupLocked(productID)
	}
	c.touchLocked()
	return nil
}

// Line returns a copy of one line.
func (c *Composer) Line(productID int64) (Line, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Get(productID)
}

// Lines returns copies of all lines in insertion order.
func (c *Composer) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Lines()
}

// Total returns the order total, unrounded.
func (c *Composer) Total() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Total()
}

// State returns the editor state.
func (c *Composer) State() editor.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.editor.State()
}

// ProductQuery wraps a product search so it refuses to run without a counterparty.
func (c *Composer) ProductQuery(q search.Query[CatalogProduct]) search.Query[CatalogProduct] {
	return func(ctx context.Context, filter search.Filter) ([]CatalogProduct, error) {
		if err := c.RequireCounterparty(); err != nil {
			return nil, err
		}
		return q(ctx, filter)
	}
}

// Validate reports every problem that blocks submission.
func (c *Composer) Validate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validateLocked()
}

func (c *Composer) validateLocked() error {
	var problems []Problem
	if c.counterparty == nil {
		problems = append(problems, Problem{Field: "counterparty", Message: "select a counterparty first"})
	}
	if c.registry.Len() == 0 {
		problems = append(problems, Problem{Field: "lines", Message: "add at least one product"})
	}
	for _, line := range c.registry.Lines() {
		if !line.Quantity.IsPositive() {
			problems = append(problems, Problem{Field: fmt.Sprintf("lines.%d.quantity", line.ProductID), Message: "must be greater than zero"})
		}
		if !line.UnitPrice.IsPositive() {
			problems = append(problems, Problem{Field: fmt.Sprintf("lines.%d.unit_price", line.ProductID), Message: "must be greater than zero"})
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Submission serializes the composition after validating it.
func (c *Composer) Submission() (Submission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submissionLocked()
}

func (c *Composer) submissionLocked() (Submission, error) {
	if err := c.validateLocked(); err != nil {
		return Submission{}, err
	}
	includeWeight := c.flow.TracksWeight || c.orderID != nil
	lines := c.registry.Lines()
	items := make([]LineItem, 0, len(lines))
	for _, line := range lines {
		price := line.UnitPrice
		item := LineItem{ProductID: line.ProductID, Quantity: line.Quantity, UnitPrice: &price}
		if discount := line.EffectiveDiscount(); discount.IsPositive() {
			item.Discount = &discount
		}
		if includeWeight {
			weight := line.Weight
			item.Weight = &weight
		}
		items = append(items, item)
	}
	return Submission{Flow: c.flow.Kind, CounterpartyID: c.counterparty.ID, Lines: items}, nil
}

// Submit validates and persists the composition. On success the session
// is closed; on failure every line is kept so the user can resubmit.
func (c *Composer) Submit(ctx context.Context) (PersistedOrder, error) {
	c.mu.Lock()
	if err := c.checkOpenLocked(); err != nil {
		c.mu.Unlock()
		return PersistedOrder{}, err
	}
	if c.submitting {
		c.mu.Unlock()
		return PersistedOrder{}, ErrSubmitInProgress
	}
	perm := c.flow.CreatePerm
	if c.orderID != nil {
		perm = c.flow.EditPerm
	}
	if !c.caps.Has(perm) {
		c.mu.Unlock()
		return PersistedOrder{}, fmt.Errorf("%w: %s", shared.ErrForbidden, perm)
	}
	sub, err := c.submissionLocked()
	if err != nil {
		c.mu.Unlock()
		return PersistedOrder{}, err
	}
	var orderID *int64
	if c.orderID != nil {
		id := *c.orderID
		orderID = &id
	}
	c.submitting = true
	c.mu.Unlock()

	saved, err := c.persist(ctx, orderID, sub)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitting = false
	if err != nil {
		var perr *PersistenceError
		if errors.As(err, &perr) {
			c.logger.Info("order rejected", slog.String("field", perr.Field), slog.String("message", perr.Message))
			c.notify(shared.NoticeError, perr.Message)
		} else {
			c.logger.Error("order submit failed", slog.Any("error", err))
			c.notify(shared.NoticeError, "The order could not be saved. Please try again.")
		}
		return PersistedOrder{}, err
	}
	_, _ = c.editor.Fire(editor.EventSaved)
	c.shutdownLocked()
	c.logger.Info("order saved", slog.Int64("order_id", saved.ID), slog.Int("lines", len(sub.Lines)))
	return saved, nil
}

func (c *Composer) persist(ctx context.Context, orderID *int64, sub Submission) (PersistedOrder, error) {
	if c.store == nil {
		return PersistedOrder{}, errors.New("composer: no order store configured")
	}
	if orderID == nil {
		return c.store.Create(ctx, sub)
	}
	return c.store.Update(ctx, *orderID, sub)
}

// RequestClose asks to close the dialog. A clean session closes at once;
// a dirty one moves to ConfirmingDiscard.
func (c *Composer) RequestClose() (editor.State, error) {
	return c.fireClose(editor.EventRequestClose)
}

// ConfirmDiscard closes a dirty session, dropping its changes.
func (c *Composer) ConfirmDiscard() (editor.State, error) {
	return c.fireClose(editor.EventConfirmDiscard)
}

// CancelDiscard returns to editing.
func (c *Composer) CancelDiscard() (editor.State, error) {
	return c.fireClose(editor.EventCancelDiscard)
}

func (c *Composer) fireClose(ev editor.Event) (editor.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return editor.StateClosed, ErrClosed
	}
	state, err := c.editor.Fire(ev)
	if err != nil {
		return state, err
	}
	if state == editor.StateClosed {
		c.shutdownLocked()
	}
	return state, nil
}

// Close discards the session unconditionally and cancels pending lookups.
func (c *Composer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdownLocked()
}

// Closed reports whether the session has ended.
func (c *Composer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Wait blocks until every started discount lookup has settled.
func (c *Composer) Wait() {
	c.inflight.Wait()
}

func (c *Composer) checkOpenLocked() error {
	if c.closed {
		return ErrClosed
	}
	return nil
}

func (c *Composer) checkOverrideLocked() error {
	if c.flow.OverridePerm != "" && !c.caps.Has(c.flow.OverridePerm) {
		return fmt.Errorf("%w: %s", shared.ErrForbidden, c.flow.OverridePerm)
	}
	return nil
}

func (c *Composer) touchLocked() {
	_, _ = c.editor.Fire(editor.EventEdit)
}

func (c *Composer) cancelLookupLocked(productID int64) {
	if p, ok := c.pending[productID]; ok {
		p.cancel()
		delete(c.pending, productID)
	}
}

func (c *Composer) clearLinesLocked() {
	for id := range c.pending {
		c.cancelLookupLocked(id)
	}
	c.registry.Clear()
}

func (c *Composer) shutdownLocked() {
	if c.closed {
		return
	}
	c.closed = true
	c.clearLinesLocked()
	c.counterparty = nil
	c.cancel()
}

func (c *Composer) notify(level shared.NoticeLevel, message string) {
	if c.notifier == nil {
		return
	}
	c.notifier.Notify(c.ctx, shared.Notice{Level: level, Message: message})
}

// LineView is a line with its derived amounts.
type LineView struct {
	Line
	EffectiveDiscount decimal.Decimal `json:"effective_discount"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	ExceedsStock      bool            `json:"exceeds_stock"`
}

// Snapshot is a consistent read of the whole composition.
type Snapshot struct {
	Flow         FlowKind        `json:"flow"`
	OrderID      *int64          `json:"order_id,omitempty"`
	Counterparty *Counterparty   `json:"counterparty,omitempty"`
	Lines        []LineView      `json:"lines"`
	Total        decimal.Decimal `json:"total"`
	State        editor.State    `json:"state"`
	Closed       bool            `json:"closed"`
}

// Snapshot returns the composition with derived values under one lock.
func (c *Composer) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	lines := c.registry.Lines()
	views := make([]LineView, 0, len(lines))
	for _, line := range lines {
		views = append(views, LineView{
			Line:              line,
			EffectiveDiscount: line.EffectiveDiscount(),
			Subtotal:          line.Subtotal(),
			ExceedsStock:      line.ExceedsStock(),
		})
	}
	snap := Snapshot{
		Flow:   c.flow.Kind,
		Lines:  views,
		Total:  c.registry.Total(),
		State:  c.editor.State(),
		Closed: c.closed,
	}
	if c.orderID != nil {
		id := *c.orderID
		snap.OrderID = &id
	}
	if c.counterparty != nil {
		cp := *c.counterparty
		snap.Counterparty = &cp
	}
	return snap
}
