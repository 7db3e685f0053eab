package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/composer"
	"github.com/odyssey-erp/backoffice/internal/pricing"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Store is the persistence surface the service needs.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Load(ctx context.Context, flow composer.FlowKind, id int64) (composer.PersistedOrder, error)
}

// Publisher announces stored orders to other systems.
type Publisher interface {
	Publish(ctx context.Context, event SubmittedEvent) error
}

// Service stores compositions as order requests or purchases.
type Service struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the service. publisher may be nil.
func NewService(store Store, publisher Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, publisher: publisher, logger: logger, now: time.Now}
}

// Create stores a new order and returns it as persisted.
func (s *Service) Create(ctx context.Context, sub composer.Submission) (composer.PersistedOrder, error) {
	flow, err := s.check(sub)
	if err != nil {
		return composer.PersistedOrder{}, err
	}

	var (
		header  Header
		records []LineRecord
	)
	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lines, total, err := buildLines(ctx, tx, sub.Lines)
		if err != nil {
			return err
		}
		seq, err := tx.NextSequence(ctx, flow.Kind)
		if err != nil {
			return fmt.Errorf("next number: %w", err)
		}
		h := Header{
			Number:         fmt.Sprintf("%s-%06d", flow.NumberPrefix, seq),
			CounterpartyID: sub.CounterpartyID,
			Total:          total,
		}
		h.ID, err = tx.InsertOrder(ctx, flow.Kind, h)
		if err != nil {
			return err
		}
		for _, line := range lines {
			if err := tx.InsertLine(ctx, flow.Kind, h.ID, line); err != nil {
				return err
			}
		}
		if err := tx.RecordAudit(ctx, s.audit(flow.Kind, ActionCreated, h.ID, h, len(lines))); err != nil {
			return err
		}
		header, records = h, lines
		return nil
	})
	if err != nil {
		return composer.PersistedOrder{}, mapPgError(err)
	}
	return s.finish(ctx, flow, header, records, ActionCreated), nil
}

// Update replaces the header and lines of an existing order.
func (s *Service) Update(ctx context.Context, id int64, sub composer.Submission) (composer.PersistedOrder, error) {
	flow, err := s.check(sub)
	if err != nil {
		return composer.PersistedOrder{}, err
	}
	if id <= 0 {
		return composer.PersistedOrder{}, &composer.PersistenceError{Field: "order", Message: "order id is required"}
	}

	var (
		header  Header
		records []LineRecord
	)
	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lines, total, err := buildLines(ctx, tx, sub.Lines)
		if err != nil {
			return err
		}
		h := Header{ID: id, CounterpartyID: sub.CounterpartyID, Total: total}
		if err := tx.UpdateOrder(ctx, flow.Kind, h); err != nil {
			return err
		}
		if err := tx.DeleteLines(ctx, flow.Kind, id); err != nil {
			return err
		}
		for _, line := range lines {
			if err := tx.InsertLine(ctx, flow.Kind, id, line); err != nil {
				return err
			}
		}
		if err := tx.RecordAudit(ctx, s.audit(flow.Kind, ActionUpdated, id, h, len(lines))); err != nil {
			return err
		}
		header, records = h, lines
		return nil
	})
	if err != nil {
		return composer.PersistedOrder{}, mapPgError(err)
	}
	return s.finish(ctx, flow, header, records, ActionUpdated), nil
}

// Load returns a stored order for edit seeding.
func (s *Service) Load(ctx context.Context, flow composer.FlowKind, id int64) (composer.PersistedOrder, error) {
	return s.store.Load(ctx, flow, id)
}

func (s *Service) check(sub composer.Submission) (composer.Flow, error) {
	flow, err := composer.FlowByKind(sub.Flow)
	if err != nil {
		return composer.Flow{}, &composer.PersistenceError{Field: "flow", Message: "unknown order flow", Err: err}
	}
	if sub.CounterpartyID <= 0 {
		return composer.Flow{}, &composer.PersistenceError{Field: "counterparty", Message: "a " + string(flow.Counterparty) + " is required"}
	}
	if len(sub.Lines) == 0 {
		return composer.Flow{}, &composer.PersistenceError{Field: "lines", Message: "add at least one product"}
	}
	return flow, nil
}

// finish runs after commit and never fails: a reload error falls back to
// what the transaction wrote.
func (s *Service) finish(ctx context.Context, flow composer.Flow, header Header, records []LineRecord, action string) composer.PersistedOrder {
	order, err := s.store.Load(ctx, flow.Kind, header.ID)
	if err != nil {
		s.logger.Warn("reload stored order failed",
			slog.String("flow", string(flow.Kind)),
			slog.Int64("order_id", header.ID),
			slog.Any("error", err))
		order = committedOrder(flow, header, records)
	}
	if s.publisher != nil {
		event := SubmittedEvent{
			Action:         action,
			OrderID:        order.ID,
			Number:         order.Number,
			Flow:           flow.Kind,
			CounterpartyID: order.Counterparty.ID,
			Lines:          len(order.Lines),
			Total:          order.Total,
			At:             s.now().UTC(),
		}
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("publish order event failed", slog.String("flow", string(flow.Kind)), slog.Int64("order_id", header.ID), slog.Any("error", err))
		}
	}
	return order
}

func committedOrder(flow composer.Flow, header Header, records []LineRecord) composer.PersistedOrder {
	lines := make([]composer.PersistedLine, 0, len(records))
	for _, rec := range records {
		line := composer.PersistedLine{
			ProductID: rec.ProductID,
			Quantity:  rec.Quantity,
			Weight:    decimal.Zero,
			UnitPrice: rec.UnitPrice,
			Discount:  rec.DiscountPercent,
		}
		if rec.Weight != nil {
			line.Weight = *rec.Weight
		}
		lines = append(lines, line)
	}
	return composer.PersistedOrder{
		ID:           header.ID,
		Number:       header.Number,
		Flow:         flow.Kind,
		Counterparty: composer.Counterparty{ID: header.CounterpartyID, Kind: flow.Counterparty},
		Lines:        lines,
		Total:        header.Total,
	}
}

func (s *Service) audit(flow composer.FlowKind, action string, id int64, h Header, lines int) shared.AuditLog {
	return shared.AuditLog{
		Action:   string(flow) + "." + action,
		Entity:   string(flow),
		EntityID: strconv.FormatInt(id, 10),
		Meta: map[string]any{
			"counterparty_id": h.CounterpartyID,
			"lines":           lines,
			"total":           h.Total.String(),
		},
		At: s.now(),
	}
}

// buildLines fills missing unit prices from the catalog and computes totals.
func buildLines(ctx context.Context, tx TxRepository, items []composer.LineItem) ([]LineRecord, decimal.Decimal, error) {
	var missing []int64
	for _, item := range items {
		if item.UnitPrice == nil {
			missing = append(missing, item.ProductID)
		}
	}
	prices, err := tx.ProductPrices(ctx, missing)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("product prices: %w", err)
	}

	records := make([]LineRecord, 0, len(items))
	total := decimal.Zero
	for i, item := range items {
		price := decimal.Zero
		if item.UnitPrice != nil {
			price = *item.UnitPrice
		} else {
			p, ok := prices[item.ProductID]
			if !ok {
				return nil, decimal.Zero, &composer.PersistenceError{
					Field:   fmt.Sprintf("lines.%d", item.ProductID),
					Message: fmt.Sprintf("product %d no longer exists", item.ProductID),
				}
			}
			price = p
		}
		discount := decimal.Zero
		if item.Discount != nil {
			discount = *item.Discount
		}
		_, discountAmount, lineTotal := pricing.CalculateLineTotals(pricing.Terms{
			Quantity:        item.Quantity,
			UnitPrice:       price,
			DiscountPercent: discount,
		})
		records = append(records, LineRecord{
			ProductID:       item.ProductID,
			Quantity:        item.Quantity,
			Weight:          item.Weight,
			UnitPrice:       price,
			DiscountPercent: discount,
			DiscountAmount:  discountAmount,
			LineTotal:       lineTotal,
			LineOrder:       i + 1,
		})
		total = total.Add(lineTotal)
	}
	return records, total, nil
}

// mapPgError turns constraint violations into messages the user can act on.
// Anything else is returned unchanged.
func mapPgError(err error) error {
	var perr *composer.PersistenceError
	if errors.As(err, &perr) {
		return err
	}
	if errors.Is(err, shared.ErrNotFound) {
		return &composer.PersistenceError{Field: "order", Message: "the order no longer exists", Err: err}
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23503":
		if strings.Contains(pgErr.ConstraintName, "product") {
			return &composer.PersistenceError{Field: "lines", Message: "one of the products no longer exists", Err: err}
		}
		return &composer.PersistenceError{Field: "counterparty", Message: "the selected counterparty no longer exists", Err: err}
	case "23505":
		return &composer.PersistenceError{Field: "number", Message: "order number already taken, submit again", Err: err}
	case "23514":
		field := checkField(pgErr.ConstraintName)
		message := "value rejected"
		if field != "" {
			message = strings.ReplaceAll(field, "_", " ") + " is out of range"
		}
		return &composer.PersistenceError{Field: field, Message: message, Err: err}
	}
	return err
}

func checkField(constraint string) string {
	for _, col := range []string{"quantity", "unit_price", "discount_percent", "weight", "total"} {
		if strings.Contains(constraint, col) {
			return col
		}
	}
	return ""
}
