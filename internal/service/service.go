package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"pangkalangas/backend/internal/domain"
	"pangkalangas/backend/internal/engine"
	"pangkalangas/backend/internal/gateway"
	"pangkalangas/backend/internal/itemkey"
	"pangkalangas/backend/internal/store"
	"pangkalangas/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// StockShortageError reports a cart line that would oversell once the soft
// reservations held by the rest of the cart are subtracted from the
// authoritative balance.
type StockShortageError struct {
	Item      domain.ItemRef `json:"item"`
	Available int            `json:"available"`
	Reserved  int            `json:"reserved"`
	Remaining int            `json:"remaining"`
	Required  int            `json:"required"`
}

func (e *StockShortageError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: need %d, %d available minus %d reserved", e.Item.Name, e.Required, e.Available, e.Reserved)
}

type Service struct {
	repo    store.Repository
	gateway *gateway.Gateway
	loc     *time.Location
}

func New(repo store.Repository, gw *gateway.Gateway, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if gw == nil {
		gw = gateway.New(repo, nil)
	}

	return &Service{
		repo:    repo,
		gateway: gw,
		loc:     loc,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Item, error) {
	return s.repo.ListItems(ctx)
}

// scopeFor resolves the stock scope a caller may act on. Admins pick any
// scope; employees are pinned to their own.
func (s *Service) scopeFor(ctx context.Context, requested string) (string, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("authenticated actor required")
	}
	if actor.Role == "admin" {
		return requested, nil
	}
	if requested != "" && requested != actor.Username {
		return "", fmt.Errorf("admin role required")
	}
	return actor.Username, nil
}

// dayWindow converts a calendar date into its [start, end) instant range in
// the configured business timezone.
func (s *Service) dayWindow(date string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(engine.DateFormat, date, s.loc)
	if err != nil {
		return time.Time{}, time.Time{}, store.ErrInvalidEntry
	}
	return start, start.AddDate(0, 0, 1), nil
}

// dayTotals aggregates all transaction records of one scope for one date. In
// the employee scope, stock assignments stand in for refills: cylinders the
// admin hands over arrive at the employee full, just as refilled ones do.
func (s *Service) dayTotals(ctx context.Context, date string, employeeID string) (engine.Totals, error) {
	from, to, err := s.dayWindow(date)
	if err != nil {
		return engine.Totals{}, err
	}

	gasSales, err := s.repo.ListGasSales(ctx, employeeID, from, to)
	if err != nil {
		return engine.Totals{}, err
	}
	cylinderSales, err := s.repo.ListCylinderSales(ctx, employeeID, from, to)
	if err != nil {
		return engine.Totals{}, err
	}
	deposits, err := s.repo.ListDeposits(ctx, employeeID, from, to)
	if err != nil {
		return engine.Totals{}, err
	}
	returns, err := s.repo.ListReturns(ctx, employeeID, from, to)
	if err != nil {
		return engine.Totals{}, err
	}

	var refills []domain.RefillRecord
	if employeeID == "" {
		refills, err = s.repo.ListRefills(ctx, from, to)
		if err != nil {
			return engine.Totals{}, err
		}
	} else {
		assignments, err := s.repo.ListAssignments(ctx, employeeID, from, to)
		if err != nil {
			return engine.Totals{}, err
		}
		refills = make([]domain.RefillRecord, 0, len(assignments))
		for _, assignment := range assignments {
			refills = append(refills, domain.RefillRecord{
				ID:         assignment.ID,
				EmployeeID: assignment.EmployeeID,
				Cylinder:   assignment.Item,
				Quantity:   assignment.Quantity,
				RefilledAt: assignment.AssignedAt,
			})
		}
	}

	activity := engine.CylinderActivity{
		Sales:    cylinderSales,
		Deposits: deposits,
		Returns:  returns,
	}
	return engine.Aggregate(date, s.loc, gasSales, activity, refills)
}

// ReconcileDay recomputes one date's stock book for a scope and persists the
// result. Running it twice for the same inputs produces the same book.
func (s *Service) ReconcileDay(ctx context.Context, req domain.ReconcileRequest) (domain.DailyStockResponse, error) {
	employeeID, err := s.scopeFor(ctx, req.EmployeeID)
	if err != nil {
		return domain.DailyStockResponse{}, err
	}
	if _, _, err := s.dayWindow(req.Date); err != nil {
		return domain.DailyStockResponse{}, err
	}

	existing, cached, err := s.gateway.ListForDate(ctx, req.Date, employeeID)
	if err != nil {
		return domain.DailyStockResponse{}, err
	}
	totals, err := s.dayTotals(ctx, req.Date, employeeID)
	if err != nil {
		return domain.DailyStockResponse{}, err
	}

	items, err := s.repo.ListItems(ctx)
	if err != nil {
		log.Printf("[service] WARN: catalog unavailable during reconcile, continuing without it: %v", err)
		items = nil
	}
	cylinders := make([]domain.Item, 0, len(items))
	for _, item := range items {
		if item.Category == domain.CategoryCylinder {
			cylinders = append(cylinders, item)
		}
	}

	prior := s.priorEntries(ctx, req.Date, employeeID, existing, totals, cylinders)

	result := engine.Reconcile(engine.ReconcileInputs{
		Date:       req.Date,
		EmployeeID: employeeID,
		Existing:   existing,
		Totals:     totals,
		Prior:      prior,
		Items:      cylinders,
	})

	persisted := make([]domain.StockEntry, 0, len(result.Current))
	for _, entry := range result.Current {
		saved, _, err := s.gateway.Upsert(ctx, fullPatch(entry))
		if err != nil {
			return domain.DailyStockResponse{}, err
		}
		persisted = append(persisted, *saved)
	}
	for _, patch := range result.NextDayOpenings {
		if _, _, err := s.gateway.Upsert(ctx, patch); err != nil {
			return domain.DailyStockResponse{}, err
		}
	}

	s.logAudit(ctx, "stock.reconcile", "stock_day", req.Date, fmt.Sprintf("scope=%s entries=%d skipped=%d", scopeLabel(employeeID), len(persisted), totals.Skipped))

	return domain.DailyStockResponse{
		Date:       req.Date,
		EmployeeID: employeeID,
		Entries:    persisted,
		Skipped:    totals.Skipped,
		Cached:     cached,
	}, nil
}

// priorEntries fetches each candidate item's latest entry before the date so
// the reconciler can seed openings from the previous close.
func (s *Service) priorEntries(ctx context.Context, date string, employeeID string, existing []domain.StockEntry, totals engine.Totals, items []domain.Item) map[string]domain.StockEntry {
	names := map[string]string{}
	for _, entry := range existing {
		if key := itemkey.Normalize(entry.ItemName); key != "" {
			names[key] = entry.ItemName
		}
	}
	for key, tot := range totals.ByKey {
		if _, seen := names[key]; !seen && key != "" {
			names[key] = tot.ItemName
		}
	}
	for _, item := range items {
		if key := itemkey.Normalize(item.Name); key != "" {
			if _, seen := names[key]; !seen {
				names[key] = item.Name
			}
		}
	}

	prior := make(map[string]domain.StockEntry, len(names))
	for key, name := range names {
		entry, err := s.gateway.Previous(ctx, name, date, employeeID)
		if err != nil {
			continue
		}
		prior[key] = *entry
	}
	return prior
}

// fullPatch turns a reconciled entry into a complete upsert so stale stored
// movement counts cannot survive a reconciliation.
func fullPatch(entry domain.StockEntry) domain.StockEntryPatch {
	return domain.StockEntryPatch{
		Date:          entry.Date,
		ItemName:      entry.ItemName,
		ItemID:        entry.ItemID,
		EmployeeID:    entry.EmployeeID,
		OpeningFull:   entry.OpeningFull,
		OpeningEmpty:  entry.OpeningEmpty,
		Refilled:      domain.IntPtr(entry.Refilled),
		CylinderSales: domain.IntPtr(entry.CylinderSales),
		GasSales:      domain.IntPtr(entry.GasSales),
		Deposits:      domain.IntPtr(entry.Deposits),
		Returns:       domain.IntPtr(entry.Returns),
		ClosingFull:   entry.ClosingFull,
		ClosingEmpty:  entry.ClosingEmpty,
	}
}

func (s *Service) ListDailyStock(ctx context.Context, date string, employeeID string) (domain.DailyStockResponse, error) {
	employeeID, err := s.scopeFor(ctx, employeeID)
	if err != nil {
		return domain.DailyStockResponse{}, err
	}
	if _, _, err := s.dayWindow(date); err != nil {
		return domain.DailyStockResponse{}, err
	}

	entries, cached, err := s.gateway.ListForDate(ctx, date, employeeID)
	if err != nil {
		return domain.DailyStockResponse{}, err
	}
	return domain.DailyStockResponse{
		Date:       date,
		EmployeeID: employeeID,
		Entries:    entries,
		Cached:     cached,
	}, nil
}

// UpsertStockEntry applies a manual correction to one stock-book row.
func (s *Service) UpsertStockEntry(ctx context.Context, patch domain.StockEntryPatch) (domain.UpsertStockResponse, error) {
	employeeID, err := s.scopeFor(ctx, patch.EmployeeID)
	if err != nil {
		return domain.UpsertStockResponse{}, err
	}
	patch.EmployeeID = employeeID
	patch.FillOnly = false

	if itemkey.Normalize(patch.ItemName) == "" {
		return domain.UpsertStockResponse{}, store.ErrInvalidEntry
	}
	if _, _, err := s.dayWindow(patch.Date); err != nil {
		return domain.UpsertStockResponse{}, err
	}
	for _, field := range []*int{
		patch.OpeningFull, patch.OpeningEmpty,
		patch.Refilled, patch.CylinderSales, patch.GasSales, patch.Deposits, patch.Returns,
		patch.ClosingFull, patch.ClosingEmpty,
	} {
		if field != nil && *field < 0 {
			return domain.UpsertStockResponse{}, store.ErrInvalidEntry
		}
	}

	entry, queued, err := s.gateway.Upsert(ctx, patch)
	if err != nil {
		return domain.UpsertStockResponse{}, err
	}

	s.logAudit(ctx, "stock.upsert", "stock_entry", patch.Date+"/"+itemkey.Normalize(patch.ItemName), fmt.Sprintf("scope=%s queued=%t", scopeLabel(employeeID), queued))

	return domain.UpsertStockResponse{Entry: *entry, Queued: queued}, nil
}

func (s *Service) PreviousStockEntry(ctx context.Context, itemName string, date string, employeeID string) (*domain.StockEntry, error) {
	employeeID, err := s.scopeFor(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.dayWindow(date); err != nil {
		return nil, err
	}
	if itemkey.Normalize(itemName) == "" {
		return nil, store.ErrInvalidEntry
	}
	return s.gateway.Previous(ctx, itemName, date, employeeID)
}

// CheckCartLine answers whether one more cart line fits within the
// authoritative balance minus what the rest of the cart already holds.
func (s *Service) CheckCartLine(ctx context.Context, req domain.CartCheckRequest) (domain.CartCheckResponse, error) {
	employeeID, err := s.scopeFor(ctx, req.EmployeeID)
	if err != nil {
		return domain.CartCheckResponse{}, err
	}
	if err := validateLine(req.Line); err != nil {
		return domain.CartCheckResponse{}, err
	}

	available, err := s.availableStock(ctx, req.Line, employeeID)
	if err != nil {
		return domain.CartCheckResponse{}, err
	}
	reserved := engine.Reserved(req.Lines, req.Line.Item, req.Line.Category, req.Line.Status)
	remaining := available - reserved

	return domain.CartCheckResponse{
		Allowed:   req.Line.Quantity <= remaining,
		Available: available,
		Reserved:  reserved,
		Remaining: remaining,
		Required:  req.Line.Quantity,
	}, nil
}

// SubmitSale commits a cart. Every line is validated against authoritative
// stock minus the reservations held by its sibling lines, so a cart that
// passed line-by-line checks cannot collectively oversell at submit.
func (s *Service) SubmitSale(ctx context.Context, req domain.SaleSubmitRequest) (domain.SaleSubmitResponse, error) {
	employeeID, err := s.scopeFor(ctx, req.EmployeeID)
	if err != nil {
		return domain.SaleSubmitResponse{}, err
	}
	if len(req.Lines) == 0 {
		return domain.SaleSubmitResponse{}, store.ErrInvalidEntry
	}
	for _, line := range req.Lines {
		if err := validateLine(line); err != nil {
			return domain.SaleSubmitResponse{}, err
		}
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = xid.New("idem")
	}

	if existing, err := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey); err == nil {
		return domain.SaleSubmitResponse{
			SaleID:    existing.ID,
			LineCount: len(existing.Lines),
			Duplicate: true,
			CreatedAt: existing.CreatedAt.Format(time.RFC3339),
		}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.SaleSubmitResponse{}, err
	}

	for i, line := range req.Lines {
		others := make([]domain.CartLine, 0, len(req.Lines)-1)
		others = append(others, req.Lines[:i]...)
		others = append(others, req.Lines[i+1:]...)

		available, err := s.availableStock(ctx, line, employeeID)
		if err != nil {
			return domain.SaleSubmitResponse{}, err
		}
		reserved := engine.Reserved(others, line.Item, line.Category, line.Status)
		remaining := available - reserved
		if line.Quantity > remaining {
			return domain.SaleSubmitResponse{}, &StockShortageError{
				Item:      line.Item,
				Available: available,
				Reserved:  reserved,
				Remaining: remaining,
				Required:  line.Quantity,
			}
		}
	}

	sale := domain.Sale{
		ID:             xid.New("sale"),
		EmployeeID:     employeeID,
		IdempotencyKey: req.IdempotencyKey,
		Lines:          req.Lines,
		CreatedAt:      time.Now().UTC(),
	}
	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.SaleSubmitResponse{}, err
	}

	duplicate := created.ID != sale.ID
	s.logAudit(ctx, "sale.submit", "sale", created.ID, fmt.Sprintf("scope=%s lines=%d duplicate=%t", scopeLabel(employeeID), len(created.Lines), duplicate))

	return domain.SaleSubmitResponse{
		SaleID:    created.ID,
		LineCount: len(created.Lines),
		Duplicate: duplicate,
		CreatedAt: created.CreatedAt.Format(time.RFC3339),
	}, nil
}

// availableStock resolves the authoritative balance for one cart line. Gas
// products are counted in the product stock ledger; cylinder pools come from
// today's stock book (or roll forward from the last known close).
func (s *Service) availableStock(ctx context.Context, line domain.CartLine, employeeID string) (int, error) {
	switch line.Category {
	case domain.CategoryGas:
		id := line.Item.ID
		if id == "" {
			resolved, err := s.resolveItemID(ctx, line.Item.Name)
			if err != nil {
				return 0, err
			}
			id = resolved
		}
		stock, err := s.repo.GetStockMap(ctx, []string{id})
		if err != nil {
			return 0, err
		}
		return stock[id], nil

	case domain.CategoryCylinder:
		today := time.Now().In(s.loc).Format(engine.DateFormat)
		entries, _, err := s.gateway.ListForDate(ctx, today, employeeID)
		if err != nil {
			return 0, err
		}
		for _, entry := range entries {
			if !engine.SameItem(domain.ItemRef{ID: entry.ItemID, Name: entry.ItemName}, line.Item) {
				continue
			}
			return poolFromEntry(entry, line.Status), nil
		}

		// No entry yet today: the last close still stands.
		prev, err := s.gateway.Previous(ctx, line.Item.Name, today, employeeID)
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		if line.Status == domain.StatusEmpty {
			return intOrZero(prev.ClosingEmpty), nil
		}
		return intOrZero(prev.ClosingFull), nil
	}
	return 0, store.ErrInvalidEntry
}

// poolFromEntry reads one pool off a stock-book row, recomputing the close
// from openings and movements when it has not been written yet.
func poolFromEntry(entry domain.StockEntry, status domain.CylinderStatus) int {
	closingFull, closingEmpty := entry.ClosingFull, entry.ClosingEmpty
	if closingFull == nil || closingEmpty == nil {
		full, empty := engine.Closings(intOrZero(entry.OpeningFull), intOrZero(entry.OpeningEmpty), domain.DailyTotals{
			Refilled:      entry.Refilled,
			GasSales:      entry.GasSales,
			CylinderSales: entry.CylinderSales,
			Deposits:      entry.Deposits,
			Returns:       entry.Returns,
		})
		closingFull, closingEmpty = &full, &empty
	}
	if status == domain.StatusEmpty {
		return *closingEmpty
	}
	return *closingFull
}

func (s *Service) resolveItemID(ctx context.Context, name string) (string, error) {
	key := itemkey.Normalize(name)
	if key == "" {
		return "", store.ErrInvalidEntry
	}
	items, err := s.repo.ListItems(ctx)
	if err != nil {
		return "", err
	}
	for _, item := range items {
		if itemkey.Normalize(item.Name) == key {
			return item.ID, nil
		}
	}
	return "", store.ErrNotFound
}

// RecordRefill books full cylinders arriving from the depot (admin scope).
func (s *Service) RecordRefill(ctx context.Context, req domain.RefillRequest) (domain.RefillRecord, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.RefillRecord{}, fmt.Errorf("admin role required")
	}
	if engine.CoerceQty(req.Quantity) < 1 {
		return domain.RefillRecord{}, store.ErrInvalidEntry
	}

	created, err := s.repo.CreateRefill(ctx, domain.RefillRecord{
		Cylinder:   req.Cylinder,
		Quantity:   req.Quantity,
		RefilledAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.RefillRecord{}, err
	}

	s.logAudit(ctx, "refill.record", "refill", created.ID, fmt.Sprintf("item=%s qty=%d", created.Cylinder.Name, engine.CoerceQty(created.Quantity)))
	return *created, nil
}

// RecordDeposit books customer cylinders taken in as collateral: the unit
// leaves circulation until returned.
func (s *Service) RecordDeposit(ctx context.Context, req domain.CylinderMovementRequest) (domain.DepositRecord, error) {
	employeeID, err := s.scopeFor(ctx, req.EmployeeID)
	if err != nil {
		return domain.DepositRecord{}, err
	}
	if engine.CoerceQty(req.Quantity) < 1 {
		return domain.DepositRecord{}, store.ErrInvalidEntry
	}

	created, err := s.repo.CreateDeposit(ctx, domain.DepositRecord{
		EmployeeID: employeeID,
		Item:       req.Item,
		Quantity:   req.Quantity,
		RecordedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.DepositRecord{}, err
	}

	s.logAudit(ctx, "cylinder.deposit", "deposit", created.ID, fmt.Sprintf("scope=%s item=%s qty=%d", scopeLabel(employeeID), created.Item.Name, engine.CoerceQty(created.Quantity)))
	return *created, nil
}

// RecordReturn books a deposited cylinder coming back into circulation.
func (s *Service) RecordReturn(ctx context.Context, req domain.CylinderMovementRequest) (domain.ReturnRecord, error) {
	employeeID, err := s.scopeFor(ctx, req.EmployeeID)
	if err != nil {
		return domain.ReturnRecord{}, err
	}
	if engine.CoerceQty(req.Quantity) < 1 {
		return domain.ReturnRecord{}, store.ErrInvalidEntry
	}

	created, err := s.repo.CreateReturn(ctx, domain.ReturnRecord{
		EmployeeID: employeeID,
		Item:       req.Item,
		Quantity:   req.Quantity,
		RecordedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.ReturnRecord{}, err
	}

	s.logAudit(ctx, "cylinder.return", "return", created.ID, fmt.Sprintf("scope=%s item=%s qty=%d", scopeLabel(employeeID), created.Item.Name, engine.CoerceQty(created.Quantity)))
	return *created, nil
}

// AssignStock hands full cylinders to an employee; the receipt feeds the
// employee-scope reconciliation the way refills feed the admin scope.
func (s *Service) AssignStock(ctx context.Context, req domain.AssignmentRequest) (domain.AssignmentRecord, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.AssignmentRecord{}, fmt.Errorf("admin role required")
	}
	if req.EmployeeID == "" || engine.CoerceQty(req.Quantity) < 1 {
		return domain.AssignmentRecord{}, store.ErrInvalidEntry
	}

	created, err := s.repo.CreateAssignment(ctx, domain.AssignmentRecord{
		EmployeeID: req.EmployeeID,
		Item:       req.Item,
		Quantity:   req.Quantity,
		AssignedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.AssignmentRecord{}, err
	}

	s.logAudit(ctx, "stock.assign", "assignment", created.ID, fmt.Sprintf("employee=%s item=%s qty=%d", created.EmployeeID, created.Item.Name, engine.CoerceQty(created.Quantity)))
	return *created, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, fmt.Errorf("admin role required")
	}

	from, to, err := s.dayWindow(date)
	if err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func validateLine(line domain.CartLine) error {
	if !line.Category.Valid() || line.Quantity < 1 {
		return store.ErrInvalidEntry
	}
	if line.Item.ID == "" && itemkey.Normalize(line.Item.Name) == "" {
		return store.ErrInvalidEntry
	}
	if line.Category == domain.CategoryCylinder && !line.Status.Valid() {
		return store.ErrInvalidEntry
	}
	return nil
}

func scopeLabel(employeeID string) string {
	if employeeID == "" {
		return "admin"
	}
	return employeeID
}

func intOrZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}
