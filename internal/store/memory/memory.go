package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"pangkalangas/backend/internal/domain"
	"pangkalangas/backend/internal/engine"
	"pangkalangas/backend/internal/itemkey"
	"pangkalangas/backend/internal/store"
	"pangkalangas/backend/internal/xid"
)

// Store is the in-memory repository used for dev/demo mode and tests. It
// mirrors the behavior of the postgres store, including the merge semantics
// of stock-entry upserts.
type Store struct {
	mu             sync.RWMutex
	items          map[string]domain.Item
	stock          map[string]int
	salesByID      map[string]domain.Sale
	salesByIdem    map[string]domain.Sale
	gasSales       []domain.GasSaleLine
	cylinderSales  []domain.CylinderSaleLine
	refills        []domain.RefillRecord
	deposits       []domain.DepositRecord
	returns        []domain.ReturnRecord
	assignments    []domain.AssignmentRecord
	entriesByKey   map[string]domain.StockEntry
	auditLogs      []domain.AuditLog
	usersByName    map[string]domain.UserAccount
}

// seedUsers builds the initial user accounts for dev/demo mode. Credentials
// come from SEED_ADMIN_PASSWORD and SEED_EMPLOYEE_PASSWORD; hardcoded dev
// defaults are used with a warning when unset. Production deployments use
// PostgreSQL (DATABASE_URL) and never touch these.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	employeePwd := envOr("SEED_EMPLOYEE_PASSWORD", "employee123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_EMPLOYEE_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_EMPLOYEE_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"budi", employeePwd, "employee"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	items := []domain.Item{
		{ID: "itm-gas-3", Name: "Gas Isi Ulang 3kg", Category: domain.CategoryGas},
		{ID: "itm-tab-3", Name: "Tabung 3kg", Category: domain.CategoryCylinder, CylinderSize: domain.SizeSmall},
		{ID: "itm-gas-12", Name: "Gas Isi Ulang 12kg", Category: domain.CategoryGas},
		{ID: "itm-tab-12", Name: "Tabung 12kg", Category: domain.CategoryCylinder, CylinderSize: domain.SizeLarge},
	}

	itemMap := make(map[string]domain.Item, len(items))
	stock := make(map[string]int, len(items))
	for _, item := range items {
		itemMap[item.ID] = item
		if item.Category == domain.CategoryGas {
			stock[item.ID] = 100
		}
	}

	return &Store{
		items:        itemMap,
		stock:        stock,
		salesByID:    make(map[string]domain.Sale),
		salesByIdem:  make(map[string]domain.Sale),
		entriesByKey: make(map[string]domain.StockEntry),
		auditLogs:    make([]domain.AuditLog, 0, 128),
		usersByName:  seedUsers(),
	}
}

func entryKey(date, itemName, employeeID string) string {
	return date + "|" + itemkey.Normalize(itemName) + "|" + employeeID
}

func (s *Store) ListItems(_ context.Context) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.Item) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(string(a.Category), string(b.Category))
	})
	return items, nil
}

func (s *Store) GetItemByID(_ context.Context, id string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.items[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := item
	return &copied, nil
}

func (s *Store) GetStockMap(_ context.Context, itemIDs []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]int, len(itemIDs))
	for _, id := range itemIDs {
		result[id] = s.stock[id]
	}
	return result, nil
}

func (s *Store) AdjustStock(_ context.Context, itemID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.stock[itemID] + delta
	if next < 0 {
		return store.ErrInsufficientStock
	}
	s.stock[itemID] = next
	return nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.ID == "" || sale.IdempotencyKey == "" || len(sale.Lines) == 0 {
		return nil, store.ErrInvalidEntry
	}
	if existing, ok := s.salesByIdem[sale.IdempotencyKey]; ok {
		copied := existing
		return &copied, nil
	}

	// Derive the transaction rows the aggregator consumes, and deduct gas
	// product stock (cylinder full/empty pools are settled by the daily
	// reconciliation, not here).
	for _, line := range sale.Lines {
		switch line.Category {
		case domain.CategoryGas:
			s.gasSales = append(s.gasSales, domain.GasSaleLine{
				ID:         xid.New("gsl"),
				EmployeeID: sale.EmployeeID,
				Item:       line.Item,
				Quantity:   float64(line.Quantity),
				Cylinder:   line.LinkedCylinder,
				SoldAt:     sale.CreatedAt,
			})
			s.deductStockLocked(line.Item, line.Quantity)
		case domain.CategoryCylinder:
			s.cylinderSales = append(s.cylinderSales, domain.CylinderSaleLine{
				ID:         xid.New("csl"),
				EmployeeID: sale.EmployeeID,
				Item:       line.Item,
				Quantity:   float64(line.Quantity),
				Status:     line.Status,
				Gas:        line.LinkedGas,
				SoldAt:     sale.CreatedAt,
			})
			if line.Status == domain.StatusFull && line.LinkedGas != nil {
				s.deductStockLocked(*line.LinkedGas, line.Quantity)
			}
		default:
			return nil, store.ErrInvalidEntry
		}
	}

	s.salesByID[sale.ID] = sale
	s.salesByIdem[sale.IdempotencyKey] = sale
	created := sale
	return &created, nil
}

func (s *Store) deductStockLocked(ref domain.ItemRef, qty int) {
	id := ref.ID
	if id == "" {
		key := itemkey.Normalize(ref.Name)
		for _, item := range s.items {
			if itemkey.Normalize(item.Name) == key {
				id = item.ID
				break
			}
		}
	}
	if id == "" {
		return
	}
	next := s.stock[id] - qty
	if next < 0 {
		next = 0
	}
	s.stock[id] = next
}

func (s *Store) FindSaleByIdempotency(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByIdem[key]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := sale
	return &copied, nil
}

func inWindow(at time.Time, from, to time.Time) bool {
	return !at.Before(from) && at.Before(to)
}

func (s *Store) ListGasSales(_ context.Context, employeeID string, from, to time.Time) ([]domain.GasSaleLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.GasSaleLine, 0, len(s.gasSales))
	for _, sale := range s.gasSales {
		if sale.EmployeeID == employeeID && inWindow(sale.SoldAt, from, to) {
			result = append(result, sale)
		}
	}
	return result, nil
}

func (s *Store) ListCylinderSales(_ context.Context, employeeID string, from, to time.Time) ([]domain.CylinderSaleLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CylinderSaleLine, 0, len(s.cylinderSales))
	for _, sale := range s.cylinderSales {
		if sale.EmployeeID == employeeID && inWindow(sale.SoldAt, from, to) {
			result = append(result, sale)
		}
	}
	return result, nil
}

func (s *Store) CreateRefill(_ context.Context, refill domain.RefillRecord) (*domain.RefillRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if refill.ID == "" {
		refill.ID = xid.New("refill")
	}
	if refill.RefilledAt.IsZero() {
		refill.RefilledAt = time.Now().UTC()
	}
	s.refills = append(s.refills, refill)
	created := refill
	return &created, nil
}

func (s *Store) ListRefills(_ context.Context, from, to time.Time) ([]domain.RefillRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.RefillRecord, 0, len(s.refills))
	for _, refill := range s.refills {
		if inWindow(refill.RefilledAt, from, to) {
			result = append(result, refill)
		}
	}
	return result, nil
}

func (s *Store) CreateDeposit(_ context.Context, dep domain.DepositRecord) (*domain.DepositRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dep.ID == "" {
		dep.ID = xid.New("dep")
	}
	if dep.RecordedAt.IsZero() {
		dep.RecordedAt = time.Now().UTC()
	}
	s.deposits = append(s.deposits, dep)
	created := dep
	return &created, nil
}

func (s *Store) ListDeposits(_ context.Context, employeeID string, from, to time.Time) ([]domain.DepositRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.DepositRecord, 0, len(s.deposits))
	for _, dep := range s.deposits {
		if dep.EmployeeID == employeeID && inWindow(dep.RecordedAt, from, to) {
			result = append(result, dep)
		}
	}
	return result, nil
}

func (s *Store) CreateReturn(_ context.Context, ret domain.ReturnRecord) (*domain.ReturnRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ret.ID == "" {
		ret.ID = xid.New("ret")
	}
	if ret.RecordedAt.IsZero() {
		ret.RecordedAt = time.Now().UTC()
	}
	s.returns = append(s.returns, ret)
	created := ret
	return &created, nil
}

func (s *Store) ListReturns(_ context.Context, employeeID string, from, to time.Time) ([]domain.ReturnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ReturnRecord, 0, len(s.returns))
	for _, ret := range s.returns {
		if ret.EmployeeID == employeeID && inWindow(ret.RecordedAt, from, to) {
			result = append(result, ret)
		}
	}
	return result, nil
}

func (s *Store) CreateAssignment(_ context.Context, assignment domain.AssignmentRecord) (*domain.AssignmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if assignment.EmployeeID == "" {
		return nil, store.ErrInvalidEntry
	}
	if assignment.ID == "" {
		assignment.ID = xid.New("asg")
	}
	if assignment.AssignedAt.IsZero() {
		assignment.AssignedAt = time.Now().UTC()
	}
	s.assignments = append(s.assignments, assignment)
	created := assignment
	return &created, nil
}

func (s *Store) ListAssignments(_ context.Context, employeeID string, from, to time.Time) ([]domain.AssignmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AssignmentRecord, 0, len(s.assignments))
	for _, assignment := range s.assignments {
		if assignment.EmployeeID == employeeID && inWindow(assignment.AssignedAt, from, to) {
			result = append(result, assignment)
		}
	}
	return result, nil
}

func (s *Store) UpsertStockEntry(_ context.Context, patch domain.StockEntryPatch) (*domain.StockEntry, error) {
	if patch.Date == "" || itemkey.Normalize(patch.ItemName) == "" {
		return nil, store.ErrInvalidEntry
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := entryKey(patch.Date, patch.ItemName, patch.EmployeeID)
	entry, exists := s.entriesByKey[key]
	if !exists {
		entry = domain.StockEntry{
			Date:       patch.Date,
			ItemName:   patch.ItemName,
			EmployeeID: patch.EmployeeID,
		}
	}
	merged := engine.ApplyPatch(entry, patch)
	merged.UpdatedAt = time.Now().UTC()
	s.entriesByKey[key] = merged

	result := merged
	return &result, nil
}

func (s *Store) ListStockEntries(_ context.Context, date string, employeeID string) ([]domain.StockEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockEntry, 0, 16)
	for _, entry := range s.entriesByKey {
		if entry.Date == date && entry.EmployeeID == employeeID {
			result = append(result, entry)
		}
	}
	slices.SortFunc(result, func(a, b domain.StockEntry) int {
		return strings.Compare(itemkey.Normalize(a.ItemName), itemkey.Normalize(b.ItemName))
	})
	return result, nil
}

func (s *Store) GetPreviousStockEntry(_ context.Context, itemName string, date string, employeeID string) (*domain.StockEntry, error) {
	key := itemkey.Normalize(itemName)
	if key == "" {
		return nil, store.ErrInvalidEntry
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.StockEntry
	for _, entry := range s.entriesByKey {
		if entry.EmployeeID != employeeID || itemkey.Normalize(entry.ItemName) != key {
			continue
		}
		// Dates are "YYYY-MM-DD", so lexical order is chronological order.
		if entry.Date >= date {
			continue
		}
		if best == nil || entry.Date > best.Date {
			copied := entry
			best = &copied
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	return best, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(result) < limit; i-- {
		entry := s.auditLogs[i]
		if inWindow(entry.CreatedAt, from, to) {
			result = append(result, entry)
		}
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" {
		return store.ErrInvalidEntry
	}
	if _, exists := s.usersByName[user.Username]; exists {
		return store.ErrInvalidEntry
	}
	s.usersByName[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByName))
	for _, user := range s.usersByName {
		users = append(users, user)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByName[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByName[username] = user
	return nil
}
