package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"pangkalangas/backend/internal/domain"
	"pangkalangas/backend/internal/itemkey"
	"pangkalangas/backend/internal/store"
	"pangkalangas/backend/internal/xid"
)

const dateFormat = "2006-01-02"

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, cylinder_size
		FROM items
		WHERE active = true
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 16)
	for rows.Next() {
		var item domain.Item
		var size sql.NullString
		if err := rows.Scan(&item.ID, &item.Name, &item.Category, &size); err != nil {
			return nil, err
		}
		item.CylinderSize = domain.CylinderSize(size.String)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetItemByID(ctx context.Context, id string) (*domain.Item, error) {
	var item domain.Item
	var size sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, cylinder_size
		FROM items
		WHERE id = $1
	`, id).Scan(&item.ID, &item.Name, &item.Category, &size)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	item.CylinderSize = domain.CylinderSize(size.String)
	return &item, nil
}

func (s *Store) GetStockMap(ctx context.Context, itemIDs []string) (map[string]int, error) {
	result := make(map[string]int, len(itemIDs))
	if len(itemIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, qty
		FROM item_stock
		WHERE item_id = ANY($1)
	`, itemIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var qty int
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		result[id] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) AdjustStock(ctx context.Context, itemID string, delta int) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO item_stock (item_id, qty)
		VALUES ($1, GREATEST($2, 0))
		ON CONFLICT (item_id) DO UPDATE
		SET qty = item_stock.qty + $2
		WHERE item_stock.qty + $2 >= 0
	`, itemID, delta)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrInsufficientStock
	}
	return nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" || sale.IdempotencyKey == "" || len(sale.Lines) == 0 {
		return nil, store.ErrInvalidEntry
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var existingID string
	var existingLines []byte
	var existingEmployee string
	var existingAt time.Time
	err = tx.QueryRowContext(ctx, `
		SELECT id, employee_id, lines, created_at
		FROM sales
		WHERE idempotency_key = $1
	`, sale.IdempotencyKey).Scan(&existingID, &existingEmployee, &existingLines, &existingAt)
	if err == nil {
		existing := domain.Sale{
			ID:             existingID,
			EmployeeID:     existingEmployee,
			IdempotencyKey: sale.IdempotencyKey,
			CreatedAt:      existingAt.UTC(),
		}
		if err := json.Unmarshal(existingLines, &existing.Lines); err != nil {
			return nil, err
		}
		return &existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	linesJSON, err := json.Marshal(sale.Lines)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, employee_id, idempotency_key, lines, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, sale.ID, sale.EmployeeID, sale.IdempotencyKey, linesJSON, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			// Concurrent submit with the same key: retry the lookup outside
			// this transaction.
			return nil, store.ErrInvalidEntry
		}
		return nil, err
	}

	for _, line := range sale.Lines {
		switch line.Category {
		case domain.CategoryGas:
			var cylID, cylName any
			if line.LinkedCylinder != nil {
				cylID = nullIfEmpty(line.LinkedCylinder.ID)
				cylName = nullIfEmpty(line.LinkedCylinder.Name)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO gas_sale_lines (id, sale_id, employee_id, item_id, item_name, quantity, cylinder_id, cylinder_name, sold_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			`, xid.New("gsl"), sale.ID, sale.EmployeeID, nullIfEmpty(line.Item.ID), line.Item.Name, line.Quantity, cylID, cylName, sale.CreatedAt)
			if err != nil {
				return nil, err
			}
			if err := deductStock(ctx, tx, line.Item, line.Quantity); err != nil {
				return nil, err
			}
		case domain.CategoryCylinder:
			var gasID, gasName any
			if line.LinkedGas != nil {
				gasID = nullIfEmpty(line.LinkedGas.ID)
				gasName = nullIfEmpty(line.LinkedGas.Name)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO cylinder_sale_lines (id, sale_id, employee_id, item_id, item_name, quantity, status, gas_id, gas_name, sold_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			`, xid.New("csl"), sale.ID, sale.EmployeeID, nullIfEmpty(line.Item.ID), line.Item.Name, line.Quantity, string(line.Status), gasID, gasName, sale.CreatedAt)
			if err != nil {
				return nil, err
			}
			if line.Status == domain.StatusFull && line.LinkedGas != nil {
				if err := deductStock(ctx, tx, *line.LinkedGas, line.Quantity); err != nil {
					return nil, err
				}
			}
		default:
			return nil, store.ErrInvalidEntry
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := sale
	return &created, nil
}

// deductStock lowers the gas product counter, clamping at zero. Cylinder
// full/empty pools live in daily_stock_entries and are settled by the
// reconciler, not here.
func deductStock(ctx context.Context, tx *sql.Tx, ref domain.ItemRef, qty int) error {
	id := ref.ID
	if id == "" {
		key := itemkey.Normalize(ref.Name)
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM items WHERE lower(name) = $1 AND active = true
		`, key).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE item_stock SET qty = GREATEST(qty - $2, 0) WHERE item_id = $1
	`, id, qty)
	return err
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	var sale domain.Sale
	var lines []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, employee_id, idempotency_key, lines, created_at
		FROM sales
		WHERE idempotency_key = $1
	`, key).Scan(&sale.ID, &sale.EmployeeID, &sale.IdempotencyKey, &lines, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(lines, &sale.Lines); err != nil {
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	return &sale, nil
}

func (s *Store) ListGasSales(ctx context.Context, employeeID string, from, to time.Time) ([]domain.GasSaleLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, item_id, item_name, quantity, cylinder_id, cylinder_name, sold_at
		FROM gas_sale_lines
		WHERE employee_id = $1 AND sold_at >= $2 AND sold_at < $3
		ORDER BY sold_at ASC
	`, employeeID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.GasSaleLine, 0, 64)
	for rows.Next() {
		var line domain.GasSaleLine
		var itemID, cylID, cylName sql.NullString
		if err := rows.Scan(&line.ID, &line.EmployeeID, &itemID, &line.Item.Name, &line.Quantity, &cylID, &cylName, &line.SoldAt); err != nil {
			return nil, err
		}
		line.Item.ID = itemID.String
		if cylID.Valid || cylName.Valid {
			line.Cylinder = &domain.ItemRef{ID: cylID.String, Name: cylName.String}
		}
		line.SoldAt = line.SoldAt.UTC()
		sales = append(sales, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) ListCylinderSales(ctx context.Context, employeeID string, from, to time.Time) ([]domain.CylinderSaleLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, item_id, item_name, quantity, status, gas_id, gas_name, sold_at
		FROM cylinder_sale_lines
		WHERE employee_id = $1 AND sold_at >= $2 AND sold_at < $3
		ORDER BY sold_at ASC
	`, employeeID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.CylinderSaleLine, 0, 64)
	for rows.Next() {
		var line domain.CylinderSaleLine
		var itemID, gasID, gasName sql.NullString
		if err := rows.Scan(&line.ID, &line.EmployeeID, &itemID, &line.Item.Name, &line.Quantity, &line.Status, &gasID, &gasName, &line.SoldAt); err != nil {
			return nil, err
		}
		line.Item.ID = itemID.String
		if gasID.Valid || gasName.Valid {
			line.Gas = &domain.ItemRef{ID: gasID.String, Name: gasName.String}
		}
		line.SoldAt = line.SoldAt.UTC()
		sales = append(sales, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) CreateRefill(ctx context.Context, refill domain.RefillRecord) (*domain.RefillRecord, error) {
	if itemkey.Normalize(refill.Cylinder.Name) == "" && refill.Cylinder.ID == "" {
		return nil, store.ErrInvalidEntry
	}
	if refill.ID == "" {
		refill.ID = xid.New("refill")
	}
	if refill.RefilledAt.IsZero() {
		refill.RefilledAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refills (id, employee_id, cylinder_id, cylinder_name, quantity, refilled_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, refill.ID, refill.EmployeeID, nullIfEmpty(refill.Cylinder.ID), refill.Cylinder.Name, refill.Quantity, refill.RefilledAt)
	if err != nil {
		return nil, err
	}
	created := refill
	return &created, nil
}

func (s *Store) ListRefills(ctx context.Context, from, to time.Time) ([]domain.RefillRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, cylinder_id, cylinder_name, quantity, refilled_at
		FROM refills
		WHERE refilled_at >= $1 AND refilled_at < $2
		ORDER BY refilled_at ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refills := make([]domain.RefillRecord, 0, 32)
	for rows.Next() {
		var refill domain.RefillRecord
		var cylID sql.NullString
		if err := rows.Scan(&refill.ID, &refill.EmployeeID, &cylID, &refill.Cylinder.Name, &refill.Quantity, &refill.RefilledAt); err != nil {
			return nil, err
		}
		refill.Cylinder.ID = cylID.String
		refill.RefilledAt = refill.RefilledAt.UTC()
		refills = append(refills, refill)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return refills, nil
}

func (s *Store) CreateDeposit(ctx context.Context, dep domain.DepositRecord) (*domain.DepositRecord, error) {
	if dep.ID == "" {
		dep.ID = xid.New("dep")
	}
	if dep.RecordedAt.IsZero() {
		dep.RecordedAt = time.Now().UTC()
	}
	if err := s.insertMovement(ctx, domain.MovementKindDeposit, dep.ID, dep.EmployeeID, dep.Item, dep.Quantity, dep.RecordedAt); err != nil {
		return nil, err
	}
	created := dep
	return &created, nil
}

func (s *Store) ListDeposits(ctx context.Context, employeeID string, from, to time.Time) ([]domain.DepositRecord, error) {
	rows, err := s.listMovements(ctx, domain.MovementKindDeposit, employeeID, from, to)
	if err != nil {
		return nil, err
	}
	deps := make([]domain.DepositRecord, 0, len(rows))
	for _, row := range rows {
		deps = append(deps, domain.DepositRecord(row))
	}
	return deps, nil
}

func (s *Store) CreateReturn(ctx context.Context, ret domain.ReturnRecord) (*domain.ReturnRecord, error) {
	if ret.ID == "" {
		ret.ID = xid.New("ret")
	}
	if ret.RecordedAt.IsZero() {
		ret.RecordedAt = time.Now().UTC()
	}
	if err := s.insertMovement(ctx, domain.MovementKindReturn, ret.ID, ret.EmployeeID, ret.Item, ret.Quantity, ret.RecordedAt); err != nil {
		return nil, err
	}
	created := ret
	return &created, nil
}

func (s *Store) ListReturns(ctx context.Context, employeeID string, from, to time.Time) ([]domain.ReturnRecord, error) {
	rows, err := s.listMovements(ctx, domain.MovementKindReturn, employeeID, from, to)
	if err != nil {
		return nil, err
	}
	rets := make([]domain.ReturnRecord, 0, len(rows))
	for _, row := range rows {
		rets = append(rets, domain.ReturnRecord(row))
	}
	return rets, nil
}

func (s *Store) insertMovement(ctx context.Context, kind string, id string, employeeID string, item domain.ItemRef, qty float64, at time.Time) error {
	if itemkey.Normalize(item.Name) == "" && item.ID == "" {
		return store.ErrInvalidEntry
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cylinder_movements (id, kind, employee_id, item_id, item_name, quantity, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, id, kind, employeeID, nullIfEmpty(item.ID), item.Name, qty, at)
	return err
}

func (s *Store) listMovements(ctx context.Context, kind string, employeeID string, from, to time.Time) ([]domain.DepositRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, item_id, item_name, quantity, recorded_at
		FROM cylinder_movements
		WHERE kind = $1 AND employee_id = $2 AND recorded_at >= $3 AND recorded_at < $4
		ORDER BY recorded_at ASC
	`, kind, employeeID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.DepositRecord, 0, 32)
	for rows.Next() {
		var mv domain.DepositRecord
		var itemID sql.NullString
		if err := rows.Scan(&mv.ID, &mv.EmployeeID, &itemID, &mv.Item.Name, &mv.Quantity, &mv.RecordedAt); err != nil {
			return nil, err
		}
		mv.Item.ID = itemID.String
		mv.RecordedAt = mv.RecordedAt.UTC()
		movements = append(movements, mv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) CreateAssignment(ctx context.Context, assignment domain.AssignmentRecord) (*domain.AssignmentRecord, error) {
	if assignment.EmployeeID == "" {
		return nil, store.ErrInvalidEntry
	}
	if assignment.ID == "" {
		assignment.ID = xid.New("asg")
	}
	if assignment.AssignedAt.IsZero() {
		assignment.AssignedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_assignments (id, employee_id, item_id, item_name, quantity, assigned_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, assignment.ID, assignment.EmployeeID, nullIfEmpty(assignment.Item.ID), assignment.Item.Name, assignment.Quantity, assignment.AssignedAt)
	if err != nil {
		return nil, err
	}
	created := assignment
	return &created, nil
}

func (s *Store) ListAssignments(ctx context.Context, employeeID string, from, to time.Time) ([]domain.AssignmentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, item_id, item_name, quantity, assigned_at
		FROM stock_assignments
		WHERE employee_id = $1 AND assigned_at >= $2 AND assigned_at < $3
		ORDER BY assigned_at ASC
	`, employeeID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	assignments := make([]domain.AssignmentRecord, 0, 32)
	for rows.Next() {
		var assignment domain.AssignmentRecord
		var itemID sql.NullString
		if err := rows.Scan(&assignment.ID, &assignment.EmployeeID, &itemID, &assignment.Item.Name, &assignment.Quantity, &assignment.AssignedAt); err != nil {
			return nil, err
		}
		assignment.Item.ID = itemID.String
		assignment.AssignedAt = assignment.AssignedAt.UTC()
		assignments = append(assignments, assignment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assignments, nil
}

// UpsertStockEntry merges a partial patch into the (date, item, scope) row.
// Omitted fields keep their stored value; with fill_only the patch only fills
// fields the row does not carry yet, so day-rollover seeds never clobber an
// explicit edit. This mirrors engine.ApplyPatch.
func (s *Store) UpsertStockEntry(ctx context.Context, patch domain.StockEntryPatch) (*domain.StockEntry, error) {
	key := itemkey.Normalize(patch.ItemName)
	if patch.Date == "" || key == "" {
		return nil, store.ErrInvalidEntry
	}
	if _, err := time.Parse(dateFormat, patch.Date); err != nil {
		return nil, store.ErrInvalidEntry
	}

	var entry domain.StockEntry
	var entryDate time.Time
	var itemID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO daily_stock_entries (
			entry_date, item_key, item_name, item_id, employee_id,
			opening_full, opening_empty,
			refilled, cylinder_sales, gas_sales, deposits, returns,
			closing_full, closing_empty, updated_at
		)
		VALUES (
			$1, $2, $3, $4, $5,
			$6, $7,
			COALESCE($8, 0), COALESCE($9, 0), COALESCE($10, 0), COALESCE($11, 0), COALESCE($12, 0),
			$13, $14, now()
		)
		ON CONFLICT (entry_date, item_key, employee_id) DO UPDATE SET
			item_id = COALESCE(daily_stock_entries.item_id, EXCLUDED.item_id),
			opening_full = CASE WHEN $15 THEN COALESCE(daily_stock_entries.opening_full, $6)
				ELSE COALESCE($6, daily_stock_entries.opening_full) END,
			opening_empty = CASE WHEN $15 THEN COALESCE(daily_stock_entries.opening_empty, $7)
				ELSE COALESCE($7, daily_stock_entries.opening_empty) END,
			refilled = CASE WHEN $15 THEN daily_stock_entries.refilled
				ELSE COALESCE($8, daily_stock_entries.refilled) END,
			cylinder_sales = CASE WHEN $15 THEN daily_stock_entries.cylinder_sales
				ELSE COALESCE($9, daily_stock_entries.cylinder_sales) END,
			gas_sales = CASE WHEN $15 THEN daily_stock_entries.gas_sales
				ELSE COALESCE($10, daily_stock_entries.gas_sales) END,
			deposits = CASE WHEN $15 THEN daily_stock_entries.deposits
				ELSE COALESCE($11, daily_stock_entries.deposits) END,
			returns = CASE WHEN $15 THEN daily_stock_entries.returns
				ELSE COALESCE($12, daily_stock_entries.returns) END,
			closing_full = CASE WHEN $15 THEN COALESCE(daily_stock_entries.closing_full, $13)
				ELSE COALESCE($13, daily_stock_entries.closing_full) END,
			closing_empty = CASE WHEN $15 THEN COALESCE(daily_stock_entries.closing_empty, $14)
				ELSE COALESCE($14, daily_stock_entries.closing_empty) END,
			updated_at = now()
		RETURNING entry_date, item_name, item_id, employee_id,
			opening_full, opening_empty,
			refilled, cylinder_sales, gas_sales, deposits, returns,
			closing_full, closing_empty, updated_at
	`, patch.Date, key, patch.ItemName, nullIfEmpty(patch.ItemID), patch.EmployeeID,
		nullInt(patch.OpeningFull), nullInt(patch.OpeningEmpty),
		nullInt(patch.Refilled), nullInt(patch.CylinderSales), nullInt(patch.GasSales),
		nullInt(patch.Deposits), nullInt(patch.Returns),
		nullInt(patch.ClosingFull), nullInt(patch.ClosingEmpty),
		patch.FillOnly,
	).Scan(&entryDate, &entry.ItemName, &itemID, &entry.EmployeeID,
		&entry.OpeningFull, &entry.OpeningEmpty,
		&entry.Refilled, &entry.CylinderSales, &entry.GasSales, &entry.Deposits, &entry.Returns,
		&entry.ClosingFull, &entry.ClosingEmpty, &entry.UpdatedAt)
	if err != nil {
		return nil, err
	}

	entry.Date = entryDate.Format(dateFormat)
	entry.ItemID = itemID.String
	entry.UpdatedAt = entry.UpdatedAt.UTC()
	return &entry, nil
}

func (s *Store) ListStockEntries(ctx context.Context, date string, employeeID string) ([]domain.StockEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_date, item_name, item_id, employee_id,
			opening_full, opening_empty,
			refilled, cylinder_sales, gas_sales, deposits, returns,
			closing_full, closing_empty, updated_at
		FROM daily_stock_entries
		WHERE entry_date = $1 AND employee_id = $2
		ORDER BY item_key ASC
	`, date, employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.StockEntry, 0, 16)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) GetPreviousStockEntry(ctx context.Context, itemName string, date string, employeeID string) (*domain.StockEntry, error) {
	key := itemkey.Normalize(itemName)
	if key == "" {
		return nil, store.ErrInvalidEntry
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT entry_date, item_name, item_id, employee_id,
			opening_full, opening_empty,
			refilled, cylinder_sales, gas_sales, deposits, returns,
			closing_full, closing_empty, updated_at
		FROM daily_stock_entries
		WHERE item_key = $1 AND employee_id = $2 AND entry_date < $3
		ORDER BY entry_date DESC
		LIMIT 1
	`, key, employeeID, date)

	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (domain.StockEntry, error) {
	var entry domain.StockEntry
	var entryDate time.Time
	var itemID sql.NullString
	err := row.Scan(&entryDate, &entry.ItemName, &itemID, &entry.EmployeeID,
		&entry.OpeningFull, &entry.OpeningEmpty,
		&entry.Refilled, &entry.CylinderSales, &entry.GasSales, &entry.Deposits, &entry.Returns,
		&entry.ClosingFull, &entry.ClosingEmpty, &entry.UpdatedAt)
	if err != nil {
		return domain.StockEntry{}, err
	}
	entry.Date = entryDate.Format(dateFormat)
	entry.ItemID = itemID.String
	entry.UpdatedAt = entry.UpdatedAt.UTC()
	return entry, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidEntry
	}
	if user.Role == "" {
		user.Role = "employee"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidEntry
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidEntry
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullInt(val *int) any {
	if val == nil {
		return nil
	}
	return *val
}
