package store

import (
	"context"
	"errors"
	"time"

	"pangkalangas/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidEntry      = errors.New("invalid entry")
)

// Repository is the remote persistence contract. An empty employeeID selects
// the admin/site scope; a non-empty one selects that employee's scope. The
// two scopes are never mixed by the store: records are filtered on exactly
// the employee id they were written with.
type Repository interface {
	ListItems(ctx context.Context) ([]domain.Item, error)
	GetItemByID(ctx context.Context, id string) (*domain.Item, error)
	GetStockMap(ctx context.Context, itemIDs []string) (map[string]int, error)
	AdjustStock(ctx context.Context, itemID string, delta int) error

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)
	ListGasSales(ctx context.Context, employeeID string, from, to time.Time) ([]domain.GasSaleLine, error)
	ListCylinderSales(ctx context.Context, employeeID string, from, to time.Time) ([]domain.CylinderSaleLine, error)

	CreateRefill(ctx context.Context, refill domain.RefillRecord) (*domain.RefillRecord, error)
	ListRefills(ctx context.Context, from, to time.Time) ([]domain.RefillRecord, error)
	CreateDeposit(ctx context.Context, dep domain.DepositRecord) (*domain.DepositRecord, error)
	ListDeposits(ctx context.Context, employeeID string, from, to time.Time) ([]domain.DepositRecord, error)
	CreateReturn(ctx context.Context, ret domain.ReturnRecord) (*domain.ReturnRecord, error)
	ListReturns(ctx context.Context, employeeID string, from, to time.Time) ([]domain.ReturnRecord, error)
	CreateAssignment(ctx context.Context, assignment domain.AssignmentRecord) (*domain.AssignmentRecord, error)
	ListAssignments(ctx context.Context, employeeID string, from, to time.Time) ([]domain.AssignmentRecord, error)

	UpsertStockEntry(ctx context.Context, patch domain.StockEntryPatch) (*domain.StockEntry, error)
	ListStockEntries(ctx context.Context, date string, employeeID string) ([]domain.StockEntry, error)
	GetPreviousStockEntry(ctx context.Context, itemName string, date string, employeeID string) (*domain.StockEntry, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
