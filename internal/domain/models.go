package domain

import "time"

// ItemCategory is a closed set; the aggregator and reservation calculator
// switch exhaustively on it.
type ItemCategory string

const (
	CategoryGas      ItemCategory = "gas"
	CategoryCylinder ItemCategory = "cylinder"
)

func (c ItemCategory) Valid() bool {
	switch c {
	case CategoryGas, CategoryCylinder:
		return true
	}
	return false
}

// CylinderStatus distinguishes the two inventory pools of a physical cylinder.
type CylinderStatus string

const (
	StatusFull  CylinderStatus = "full"
	StatusEmpty CylinderStatus = "empty"
)

func (s CylinderStatus) Valid() bool {
	switch s {
	case StatusFull, StatusEmpty:
		return true
	}
	return false
}

type CylinderSize string

const (
	SizeLarge CylinderSize = "large"
	SizeSmall CylinderSize = "small"
)

// Item is read-only catalog reference data, looked up by id or by normalized
// name. CylinderStatus is set only when the item denotes a specific state.
type Item struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Category       ItemCategory   `json:"category"`
	CylinderSize   CylinderSize   `json:"cylinderSize,omitempty"`
	CylinderStatus CylinderStatus `json:"cylinderStatus,omitempty"`
}

// ItemRef names an item in a transaction record or cart line. The stable id
// is preferred for matching; the name is the fallback (catalog renames drift
// between a transaction's snapshot and the live catalog).
type ItemRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// StockEntry is the reconciled record for one item on one calendar date.
// Opening and closing balances are pointers: absent means "not explicitly
// set", which the reconciler and the rollover logic rely on. The wire shape
// matches the upsert/read endpoints (DATE format "2006-01-02").
type StockEntry struct {
	Date          string    `json:"date"`
	ItemName      string    `json:"itemName"`
	ItemID        string    `json:"itemId,omitempty"`
	EmployeeID    string    `json:"employeeId,omitempty"`
	OpeningFull   *int      `json:"openingFull,omitempty"`
	OpeningEmpty  *int      `json:"openingEmpty,omitempty"`
	Refilled      int       `json:"refilled"`
	CylinderSales int       `json:"cylinderSales"`
	GasSales      int       `json:"gasSales"`
	Deposits      int       `json:"deposits"`
	Returns       int       `json:"returns"`
	ClosingFull   *int      `json:"closingFull,omitempty"`
	ClosingEmpty  *int      `json:"closingEmpty,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt,omitempty"`
}

// StockEntryPatch is a partial upsert. The store merges by
// (date, itemName[, employeeId]), filling omitted fields from the previous
// value. FillOnly restricts the merge further: a field is applied only when
// the stored entry does not have it set yet (used by day rollover so an
// independently edited day is never overwritten).
type StockEntryPatch struct {
	Date          string `json:"date"`
	ItemName      string `json:"itemName"`
	ItemID        string `json:"itemId,omitempty"`
	EmployeeID    string `json:"employeeId,omitempty"`
	OpeningFull   *int   `json:"openingFull,omitempty"`
	OpeningEmpty  *int   `json:"openingEmpty,omitempty"`
	Refilled      *int   `json:"refilled,omitempty"`
	CylinderSales *int   `json:"cylinderSales,omitempty"`
	GasSales      *int   `json:"gasSales,omitempty"`
	Deposits      *int   `json:"deposits,omitempty"`
	Returns       *int   `json:"returns,omitempty"`
	ClosingFull   *int   `json:"closingFull,omitempty"`
	ClosingEmpty  *int   `json:"closingEmpty,omitempty"`
	FillOnly      bool   `json:"-"`
}

// DailyTotals is one item's aggregated movement for one calendar day.
type DailyTotals struct {
	ItemName      string `json:"itemName"`
	ItemID        string `json:"itemId,omitempty"`
	Refilled      int    `json:"refilled"`
	GasSales      int    `json:"gasSales"`
	CylinderSales int    `json:"cylinderSales"`
	Deposits      int    `json:"deposits"`
	Returns       int    `json:"returns"`
}

// Transaction records. All are read-only inputs to the aggregator; quantities
// arrive as raw JSON numbers and are coerced (missing/NaN/negative -> 0,
// fractional -> floor) during aggregation. EmployeeID empty means the
// admin/site scope.

type GasSaleLine struct {
	ID         string    `json:"id,omitempty"`
	EmployeeID string    `json:"employeeId,omitempty"`
	Item       ItemRef   `json:"item"`
	Quantity   float64   `json:"quantity"`
	Cylinder   *ItemRef  `json:"cylinder,omitempty"`
	SoldAt     time.Time `json:"soldAt"`
}

type CylinderSaleLine struct {
	ID         string         `json:"id,omitempty"`
	EmployeeID string         `json:"employeeId,omitempty"`
	Item       ItemRef        `json:"item"`
	Quantity   float64        `json:"quantity"`
	Status     CylinderStatus `json:"status"`
	Gas        *ItemRef       `json:"gas,omitempty"`
	SoldAt     time.Time      `json:"soldAt"`
}

type RefillRecord struct {
	ID         string    `json:"id,omitempty"`
	EmployeeID string    `json:"employeeId,omitempty"`
	Cylinder   ItemRef   `json:"cylinder"`
	Quantity   float64   `json:"quantity"`
	RefilledAt time.Time `json:"refilledAt"`
}

type DepositRecord struct {
	ID         string    `json:"id,omitempty"`
	EmployeeID string    `json:"employeeId,omitempty"`
	Item       ItemRef   `json:"item"`
	Quantity   float64   `json:"quantity"`
	RecordedAt time.Time `json:"recordedAt"`
}

type ReturnRecord struct {
	ID         string    `json:"id,omitempty"`
	EmployeeID string    `json:"employeeId,omitempty"`
	Item       ItemRef   `json:"item"`
	Quantity   float64   `json:"quantity"`
	RecordedAt time.Time `json:"recordedAt"`
}

// AssignmentRecord is an employee stock-assignment receipt: full cylinders
// handed to an employee. In the per-employee reconciliation scope it plays
// the role refills play in the admin scope.
type AssignmentRecord struct {
	ID         string    `json:"id,omitempty"`
	EmployeeID string    `json:"employeeId"`
	Item       ItemRef   `json:"item"`
	Quantity   float64   `json:"quantity"`
	AssignedAt time.Time `json:"assignedAt"`
}

// CartLine is a not-yet-submitted sale line. It exists only while a sale is
// being built and is never persisted; the reservation calculator reads it to
// keep concurrent lines in one cart from collectively overselling.
type CartLine struct {
	Category       ItemCategory   `json:"category"`
	Item           ItemRef        `json:"item"`
	Quantity       int            `json:"quantity"`
	Status         CylinderStatus `json:"status,omitempty"`
	LinkedCylinder *ItemRef       `json:"linkedCylinder,omitempty"`
	LinkedGas      *ItemRef       `json:"linkedGas,omitempty"`
}

// Sale is a committed sale: the cart lines at submit time plus the derived
// transaction rows the aggregator later consumes.
type Sale struct {
	ID             string    `json:"id"`
	EmployeeID     string    `json:"employeeId,omitempty"`
	IdempotencyKey string    `json:"idempotencyKey"`
	Lines          []CartLine `json:"lines"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Requests and responses.

type ReconcileRequest struct {
	Date       string `json:"date"`
	EmployeeID string `json:"employeeId,omitempty"`
}

type DailyStockResponse struct {
	Date       string       `json:"date"`
	EmployeeID string       `json:"employeeId,omitempty"`
	Entries    []StockEntry `json:"entries"`
	Skipped    int          `json:"skippedRecords,omitempty"`
	Cached     bool         `json:"cached"`
}

type UpsertStockResponse struct {
	Entry  StockEntry `json:"entry"`
	Queued bool       `json:"queued"`
}

type CartCheckRequest struct {
	EmployeeID string     `json:"employeeId,omitempty"`
	Lines      []CartLine `json:"lines"`
	Line       CartLine   `json:"line"`
}

type CartCheckResponse struct {
	Allowed   bool `json:"allowed"`
	Available int  `json:"available"`
	Reserved  int  `json:"reserved"`
	Remaining int  `json:"remaining"`
	Required  int  `json:"required"`
}

type SaleSubmitRequest struct {
	EmployeeID     string     `json:"employeeId,omitempty"`
	IdempotencyKey string     `json:"idempotencyKey"`
	Lines          []CartLine `json:"lines"`
}

type SaleSubmitResponse struct {
	SaleID    string `json:"saleId"`
	LineCount int    `json:"lineCount"`
	Duplicate bool   `json:"duplicate"`
	CreatedAt string `json:"createdAt"`
}

type RefillRequest struct {
	Cylinder ItemRef `json:"cylinder"`
	Quantity float64 `json:"quantity"`
}

type CylinderMovementRequest struct {
	Kind       string  `json:"kind"` // "deposit" | "return"
	EmployeeID string  `json:"employeeId,omitempty"`
	Item       ItemRef `json:"item"`
	Quantity   float64 `json:"quantity"`
}

type AssignmentRequest struct {
	EmployeeID string  `json:"employeeId"`
	Item       ItemRef `json:"item"`
	Quantity   float64 `json:"quantity"`
}

const (
	MovementKindDeposit = "deposit"
	MovementKindReturn  = "return"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type EmployeeCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type EmployeeUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// IntPtr is a convenience for building patches and test fixtures.
func IntPtr(v int) *int { return &v }
