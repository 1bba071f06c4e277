package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pangkalangas/backend/internal/domain"
	"pangkalangas/backend/internal/gateway"
	"pangkalangas/backend/internal/mirror"
	"pangkalangas/backend/internal/service"
	"pangkalangas/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	t.Setenv("SEED_ADMIN_PASSWORD", "admin123")
	t.Setenv("SEED_EMPLOYEE_PASSWORD", "employee123")
	repo := memory.NewSeeded()
	svc := service.New(repo, gateway.New(repo, mirror.NewInProcess()), time.UTC)
	auth := NewAuthManager("test-secret-key", time.Hour, "739154", repo)

	return New(svc, auth, "*")
}

func loginAs(t *testing.T, api *API, username string, password string) string {
	t.Helper()

	payload, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed: %d %s", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func loginAsAdmin(t *testing.T, api *API) string {
	t.Helper()
	return loginAs(t, api, "admin", "admin123")
}

func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("csrf token fetch failed: %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode csrf response: %v", err)
	}
	return body["csrf_token"]
}

func authedJSONRequest(t *testing.T, api *API, method string, path string, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if method != http.MethodGet {
		req.Header.Set("X-CSRF-Token", fetchCSRFToken(t, api))
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	rec := authedJSONRequest(t, api, http.MethodGet, "/api/v1/products", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["products"] == nil {
		t.Fatalf("expected products key in response, got %v", body)
	}
}

func TestHandleCartCheckAllowsLineWithinStock(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	rec := authedJSONRequest(t, api, http.MethodPost, "/api/v1/cart/check", token, domain.CartCheckRequest{
		Line: domain.CartLine{
			Category: domain.CategoryGas,
			Item:     domain.ItemRef{ID: "itm-gas-3", Name: "Gas Isi Ulang 3kg"},
			Quantity: 2,
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var resp domain.CartCheckResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !resp.Allowed || resp.Available != 100 {
		t.Fatalf("unexpected check response: %+v", resp)
	}
}

func TestHandleSalesIsIdempotent(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	req := domain.SaleSubmitRequest{
		IdempotencyKey: "idem-http-1",
		Lines: []domain.CartLine{{
			Category: domain.CategoryGas,
			Item:     domain.ItemRef{ID: "itm-gas-3", Name: "Gas Isi Ulang 3kg"},
			Quantity: 1,
		}},
	}

	first := authedJSONRequest(t, api, http.MethodPost, "/api/v1/sales", token, req)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", first.Code, first.Body.String())
	}

	second := authedJSONRequest(t, api, http.MethodPost, "/api/v1/sales", token, req)
	if second.Code != http.StatusOK {
		t.Fatalf("expected 200 for duplicate, got %d (body: %s)", second.Code, second.Body.String())
	}
	var resp domain.SaleSubmitResponse
	if err := json.NewDecoder(second.Body).Decode(&resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !resp.Duplicate {
		t.Fatalf("expected duplicate flag, got %+v", resp)
	}
}

func TestHandleRefillsForbiddenForEmployee(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "budi", "employee123")

	rec := authedJSONRequest(t, api, http.MethodPost, "/api/v1/refills", token, domain.RefillRequest{
		Cylinder: domain.ItemRef{Name: "Tabung 3kg"}, Quantity: 2,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleDailyStockUpsertRequiresManagerPIN(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	patch := domain.StockEntryPatch{
		Date: "2024-03-01", ItemName: "Tabung 3kg", OpeningFull: domain.IntPtr(10),
	}

	// Without the PIN header the edit is refused.
	rec := authedJSONRequest(t, api, http.MethodPost, "/api/v1/stock/daily", token, patch)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without PIN, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(patch); err != nil {
		t.Fatalf("encode patch: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stock/daily", &body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", fetchCSRFToken(t, api))
	req.Header.Set("X-Manager-PIN", "739154")
	rec2 := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec2, req)

	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 with PIN, got %d (body: %s)", rec2.Code, rec2.Body.String())
	}
	var resp domain.UpsertStockResponse
	if err := json.NewDecoder(rec2.Body).Decode(&resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if *resp.Entry.OpeningFull != 10 {
		t.Fatalf("unexpected entry: %+v", resp.Entry)
	}
}

func TestHandleStockReconcile(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	rec := authedJSONRequest(t, api, http.MethodPost, "/api/v1/stock/reconcile", token, domain.ReconcileRequest{
		Date: "2024-03-01",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var resp domain.DailyStockResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	// The seeded catalog carries two cylinder items; both get a book row.
	if len(resp.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", resp.Entries)
	}
}

func TestHandleDailyStockGetScopesEmployee(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "budi", "employee123")

	rec := authedJSONRequest(t, api, http.MethodGet, "/api/v1/stock/daily?date=2024-03-01&employee_id=siti", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cross-scope read, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = authedJSONRequest(t, api, http.MethodGet, "/api/v1/stock/daily?date=2024-03-01", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp domain.DailyStockResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.EmployeeID != "budi" {
		t.Fatalf("expected scope pinned to budi, got %q", resp.EmployeeID)
	}
}
