package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"pangkalangas/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   []domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, user)
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, len(s.users))
	copy(out, s.users)
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	for i := range s.users {
		if s.users[i].Username == username {
			s.users[i].Password = password
		}
	}
	return nil
}

func mustHashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return string(hash)
}

func TestLoginUpgradesLegacyPlainTextPassword(t *testing.T) {
	stub := &userStoreStub{users: []domain.UserAccount{{
		Username:  "admin",
		Password:  "plain-secret",
		Role:      "admin",
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}}}

	auth := NewAuthManager("test-secret-key", time.Hour, "739154", stub)

	resp, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "plain-secret"})
	if err != nil {
		t.Fatalf("login with legacy password failed: %v", err)
	}
	if resp.AccessToken == "" || resp.Role != "admin" {
		t.Fatalf("unexpected login response: %+v", resp)
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	if stub.updates == 0 {
		t.Fatalf("expected legacy password to be rewritten as a hash")
	}
	if !isPasswordHash(stub.users[0].Password) {
		t.Fatalf("stored password is still plain text: %q", stub.users[0].Password)
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	stub := &userStoreStub{users: []domain.UserAccount{{
		Username:  "budi",
		Password:  mustHashPassword(t, "employee123"),
		Role:      "employee",
		Active:    false,
		CreatedAt: time.Now().UTC(),
	}}}

	auth := NewAuthManager("test-secret-key", time.Hour, "739154", stub)

	if _, err := auth.Login(domain.LoginRequest{Username: "budi", Password: "employee123"}); err == nil {
		t.Fatalf("expected inactive account to be rejected")
	}
}

func TestParseTokenRoundTrip(t *testing.T) {
	stub := &userStoreStub{users: []domain.UserAccount{{
		Username:  "budi",
		Password:  mustHashPassword(t, "employee123"),
		Role:      "employee",
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}}}

	auth := NewAuthManager("test-secret-key", time.Hour, "739154", stub)

	resp, err := auth.Login(domain.LoginRequest{Username: "budi", Password: "employee123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "budi" || actor.Role != "employee" {
		t.Fatalf("unexpected actor: %+v", actor)
	}

	if _, err := auth.ParseToken(resp.AccessToken + "tampered"); err == nil {
		t.Fatalf("expected tampered token to be rejected")
	}
}

func TestCreateEmployeeStoresPasswordHash(t *testing.T) {
	stub := &userStoreStub{}
	auth := NewAuthManager("test-secret-key", time.Hour, "739154", stub)

	employee, err := auth.CreateEmployee(domain.EmployeeCreateRequest{Username: "Siti", Password: "rahasia1"})
	if err != nil {
		t.Fatalf("create employee: %v", err)
	}
	if employee.Username != "siti" || employee.Role != "employee" || !employee.Active {
		t.Fatalf("unexpected employee: %+v", employee)
	}

	stub.mu.Lock()
	stored := stub.users[0]
	stub.mu.Unlock()
	if !isPasswordHash(stored.Password) {
		t.Fatalf("expected stored password to be hashed, got %q", stored.Password)
	}
	if bcrypt.CompareHashAndPassword([]byte(stored.Password), []byte("rahasia1")) != nil {
		t.Fatalf("stored hash does not verify against original password")
	}
}

func TestCreateEmployeeValidatesInput(t *testing.T) {
	auth := NewAuthManager("test-secret-key", time.Hour, "739154", nil)

	if _, err := auth.CreateEmployee(domain.EmployeeCreateRequest{Username: "ab", Password: "rahasia1"}); err == nil {
		t.Fatalf("expected short username to be rejected")
	}
	if _, err := auth.CreateEmployee(domain.EmployeeCreateRequest{Username: "siti", Password: "123"}); err == nil {
		t.Fatalf("expected short password to be rejected")
	}
	if _, err := auth.CreateEmployee(domain.EmployeeCreateRequest{Username: "siti", Password: "rahasia1"}); err != nil {
		t.Fatalf("valid employee rejected: %v", err)
	}
	if _, err := auth.CreateEmployee(domain.EmployeeCreateRequest{Username: "SITI", Password: "rahasia1"}); err == nil || !strings.Contains(err.Error(), "exists") {
		t.Fatalf("expected duplicate username to be rejected, got %v", err)
	}
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	auth := NewAuthManager("test-secret-key", time.Hour, "739154", nil)

	if auth.managerPIN == "739154" {
		t.Fatalf("expected the PIN to be stored hashed")
	}
	if !auth.ValidateManagerPIN("739154") {
		t.Fatalf("correct PIN rejected")
	}
	if auth.ValidateManagerPIN("000000") {
		t.Fatalf("wrong PIN accepted")
	}
	if auth.ValidateManagerPIN("") {
		t.Fatalf("empty PIN accepted")
	}
}
