package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
)

// memUserStore is an in-memory UserStore for service tests.
type memUserStore struct {
	users  map[string]*User
	tokens map[string]map[string]time.Time // userID -> token -> expiry
}

func newMemUserStore() *memUserStore {
	return &memUserStore{
		users:  make(map[string]*User),
		tokens: make(map[string]map[string]time.Time),
	}
}

func (m *memUserStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, ErrUserNotFound
}

func (m *memUserStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *memUserStore) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	m.users[user.ID] = user
	return nil
}

func (m *memUserStore) UpdateUser(ctx context.Context, user *User) error {
	m.users[user.ID] = user
	return nil
}

func (m *memUserStore) DeleteUser(ctx context.Context, id string) error {
	delete(m.users, id)
	return nil
}

func (m *memUserStore) ListUsers(ctx context.Context, tenantID uuid.UUID) ([]*User, error) {
	var users []*User
	for _, u := range m.users {
		if u.TenantID == tenantID {
			users = append(users, u)
		}
	}
	return users, nil
}

func (m *memUserStore) StoreRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	if m.tokens[userID] == nil {
		m.tokens[userID] = make(map[string]time.Time)
	}
	m.tokens[userID][token] = expiresAt
	return nil
}

func (m *memUserStore) ValidateRefreshToken(ctx context.Context, userID, token string) (bool, error) {
	expiry, ok := m.tokens[userID][token]
	return ok && expiry.After(time.Now()), nil
}

func (m *memUserStore) RevokeRefreshToken(ctx context.Context, userID, token string) error {
	delete(m.tokens[userID], token)
	return nil
}

func (m *memUserStore) RevokeAllRefreshTokens(ctx context.Context, userID string) error {
	delete(m.tokens, userID)
	return nil
}

func newTestService() (*Service, *memUserStore) {
	store := newMemUserStore()
	svc := NewService(Config{JWTSecret: "test-secret"}, store)
	return svc, store
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	tenantID := uuid.New()

	user, err := svc.Register(ctx, tenantID, "  Alice@Example.COM ", "Alice", "s3cret", RoleReviewer)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Errorf("expected normalized email, got %q", user.Email)
	}
	if user.Password == "s3cret" {
		t.Error("password must be stored hashed")
	}

	pair, err := svc.Login(ctx, "ALICE@example.com", "s3cret")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if pair.TokenType != "Bearer" {
		t.Errorf("expected Bearer token type, got %q", pair.TokenType)
	}

	claims, err := svc.ValidateToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.TenantID != tenantID {
		t.Errorf("expected tenant %s in claims, got %s", tenantID, claims.TenantID)
	}
	if claims.Role != RoleReviewer {
		t.Errorf("expected reviewer role, got %s", claims.Role)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, uuid.New(), "bob@example.com", "Bob", "right", ""); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, err := svc.Login(ctx, "bob@example.com", "wrong"); err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody@example.com", "right"); err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestRegister_DefaultsToViewer(t *testing.T) {
	svc, _ := newTestService()

	user, err := svc.Register(context.Background(), uuid.New(), "c@example.com", "C", "pw", "")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if user.Role != RoleViewer {
		t.Errorf("expected viewer default, got %s", user.Role)
	}
}

func TestValidateToken_Tampered(t *testing.T) {
	svc, _ := newTestService()
	other := NewService(Config{JWTSecret: "different-secret"}, newMemUserStore())

	pair, err := otherLogin(other)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	if _, err := svc.ValidateToken(pair.AccessToken); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken for foreign signature, got %v", err)
	}
	if _, err := svc.ValidateToken("not.a.jwt"); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func otherLogin(svc *Service) (*TokenPair, error) {
	ctx := context.Background()
	if _, err := svc.Register(ctx, uuid.New(), "eve@example.com", "Eve", "pw", ""); err != nil {
		return nil, err
	}
	return svc.Login(ctx, "eve@example.com", "pw")
}

func TestValidateToken_Expired(t *testing.T) {
	store := newMemUserStore()
	svc := NewService(Config{
		JWTSecret:         "test-secret",
		AccessTokenExpiry: -time.Minute,
	}, store)
	ctx := context.Background()

	if _, err := svc.Register(ctx, uuid.New(), "d@example.com", "D", "pw", ""); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	pair, err := svc.Login(ctx, "d@example.com", "pw")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if _, err := svc.ValidateToken(pair.AccessToken); err != ErrTokenExpired {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestRefreshTokens_Rotation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, uuid.New(), "f@example.com", "F", "pw", ""); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	pair, err := svc.Login(ctx, "f@example.com", "pw")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	refreshed, err := svc.RefreshTokens(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshTokens failed: %v", err)
	}
	if refreshed.AccessToken == "" {
		t.Error("expected a new access token")
	}

	// The presented refresh token is single use.
	if _, err := svc.RefreshTokens(ctx, pair.RefreshToken); err == nil {
		t.Error("expected reused refresh token to be rejected")
	}
}

func TestMiddleware(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	tenantID := uuid.New()

	if _, err := svc.Register(ctx, tenantID, "g@example.com", "G", "pw", RoleAdmin); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	pair, err := svc.Login(ctx, "g@example.com", "pw")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	var gotTenant uuid.UUID
	handler := svc.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant, _ = TenantFromContext(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid bearer token", fmt.Sprintf("Bearer %s", pair.AccessToken), http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"malformed header", "Token abc", http.StatusUnauthorized},
		{"invalid token", "Bearer bogus", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, rec.Code)
			}
		})
	}

	if gotTenant != tenantID {
		t.Errorf("expected tenant %s resolved from claims, got %s", tenantID, gotTenant)
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	tests := []struct {
		name   string
		claims *Claims
		status int
	}{
		{"admin allowed", &Claims{Role: RoleAdmin}, http.StatusOK},
		{"viewer forbidden", &Claims{Role: RoleViewer}, http.StatusForbidden},
		{"no claims unauthorized", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.claims != nil {
				req = req.WithContext(context.WithValue(req.Context(), userContextKey, tt.claims))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, rec.Code)
			}
		})
	}
}
