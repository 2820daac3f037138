/*
middleware.go - Authentication, tenant guard, roles, idempotency header

PURPOSE:
  Bearer-token auth populating the request principal, the tenant guard
  binding a token to the {tenantID} route segment, role checks for the
  write paths, and the Idempotency-Key requirement on every command.

PRINCIPAL:
  Tokens are HMAC-signed JWTs carrying sub (user id), tenant_id and role.
  With no signing secret configured the server runs in dev mode: every
  request gets an OWNER principal for the routed tenant.

ROLES:
  OWNER > ACCOUNTANT > CLERK > VIEWER. Drafting needs CLERK, posting and
  money movement need ACCOUNTANT, configuration needs OWNER. Reads need
  any authenticated role.
*/
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/cashflowhq/cashflow-api/ledger"
)

// =============================================================================
// PRINCIPAL
// =============================================================================

type Role string

const (
	RoleOwner      Role = "OWNER"
	RoleAccountant Role = "ACCOUNTANT"
	RoleClerk      Role = "CLERK"
	RoleViewer     Role = "VIEWER"
)

var roleRank = map[Role]int{
	RoleViewer:     1,
	RoleClerk:      2,
	RoleAccountant: 3,
	RoleOwner:      4,
}

// Atleast reports whether the role grants at least min's privileges.
func (r Role) Atleast(min Role) bool { return roleRank[r] >= roleRank[min] }

// Principal is the authenticated caller.
type Principal struct {
	UserID   ledger.UserID
	TenantID ledger.TenantID
	Role     Role
}

type ctxKey int

const principalKey ctxKey = 0

func principalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

type tokenClaims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticate parses the bearer token and stores the principal. With an
// empty secret every request is admitted as OWNER of the routed tenant.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.JWTSecret == "" {
			p := Principal{
				UserID:   "dev-user",
				TenantID: ledger.TenantID(chi.URLParam(r, "tenantID")),
				Role:     RoleOwner,
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing bearer token")
			return
		}

		var claims tokenClaims
		_, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), &claims,
			func(*jwt.Token) (any, error) { return []byte(h.JWTSecret), nil },
			jwt.WithValidMethods([]string{"HS256"}))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid token")
			return
		}

		role := Role(claims.Role)
		if _, ok := roleRank[role]; !ok {
			role = RoleViewer
		}
		p := Principal{
			UserID:   ledger.UserID(claims.Subject),
			TenantID: ledger.TenantID(claims.TenantID),
			Role:     role,
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
	})
}

// TenantGuard rejects callers whose token is bound to a different tenant
// than the one in the URL.
func (h *Handler) TenantGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "no principal")
			return
		}
		routed := ledger.TenantID(chi.URLParam(r, "tenantID"))
		if routed == "" || p.TenantID != routed {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "token is not valid for this company")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole gates a route subtree on a minimum role.
func RequireRole(min Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := principalFrom(r.Context())
			if !ok || !p.Role.Atleast(min) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "insufficient role for this operation")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireIdempotencyKey enforces the Idempotency-Key header on commands.
func RequireIdempotencyKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Idempotency-Key") == "" {
			writeError(w, http.StatusBadRequest, ledger.CodeValidation, "Idempotency-Key header is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
