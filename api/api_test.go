package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cashflowhq/cashflow-api/api"
	"github.com/cashflowhq/cashflow-api/books"
	"github.com/cashflowhq/cashflow-api/idempotency"
	"github.com/cashflowhq/cashflow-api/ledger"
	"github.com/cashflowhq/cashflow-api/locks"
	"github.com/cashflowhq/cashflow-api/outbox"
	"github.com/cashflowhq/cashflow-api/store/sqlite"
)

// ===== FIXTURE =====

type apiFixture struct {
	t      *testing.T
	router http.Handler
	tenant ledger.TenantID
	secret string
}

// newAPIFixture stands up the router over a real service and an in-memory
// store with one provisioned company. An empty secret selects dev auth.
func newAPIFixture(t *testing.T, secret string) *apiFixture {
	t.Helper()

	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	tenant := ledger.TenantID("t-" + uuid.NewString()[:8])
	require.NoError(t, st.WithTx(context.Background(), func(tx books.Tx) error {
		return tx.InsertCompany(context.Background(), &books.Company{ID: tenant, Name: "Acme Trading"})
	}))

	svc := books.NewService(st, locks.NewManager(nil, nil), idempotency.NewRunner(st), outbox.NewPublisher(st, nil, nil), nil)
	return &apiFixture{
		t:      t,
		router: api.NewRouter(api.NewHandler(svc, secret, nil)),
		tenant: tenant,
		secret: secret,
	}
}

type reqOpt func(*http.Request)

func withKey() reqOpt {
	return func(r *http.Request) { r.Header.Set("Idempotency-Key", uuid.NewString()) }
}

func withSameKey(key string) reqOpt {
	return func(r *http.Request) { r.Header.Set("Idempotency-Key", key) }
}

func withToken(token string) reqOpt {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func (f *apiFixture) do(method, path, body string, opts ...reqOpt) *httptest.ResponseRecorder {
	f.t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("{}")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) companyPath(rest string) string {
	return "/companies/" + string(f.tenant) + rest
}

// token signs an HS256 JWT the way the auth middleware expects.
func (f *apiFixture) token(tenant ledger.TenantID, role string) string {
	claims := jwt.MapClaims{
		"sub":       "user-1",
		"tenant_id": string(tenant),
		"role":      role,
		"exp":       time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(f.secret))
	require.NoError(f.t, err)
	return signed
}

func decodeBody[V any](t *testing.T, rec *httptest.ResponseRecorder) V {
	t.Helper()
	var v V
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

// ===== LIVENESS =====

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t, "")
	rec := f.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

// ===== IDEMPOTENCY HEADER =====

func TestCommands_RequireIdempotencyKey(t *testing.T) {
	f := newAPIFixture(t, "")

	rec := f.do(http.MethodPost, f.companyPath("/customers"), `{"name":"Globex"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, ledger.CodeValidation, body["code"])

	// Reads never need the header.
	rec = f.do(http.MethodGet, f.companyPath("/customers"), "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCommands_ReplayMarkedOnRetry(t *testing.T) {
	f := newAPIFixture(t, "")
	key := uuid.NewString()

	first := f.do(http.MethodPost, f.companyPath("/customers"), `{"name":"Globex"}`, withSameKey(key))
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get("Idempotent-Replay"))

	second := f.do(http.MethodPost, f.companyPath("/customers"), `{"name":"Globex"}`, withSameKey(key))
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replay"))
	assert.Equal(t, first.Body.String(), second.Body.String())
}

// ===== AUTHENTICATION =====

func TestAuth_TokenRequired(t *testing.T) {
	f := newAPIFixture(t, "s3cret")

	rec := f.do(http.MethodGet, f.companyPath("/customers"), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, f.companyPath("/customers"), "", withToken("not-a-jwt"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, f.companyPath("/customers"), "", withToken(f.token(f.tenant, "VIEWER")))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_TenantGuard(t *testing.T) {
	f := newAPIFixture(t, "s3cret")

	other := f.token(ledger.TenantID("t-someone-else"), "OWNER")
	rec := f.do(http.MethodGet, f.companyPath("/customers"), "", withToken(other))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "FORBIDDEN", body["code"])
}

func TestAuth_RoleGates(t *testing.T) {
	f := newAPIFixture(t, "s3cret")

	// VIEWER can read but never draft.
	viewer := f.token(f.tenant, "VIEWER")
	rec := f.do(http.MethodPost, f.companyPath("/customers"), `{"name":"Globex"}`, withToken(viewer), withKey())
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// CLERK drafts but cannot post.
	clerk := f.token(f.tenant, "CLERK")
	rec = f.do(http.MethodPost, f.companyPath("/customers"), `{"name":"Globex"}`, withToken(clerk), withKey())
	assert.Equal(t, http.StatusCreated, rec.Code)
	rec = f.do(http.MethodPost, f.companyPath("/invoices/some-id/post"), "", withToken(clerk), withKey())
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// ACCOUNTANT reaches the posting routes (and gets a domain 404 for a
	// missing document rather than a role rejection).
	accountant := f.token(f.tenant, "ACCOUNTANT")
	rec = f.do(http.MethodPost, f.companyPath("/invoices/some-id/post"), "", withToken(accountant), withKey())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ===== ERROR RENDERING =====

func TestDomainErrorsRenderCodeAndMessage(t *testing.T) {
	f := newAPIFixture(t, "")

	rec := f.do(http.MethodGet, f.companyPath("/invoices/nope"), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, ledger.CodeNotFound, body["code"])
	assert.Contains(t, body["error"], "not found")
}

func TestMalformedBodyRejected(t *testing.T) {
	f := newAPIFixture(t, "")

	rec := f.do(http.MethodPost, f.companyPath("/customers"), `{"name":`, withKey())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, ledger.CodeValidation, body["code"])

	// Unknown fields are rejected, not silently dropped.
	rec = f.do(http.MethodPost, f.companyPath("/customers"), `{"name":"Globex","surprise":1}`, withKey())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidationErrorsRender400(t *testing.T) {
	f := newAPIFixture(t, "")

	// CustomerInput requires a name.
	rec := f.do(http.MethodPost, f.companyPath("/customers"), `{"email":"x@example.com"}`, withKey())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, ledger.CodeValidation, body["code"])
}
