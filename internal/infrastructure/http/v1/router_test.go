package v1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"ledgerbridge/internal/core/apperror"
	"ledgerbridge/internal/core/security"
	"ledgerbridge/internal/domain/auth"
	"ledgerbridge/internal/domain/invoice"
	"ledgerbridge/internal/domain/posting"
	v1 "ledgerbridge/internal/infrastructure/http/v1"
	"ledgerbridge/internal/infrastructure/http/v1/handlers"
	"ledgerbridge/internal/infrastructure/storage/ledger"
	"ledgerbridge/pkg/logger"
)

type fakePosting struct {
	PostFunc   func(ctx context.Context, inv *invoice.Invoice) (*posting.Receipt, error)
	ExistsFunc func(ctx context.Context, prefix, number string) (posting.Existence, error)
}

func (f *fakePosting) Post(ctx context.Context, inv *invoice.Invoice) (*posting.Receipt, error) {
	return f.PostFunc(ctx, inv)
}

func (f *fakePosting) Exists(ctx context.Context, prefix, number string) (posting.Existence, error) {
	if f.ExistsFunc == nil {
		return posting.Existence{}, nil
	}
	return f.ExistsFunc(ctx, prefix, number)
}

type fakeAudit map[string][]ledger.AuditEntry

func (f fakeAudit) History(ctx context.Context, tag string) ([]ledger.AuditEntry, error) {
	return f[tag], nil
}

type pingFunc func(ctx context.Context) error

func (p pingFunc) Ping(ctx context.Context) error { return p(ctx) }

type harness struct {
	router  http.Handler
	posting *fakePosting
	claims  *posting.ClaimRegistry
	breaker *posting.Breaker
	flags   *security.InMemoryFlags
	ledger  error
	token   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)

	jwtSvc := auth.NewJWTService(auth.DefaultJWTConfig("test-secret"))
	authSvc := auth.NewService(jwtSvc, auth.ServiceConfig{Username: "ops", PasswordHash: string(hash)})

	h := &harness{
		posting: &fakePosting{},
		claims:  posting.NewClaimRegistry(),
		breaker: posting.NewBreaker(1),
		flags:   security.NewInMemoryFlags(nil),
	}
	h.router = v1.NewRouter(v1.RouterConfig{
		Logger:       logger.NewNop(),
		JWTValidator: jwtSvc,
		AuthService:  authSvc,
		Posting:      h.posting,
		Claims:       h.claims,
		Breaker:      h.breaker,
		Flags:        h.flags,
		Audit: fakeAudit{"FV-1042": {{
			ID: "a1", NaturalTag: "FV-1042", HeaderID: 7,
			Payload: []byte(`{"pos":"raw"}`), CreatedAt: time.Unix(0, 0).UTC(),
		}}},
		HealthChecks: map[string]handlers.Pinger{
			"ledger": pingFunc(func(ctx context.Context) error { return h.ledger }),
		},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("ledgerbridge_up 1\n"))
		}),
	})

	rec := h.do(t, http.MethodPost, "/api/v1/auth/token", map[string]string{"username": "ops", "password": "pw"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
	h.token = tok.AccessToken
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

var sampleInvoice = map[string]any{
	"identity":  map[string]string{"prefix": "fv", "number": "1042"},
	"issued_at": "2026-03-01T10:00:00Z",
	"lines": []map[string]any{
		{"code": "A1", "quantity": "1", "unit_price": "8403.36", "tax_rate": "19"},
	},
	"payments": []map[string]any{{"method_code": "ef", "amount": "10000"}},
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/health/live", nil).Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/health/ready", nil).Code)

	h.ledger = errors.New("connection refused")
	rec := h.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")

	rec = h.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ledgerbridge_up")
}

func TestAuth(t *testing.T) {
	h := newHarness(t)

	h.token = ""
	rec := h.do(t, http.MethodGet, "/api/v1/breaker", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperror.CodeUnauthorized, decode(t, rec)["code"])

	h.token = "garbage"
	assert.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodGet, "/api/v1/breaker", nil).Code)

	h.token = ""
	rec = h.do(t, http.MethodPost, "/api/v1/auth/token", map[string]string{"username": "ops", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/v1/auth/token", map[string]string{"username": "ops"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostInvoice(t *testing.T) {
	h := newHarness(t)
	var got *invoice.Invoice
	h.posting.PostFunc = func(ctx context.Context, inv *invoice.Invoice) (*posting.Receipt, error) {
		got = inv
		return &posting.Receipt{Identity: inv.Identity, LedgerID: 7, LedgerPrefix: "FV", LedgerNumber: 1042, Counter: 1042}, nil
	}

	rec := h.do(t, http.MethodPost, "/api/v1/invoices", sampleInvoice)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.EqualValues(t, 1042, body["ledger_number"])
	assert.NotContains(t, body, "warning")
	require.NotNil(t, got)
	assert.Equal(t, "FV", got.Identity.Prefix, "normalized before posting")
	assert.Equal(t, "EF", got.Payments[0].MethodCode)
}

func TestPostInvoice_DriftWarning(t *testing.T) {
	h := newHarness(t)
	h.posting.PostFunc = func(ctx context.Context, inv *invoice.Invoice) (*posting.Receipt, error) {
		return &posting.Receipt{Identity: inv.Identity, MetadataDrift: []posting.MetadataField{posting.FieldCostCenter}}, nil
	}

	rec := h.do(t, http.MethodPost, "/api/v1/invoices", sampleInvoice)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, decode(t, rec), "warning")
}

func TestPostInvoice_ErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status    int
		code      string
		retryable bool
	}{
		{"already posted", apperror.NewAlreadyPosted("FV-1042", 7), http.StatusConflict, apperror.CodeAlreadyPosted, false},
		{"claimed", apperror.NewIdentityAlreadyClaimed("FV-1042"), http.StatusConflict, apperror.CodeIdentityAlreadyClaimed, true},
		{"ledger down", apperror.NewConnectionUnavailable(errors.New("refused")), http.StatusServiceUnavailable, apperror.CodeConnectionUnavailable, true},
		{"halted", apperror.NewPipelineHalted("exhausted"), http.StatusServiceUnavailable, apperror.CodePipelineHalted, false},
		{"write step", apperror.NewWriteStepFailure("line", 1, errors.New("fk")), http.StatusUnprocessableEntity, apperror.CodeWriteStepFailure, false},
		{"plain", errors.New("boom"), http.StatusInternalServerError, apperror.CodeInternal, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.posting.PostFunc = func(ctx context.Context, inv *invoice.Invoice) (*posting.Receipt, error) {
				return nil, tt.err
			}
			rec := h.do(t, http.MethodPost, "/api/v1/invoices", sampleInvoice)
			assert.Equal(t, tt.status, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, tt.code, body["code"])
			assert.Equal(t, tt.retryable, body["retryable"])
			assert.NotEmpty(t, body["request_id"])
			assert.Equal(t, body["request_id"], rec.Header().Get("X-Request-ID"))
		})
	}
}

func TestPostInvoice_PanicIsRecovered(t *testing.T) {
	h := newHarness(t)
	h.posting.PostFunc = func(ctx context.Context, inv *invoice.Invoice) (*posting.Receipt, error) {
		panic("nil map")
	}
	rec := h.do(t, http.MethodPost, "/api/v1/invoices", sampleInvoice)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, apperror.CodeInternal, decode(t, rec)["code"])
}

func TestValidateInvoice(t *testing.T) {
	h := newHarness(t)
	h.posting.ExistsFunc = func(ctx context.Context, prefix, number string) (posting.Existence, error) {
		return posting.Existence{Found: true, LedgerID: 7, LedgerNumber: 1042}, nil
	}

	rec := h.do(t, http.MethodPost, "/api/v1/invoices/validate", sampleInvoice)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "10000", body["total"])
	require.Contains(t, body, "posted")

	bad := map[string]any{"identity": map[string]string{"prefix": "FV", "number": "x"}}
	rec = h.do(t, http.MethodPost, "/api/v1/invoices/validate", bad)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, false, body["valid"])
	assert.Contains(t, body["errors"], "fields")
}

func TestGetInvoice(t *testing.T) {
	h := newHarness(t)
	h.posting.ExistsFunc = func(ctx context.Context, prefix, number string) (posting.Existence, error) {
		if prefix == "FV" && number == "1042" {
			return posting.Existence{Found: true, LedgerID: 7}, nil
		}
		return posting.Existence{}, nil
	}

	rec := h.do(t, http.MethodGet, "/api/v1/invoices/fv/1042", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	audit := body["audit"].([]any)
	require.Len(t, audit, 1)
	assert.Equal(t, map[string]any{"pos": "raw"}, audit[0].(map[string]any)["payload"])

	release, ok := h.claims.Claim("FV-9")
	require.True(t, ok)
	defer release()
	rec = h.do(t, http.MethodGet, "/api/v1/invoices/FV/9", nil)
	body = decode(t, rec)
	assert.Equal(t, true, body["claimed"])
	assert.NotContains(t, body, "audit")
}

func TestExistsBatch(t *testing.T) {
	h := newHarness(t)
	h.posting.ExistsFunc = func(ctx context.Context, prefix, number string) (posting.Existence, error) {
		if number == "1042" {
			return posting.Existence{Found: true, LedgerID: 7, LedgerNumber: 1042}, nil
		}
		return posting.Existence{}, nil
	}

	req := map[string]any{"identities": []map[string]string{
		{"prefix": " fv", "number": "1042"},
		{"prefix": "FV", "number": "1043 "},
	}}
	rec := h.do(t, http.MethodPost, "/api/v1/invoices/exists", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.EqualValues(t, 2, body["total"])
	assert.EqualValues(t, 1, body["missing"])
	items := body["items"].([]any)
	first := items[0].(map[string]any)
	assert.Equal(t, map[string]any{"prefix": "FV", "number": "1042"}, first["identity"])
	assert.Equal(t, true, first["ledger"].(map[string]any)["found"])

	rec = h.do(t, http.MethodPost, "/api/v1/invoices/exists", map[string]any{"identities": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	h.posting.ExistsFunc = func(ctx context.Context, prefix, number string) (posting.Existence, error) {
		return posting.Existence{}, apperror.NewConnectionUnavailable(errors.New("refused"))
	}
	rec = h.do(t, http.MethodPost, "/api/v1/invoices/exists", req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBreakerEndpoints(t *testing.T) {
	h := newHarness(t)
	h.breaker.Trip("exhausted numbering for FV")

	rec := h.do(t, http.MethodGet, "/api/v1/breaker", nil)
	assert.Equal(t, true, decode(t, rec)["tripped"])

	rec = h.do(t, http.MethodPost, "/api/v1/breaker/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["was_tripped"])
	assert.Equal(t, "ops", body["status"].(map[string]any)["last_reset_by"])
	assert.False(t, h.breaker.IsTripped())
}

func TestFlagsAndClaims(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPut, "/api/v1/flags/"+security.FlagReverseForce, map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, h.flags.IsEnabled(context.Background(), security.FlagReverseForce))

	rec = h.do(t, http.MethodPut, "/api/v1/flags/unknown", map[string]bool{"enabled": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodPut, "/api/v1/flags/"+security.FlagReverseEnabled, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/flags", nil)
	assert.Contains(t, rec.Body.String(), `"name":"reverse_force","enabled":true`)

	release, ok := h.claims.Claim("FV-1")
	require.True(t, ok)
	defer release()
	rec = h.do(t, http.MethodGet, "/api/v1/claims", nil)
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["total"])
}
