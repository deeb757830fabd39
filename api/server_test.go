/*
server_test.go - HTTP tests for the router, auth and handlers

Tests for:
- Bearer token verification and capability claims
- Domain error to status mapping
- Expense dossier flow over HTTP
- Treasurer-only ledger routes
- Rate limiting
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/finance-engine/api"
	"github.com/warp/finance-engine/donations"
	"github.com/warp/finance-engine/generic"
	memstore "github.com/warp/finance-engine/generic/store"
	"github.com/warp/finance-engine/gestion"
	"github.com/warp/finance-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	secret = []byte("test-secret")

	treasurer = generic.Principal{ID: "u-treasurer", Name: "Tess"}
	member    = generic.Principal{ID: "u-member", Name: "Milo"}
	checker   = generic.Principal{ID: "u-checker", Name: "Chloe"}
)

type server struct {
	router *chi.Mux
	ledger *donations.Ledger
	svc    *gestion.Service
	grants *memstore.Grants
}

func newServer(t *testing.T, limiter *api.RateLimiter) *server {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	grants := memstore.NewGrants()
	ledger := donations.NewLedger(store, nil)
	svc := gestion.NewService(store, grants, ledger, nil)
	h := api.NewHandler(ledger, svc, nil)
	auth := &api.Authenticator{Secret: secret}

	return &server{
		router: api.NewRouter(h, auth, limiter),
		ledger: ledger,
		svc:    svc,
		grants: grants,
	}
}

func token(t *testing.T, p generic.Principal, caps ...string) string {
	t.Helper()
	tok, err := api.IssueToken(secret, p, caps, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *server) do(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *server) createAccount(t *testing.T) api.AccountDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/accounts", token(t, treasurer, "control_expense"), api.AccountRequest{
		Designation: "OPS",
		Name:        "Fonctionnement",
		IBAN:        "FR7630006000011234567890189",
		BIC:         "AGRIFRPP",
		HolderName:  "Association OPS",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[api.AccountDTO](t, rec)
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

func TestAuth_RejectsMissingAndInvalidTokens(t *testing.T) {
	s := newServer(t, nil)

	other, err := api.IssueToken([]byte("other-secret"), member, nil, time.Hour)
	require.NoError(t, err)
	expired, err := api.IssueToken(secret, member, nil, -time.Minute)
	require.NoError(t, err)
	system, err := api.IssueToken(secret, generic.SystemPrincipal, []string{"control_expense"}, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"wrong secret", other},
		{"expired", expired},
		{"reserved subject", system},
		{"garbage", "not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, "/api/accounts", tt.token, nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuth_GrantsScopedToRequest(t *testing.T) {
	// GIVEN: A request from a principal holding a scoped grant only
	// WHEN: A request for the same principal with a global grant is served meanwhile
	// THEN: Each request keeps its own grants and the shared table is untouched
	s := newServer(t, nil)
	auth := &api.Authenticator{Secret: secret}

	var (
		handler            http.Handler
		outer              = true
		narrowGlobal       bool
		narrowScoped       bool
		wideGlobalInNested bool
	)
	handler = auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		az := generic.AuthorizerFrom(r.Context(), s.grants)
		if !outer {
			wideGlobalInNested = az.HasCapability(checker, generic.CapControlExpense, generic.GlobalScope)
			return
		}
		outer = false
		nested := httptest.NewRequest(http.MethodGet, "/", nil)
		nested.Header.Set("Authorization", "Bearer "+token(t, checker, "control_expense"))
		handler.ServeHTTP(httptest.NewRecorder(), nested)

		narrowGlobal = az.HasCapability(checker, generic.CapControlExpense, generic.GlobalScope)
		narrowScoped = az.HasCapability(checker, generic.CapControlExpense, generic.AccountScope("acc-1"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, checker, "control_expense@acc-1"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, wideGlobalInNested)
	assert.False(t, narrowGlobal)
	assert.True(t, narrowScoped)
	assert.Empty(t, s.grants.For(checker.ID))
}

func TestAuth_NarrowTokenAfterWideToken_Forbidden(t *testing.T) {
	// GIVEN: A treasurer request that succeeded with a global grant
	// WHEN: The same principal calls again with a token scoped elsewhere
	// THEN: The second call is refused
	s := newServer(t, nil)
	s.createAccount(t)

	body := api.AccountRequest{Designation: "EVT", Name: "Evenements", IBAN: "FR7630006000011234567890189"}
	rec := s.do(t, http.MethodPost, "/api/accounts", token(t, treasurer, "control_expense@acc-9"), body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestParseCapabilities(t *testing.T) {
	grants, err := api.ParseCapabilities("u-1", []string{"control_expense", "engage_expense@acc-9"})
	require.NoError(t, err)
	assert.Equal(t, []generic.Grant{
		{PrincipalID: "u-1", Capability: generic.CapControlExpense, Scope: generic.GlobalScope},
		{PrincipalID: "u-1", Capability: generic.CapEngageExpense, Scope: generic.AccountScope("acc-9")},
	}, grants)

	_, err = api.ParseCapabilities("u-1", []string{"fly"})
	assert.Error(t, err)
	_, err = api.ParseCapabilities("u-1", []string{"engage_expense@"})
	assert.Error(t, err)
}

func TestPublicEndpoints(t *testing.T) {
	s := newServer(t, nil)

	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("expense x: %w", generic.ErrNotFound), http.StatusNotFound},
		{generic.ErrCapabilityMissing, http.StatusForbidden},
		{&generic.TransitionDenied{Transition: "Engager", Cause: generic.ErrCapabilityMissing}, http.StatusForbidden},
		{&generic.TransitionDenied{Transition: "Completer", Cause: generic.ErrGuardFailed}, http.StatusUnprocessableEntity},
		{&generic.BatchValidationError{}, http.StatusUnprocessableEntity},
		{&generic.FileGenerationError{}, http.StatusUnprocessableEntity},
		{generic.ErrConcurrentModification, http.StatusConflict},
		{generic.ErrOperationImmutable, http.StatusConflict},
		{generic.ErrDuplicateReference, http.StatusConflict},
		{generic.ErrInvalidAmount, http.StatusBadRequest},
		{fmt.Errorf("%w: label", generic.ErrInvalidInput), http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, api.StatusFor(tt.err))
		})
	}
}

// =============================================================================
// LEDGER ROUTES
// =============================================================================

func TestCreateAccount_RequiresGlobalControl(t *testing.T) {
	s := newServer(t, nil)
	req := api.AccountRequest{Designation: "EVT", Name: "Evenements"}

	rec := s.do(t, http.MethodPost, "/api/accounts", token(t, member, "control_expense@acc-1"), req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/accounts", token(t, treasurer, "control_expense"), req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	acc := decodeBody[api.AccountDTO](t, rec)
	assert.Equal(t, "EVT", acc.Designation)

	rec = s.do(t, http.MethodGet, "/api/accounts/"+acc.ID+"/balance", token(t, member), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0.00", decodeBody[api.BalanceDTO](t, rec).Balance.String())
}

func TestInsertOperation_OverdraftConflicts(t *testing.T) {
	s := newServer(t, nil)
	acc := s.createAccount(t)
	tok := token(t, treasurer, "control_expense")

	rec := s.do(t, http.MethodPost, "/api/accounts/"+acc.ID+"/operations", tok,
		api.OperationRequest{Amount: generic.MustMoney("-5.00"), Label: "frais"})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.NotEmpty(t, decodeBody[api.ErrorResponse](t, rec).Details)
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	s := newServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/accounts", token(t, treasurer, "control_expense"),
		map[string]string{"designation": "OPS", "colour": "blue"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// EXPENSE FLOW
// =============================================================================

func TestExpenseFlow(t *testing.T) {
	// GIVEN: An account and a member without capabilities
	// WHEN: The member files an expense and people walk it through validation
	// THEN: Capability denials answer 403 and the state only moves on success
	s := newServer(t, nil)
	acc := s.createAccount(t)
	memberTok := token(t, member)
	checkerTok := token(t, checker, "control_expense@"+acc.ID)

	rec := s.do(t, http.MethodPost, "/api/expenses", memberTok, api.CreateExpenseRequest{
		AccountID: acc.ID,
		Type:      "COM",
		Label:     "affiches",
		Amount:    generic.MustMoney("100.00"),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	e := decodeBody[api.ExpenseDTO](t, rec)
	assert.Equal(t, string(gestion.ExpenseAttenteValidation), e.State)
	assert.Equal(t, member.ID, e.CreatedBy)

	rec = s.do(t, http.MethodPost, "/api/expenses/"+e.ID+"/transitions/Valider", memberTok, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/expenses/"+e.ID+"/transitions", checkerTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var names []string
	for _, tr := range decodeBody[[]api.TransitionDTO](t, rec) {
		names = append(names, tr.Name)
	}
	assert.Contains(t, names, "Valider")

	rec = s.do(t, http.MethodPost, "/api/expenses/"+e.ID+"/transitions/Valider", checkerTok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(gestion.ExpenseAttenteEngagement), decodeBody[api.ExpenseDTO](t, rec).State)

	rec = s.do(t, http.MethodPost, "/api/expenses/"+e.ID+"/transitions/Cloturer", checkerTok, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/expenses/"+e.ID+"/history", memberTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody[[]api.AuditEntryDTO](t, rec))

	rec = s.do(t, http.MethodGet, "/api/expenses?account_id="+acc.ID+"&state=AttenteEngagement", memberTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]api.ExpenseDTO](t, rec), 1)
}

func TestExpense_NotFoundAndBadInput(t *testing.T) {
	s := newServer(t, nil)
	acc := s.createAccount(t)
	tok := token(t, member)

	rec := s.do(t, http.MethodGet, "/api/expenses/missing", tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/expenses", tok, api.CreateExpenseRequest{
		AccountID: acc.ID, Type: "XYZ", Label: "inconnu", Amount: generic.MustMoney("1.00"),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExpenseTodos(t *testing.T) {
	s := newServer(t, nil)
	acc := s.createAccount(t)
	tok := token(t, member, "engage_expense@"+acc.ID)

	rec := s.do(t, http.MethodPost, "/api/expenses", tok, api.CreateExpenseRequest{
		AccountID: acc.ID, Type: "COM", Label: "flyers", Amount: generic.MustMoney("40.00"),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	e := decodeBody[api.ExpenseDTO](t, rec)

	rec = s.do(t, http.MethodGet, "/api/expenses/"+e.ID+"/todos", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	todos := decodeBody[api.TodosResponse](t, rec)
	assert.False(t, todos.NoTodos)
	assert.Equal(t, len(todos.Todos), todos.Count)
	assert.NotZero(t, todos.Count)
}

// =============================================================================
// RATE LIMITING
// =============================================================================

func TestExportAccounting_Period(t *testing.T) {
	s := newServer(t, nil)
	acc := s.createAccount(t)
	tok := token(t, treasurer, "control_expense")

	// GIVEN an account without settled settlements
	// WHEN exporting a month
	rec := s.do(t, http.MethodGet, "/api/accounts/"+acc.ID+"/export?period=2026-03", tok, nil)

	// THEN only the header row comes back
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("JournalCode;JournalLib;")), rec.Body.String())

	// AND malformed periods or ranges are rejected
	for _, q := range []string{"?period=March", "?from=2026-03-10&to=2026-03-01", "?from=yesterday"} {
		rec = s.do(t, http.MethodGet, "/api/accounts/"+acc.ID+"/export"+q, tok, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	s := newServer(t, api.NewRateLimiter(0.001, 2))

	codes := make([]int, 3)
	for i := range codes {
		codes[i] = s.do(t, http.MethodGet, "/api/accounts", "", nil).Code
	}

	assert.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}, codes)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", "", nil).Code)
}

func TestRateLimiter_PerClient(t *testing.T) {
	l := api.NewRateLimiter(0.001, 1)

	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))
}

// =============================================================================
// CONTEXT
// =============================================================================

func TestPrincipalContext(t *testing.T) {
	_, ok := api.PrincipalFrom(context.Background())
	assert.False(t, ok)

	p, ok := api.PrincipalFrom(api.WithPrincipal(context.Background(), member))
	require.True(t, ok)
	assert.Equal(t, member, p)
}
