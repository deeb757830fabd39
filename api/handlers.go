/*
handlers.go - HTTP API handlers for the finance engine

PURPOSE:
  Exposes the ledger and the dossier services over REST. Handlers parse
  the request, call exactly one service operation and serialize the
  result. Business rules live in donations/ and gestion/, never here.

ENDPOINTS (ledger, this file):
  GET    /api/accounts                       List accounts
  POST   /api/accounts                       Create account
  GET    /api/accounts/{id}                  Get account
  PUT    /api/accounts/{id}                  Replace banking details and ceilings
  GET    /api/accounts/{id}/balance          Committed balance
  GET    /api/accounts/{id}/operations       Operations of the account
  POST   /api/accounts/{id}/operations       Insert an operation
  POST   /api/accounts/{id}/transfers        Move money to another account
  PATCH  /api/operations/{id}                Update an operation
  DELETE /api/operations/{id}                Delete an operation
  POST   /api/operations/{id}/settle         Freeze an operation
  POST   /api/payments                       Create payment
  GET    /api/payments/{id}                  Get payment
  PUT    /api/payments/{id}/price            Change price (downward re-check)
  POST   /api/payments/{id}/complete         Split into operations
  POST   /api/subscriptions                  Create subscription
  ...    see server.go for the full route table

AUTHORIZATION:
  Every route needs a bearer token (auth.go). Ledger mutations need a
  global control_expense grant; dossier routes delegate capability
  checks to gestion.Service.

ERROR HANDLING:
  Domain errors map to HTTP status in writeDomainError:
  - 400: invalid input or amount
  - 403: capability missing
  - 404: not found
  - 409: integrity violation, concurrent modification, settled operation
  - 422: guard failed, transition unavailable, batch or file rejected
  - 500: anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - expenses.go: Expense, project, settlement handlers
  - transfers.go: Transfer order and export handlers
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/finance-engine/donations"
	"github.com/warp/finance-engine/generic"
	"github.com/warp/finance-engine/gestion"
	"github.com/warp/finance-engine/obs"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger     *donations.Ledger
	Gestion    *gestion.Service
	Authorizer generic.Authorizer
	Logger     *slog.Logger

	// FiscalYearStart resolves "FY" export periods; zero means January.
	FiscalYearStart time.Month
}

// NewHandler creates a handler over the services. The authorizer must be
// the one gestion.Service checks against.
func NewHandler(ledger *donations.Ledger, svc *gestion.Service, logger *slog.Logger) *Handler {
	return &Handler{Ledger: ledger, Gestion: svc, Authorizer: svc.Authorizer, Logger: logger}
}

func (h *Handler) log() *slog.Logger { return obs.OrDefault(h.Logger) }

// actor returns the authenticated principal. Routes are mounted behind the
// auth middleware, so a missing principal is a wiring bug.
func actor(r *http.Request) generic.Principal {
	p, _ := PrincipalFrom(r.Context())
	return p
}

// requireTreasurer guards ledger mutations: a global control_expense grant.
func (h *Handler) requireTreasurer(w http.ResponseWriter, r *http.Request) bool {
	if generic.HasAny(generic.AuthorizerFrom(r.Context(), h.Authorizer), actor(r), generic.GlobalScope, generic.CapControlExpense) {
		return true
	}
	writeError(w, http.StatusForbidden, "Global control_expense required", generic.ErrCapabilityMissing)
	return false
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// ListAccounts returns all accounts.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Ledger.ListAccounts(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list accounts", err)
		return
	}
	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAccount creates an account.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	if !h.requireTreasurer(w, r) {
		return
	}
	var req AccountRequest
	if !decode(w, r, &req) {
		return
	}
	a, err := h.Ledger.CreateAccount(r.Context(), req.account(""))
	if err != nil {
		h.writeDomainError(w, "Failed to create account", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(a))
}

// GetAccount returns a single account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	a, err := h.Ledger.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to get account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(a))
}

// UpdateAccount replaces the editable fields of an account.
func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	if !h.requireTreasurer(w, r) {
		return
	}
	var req AccountRequest
	if !decode(w, r, &req) {
		return
	}
	a, err := h.Ledger.UpdateAccount(r.Context(), req.account(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to update account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(a))
}

// GetBalance returns the committed balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	balance, err := h.Ledger.Balance(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{AccountID: id, Balance: balance})
}

// =============================================================================
// OPERATIONS
// =============================================================================

// ListOperations returns the operations of an account.
func (h *Handler) ListOperations(w http.ResponseWriter, r *http.Request) {
	ops, err := h.Ledger.ListOperations(r.Context(), donations.OperationFilter{AccountID: chi.URLParam(r, "id")})
	if err != nil {
		h.writeDomainError(w, "Failed to list operations", err)
		return
	}
	writeJSON(w, http.StatusOK, toOperationDTOs(ops))
}

// InsertOperation applies a signed amount to an account.
func (h *Handler) InsertOperation(w http.ResponseWriter, r *http.Request) {
	if !h.requireTreasurer(w, r) {
		return
	}
	var req OperationRequest
	if !decode(w, r, &req) {
		return
	}
	op, err := h.Ledger.InsertOperation(r.Context(), chi.URLParam(r, "id"), req.Amount,
		donations.OperationContext{PaymentID: req.PaymentID, Label: req.Label})
	if err != nil {
		h.writeDomainError(w, "Failed to insert operation", err)
		return
	}
	writeJSON(w, http.StatusCreated, toOperationDTOs([]donations.Operation{op})[0])
}

// UpdateOperation patches an unsettled operation.
func (h *Handler) UpdateOperation(w http.ResponseWriter, r *http.Request) {
	if !h.requireTreasurer(w, r) {
		return
	}
	var req OperationPatchRequest
	if !decode(w, r, &req) {
		return
	}
	op, err := h.Ledger.UpdateOperation(r.Context(), chi.URLParam(r, "id"), donations.OperationPatch{
		AccountID: req.AccountID,
		Amount:    req.Amount,
		Label:     req.Label,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to update operation", err)
		return
	}
	writeJSON(w, http.StatusOK, toOperationDTOs([]donations.Operation{op})[0])
}

// DeleteOperation removes an unsettled operation.
func (h *Handler) DeleteOperation(w http.ResponseWriter, r *http.Request) {
	if !h.requireTreasurer(w, r) {
		return
	}
	if err := h.Ledger.DeleteOperation(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, "Failed to delete operation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SettleOperation freezes an operation.
func (h *Handler) SettleOperation(w http.ResponseWriter, r *http.Request) {
	if !h.requireTreasurer(w, r) {
		return
	}
	op, err := h.Ledger.SettleOperation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to settle operation", err)
		return
	}
	writeJSON(w, http.StatusOK, toOperationDTOs([]donations.Operation{op})[0])
}

// TransferFunds moves money between two accounts.
func (h *Handler) TransferFunds(w http.ResponseWriter, r *http.Request) {
	if !h.requireTreasurer(w, r) {
		return
	}
	var req TransferRequest
	if !decode(w, r, &req) {
		return
	}
	debit, credit, err := h.Ledger.Transfer(r.Context(), chi.URLParam(r, "id"), req.ToAccountID, req.Amount, req.Label)
	if err != nil {
		h.writeDomainError(w, "Failed to transfer", err)
		return
	}
	writeJSON(w, http.StatusCreated, toOperationDTOs([]donations.Operation{debit, credit}))
}

// =============================================================================
// PAYMENTS
// =============================================================================

// CreatePayment records an incoming payment waiting to be split.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	if !h.requireTreasurer(w, r) {
		return
	}
	var req PriceRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.Ledger.CreatePayment(r.Context(), req.Price, req.Label)
	if err != nil {
		h.writeDomainError(w, "Failed to create payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(p))
}

// GetPayment returns a payment.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.Ledger.GetPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to get payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

// SetPaymentPrice changes a payment's price.
func (h *Handler) SetPaymentPrice(w http.ResponseWriter, r *http.Request) {
	if !h.requireTreasurer(w, r) {
		return
	}
	var req PriceRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.Ledger.SetPaymentPrice(r.Context(), chi.URLParam(r, "id"), req.Price)
	if err != nil {
		h.writeDomainError(w, "Failed to change payment price", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

// CompletePayment splits a payment into one operation per account.
func (h *Handler) CompletePayment(w http.ResponseWriter, r *http.Request) {
	if !h.requireTreasurer(w, r) {
		return
	}
	var req CompletePaymentRequest
	if !decode(w, r, &req) {
		return
	}
	splits := make([]donations.Split, len(req.Splits))
	for i, s := range req.Splits {
		splits[i] = donations.Split{AccountID: s.AccountID, Amount: s.Amount, Label: s.Label}
	}
	ops, err := h.Ledger.CompletePayment(r.Context(), chi.URLParam(r, "id"), splits)
	if err != nil {
		h.writeDomainError(w, "Failed to complete payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toOperationDTOs(ops))
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

// CreateSubscription records a recurring pledge.
func (h *Handler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	if !h.requireTreasurer(w, r) {
		return
	}
	var req PriceRequest
	if !decode(w, r, &req) {
		return
	}
	s, err := h.Ledger.CreateSubscription(r.Context(), req.Price, req.Label)
	if err != nil {
		h.writeDomainError(w, "Failed to create subscription", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubscriptionDTO(s))
}

// GetSubscription returns a subscription.
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	s, err := h.Ledger.GetSubscription(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to get subscription", err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionDTO(s))
}

// SetSubscriptionPrice changes a subscription's price.
func (h *Handler) SetSubscriptionPrice(w http.ResponseWriter, r *http.Request) {
	if !h.requireTreasurer(w, r) {
		return
	}
	var req PriceRequest
	if !decode(w, r, &req) {
		return
	}
	s, err := h.Ledger.SetSubscriptionPrice(r.Context(), chi.URLParam(r, "id"), req.Price)
	if err != nil {
		h.writeDomainError(w, "Failed to change subscription price", err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionDTO(s))
}

// ListAllocations returns a subscription's allocations.
func (h *Handler) ListAllocations(w http.ResponseWriter, r *http.Request) {
	allocs, err := h.Ledger.ListAllocations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to list allocations", err)
		return
	}
	dtos := make([]AllocationDTO, len(allocs))
	for i, a := range allocs {
		dtos[i] = toAllocationDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// InsertAllocation directs part of the subscription to an account.
func (h *Handler) InsertAllocation(w http.ResponseWriter, r *http.Request) {
	if !h.requireTreasurer(w, r) {
		return
	}
	var req AllocationRequest
	if !decode(w, r, &req) {
		return
	}
	a, err := h.Ledger.InsertAllocation(r.Context(), chi.URLParam(r, "id"), req.AccountID, req.Amount)
	if err != nil {
		h.writeDomainError(w, "Failed to insert allocation", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAllocationDTO(a))
}

// UpdateAllocation changes an allocation's amount or account.
func (h *Handler) UpdateAllocation(w http.ResponseWriter, r *http.Request) {
	if !h.requireTreasurer(w, r) {
		return
	}
	var req AllocationRequest
	if !decode(w, r, &req) {
		return
	}
	a, err := h.Ledger.UpdateAllocation(r.Context(), chi.URLParam(r, "id"), req.Amount, req.AccountID)
	if err != nil {
		h.writeDomainError(w, "Failed to update allocation", err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTO(a))
}

// DeleteAllocation removes an allocation.
func (h *Handler) DeleteAllocation(w http.ResponseWriter, r *http.Request) {
	if !h.requireTreasurer(w, r) {
		return
	}
	if err := h.Ledger.DeleteAllocation(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, "Failed to delete allocation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ApplySubscriptionPayment turns the allocations into operations tied to a
// payment.
func (h *Handler) ApplySubscriptionPayment(w http.ResponseWriter, r *http.Request) {
	if !h.requireTreasurer(w, r) {
		return
	}
	ops, err := h.Ledger.ApplySubscriptionPayment(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "paymentID"))
	if err != nil {
		h.writeDomainError(w, "Failed to apply subscription payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toOperationDTOs(ops))
}

// =============================================================================
// HELPERS
// =============================================================================

// ErrorResponse is the JSON body of every error.
type ErrorResponse struct {
	Error   string          `json:"error"`
	Details string          `json:"details,omitempty"`
	Issues  []BatchIssueDTO `json:"issues,omitempty"`
	Missing []string        `json:"missing,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// StatusFor maps a domain error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrCapabilityMissing):
		return http.StatusForbidden
	case errors.Is(err, generic.ErrTransitionDenied),
		errors.Is(err, generic.ErrBatchValidation),
		errors.Is(err, generic.ErrFileGeneration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, generic.ErrIntegrityViolation),
		errors.Is(err, generic.ErrConcurrentModification),
		errors.Is(err, generic.ErrOperationImmutable),
		errors.Is(err, generic.ErrDuplicateReference):
		return http.StatusConflict
	case errors.Is(err, generic.ErrInvalidInput),
		errors.Is(err, generic.ErrInvalidAmount):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	status := StatusFor(err)
	resp := ErrorResponse{Error: message, Details: err.Error()}

	var bve *generic.BatchValidationError
	if errors.As(err, &bve) {
		for _, i := range bve.Issues {
			resp.Issues = append(resp.Issues, BatchIssueDTO{SettlementID: i.SettlementID, Code: string(i.Code), Detail: i.Detail})
		}
	}
	var fge *generic.FileGenerationError
	if errors.As(err, &fge) {
		resp.Missing = fge.Missing
	}
	if status == http.StatusInternalServerError {
		h.log().Error(message, "error", err)
		resp.Details = ""
	}
	writeJSON(w, status, resp)
}

// decodeOptional accepts an empty body, leaving dst untouched.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	return decode(w, r, dst)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}
