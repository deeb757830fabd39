/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack and the route table.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the back-office front end
  5. Instrument: Prometheus request metrics, labelled by route pattern
  /api only:
  6. RateLimit:  Token bucket per client IP (optional)
  7. Auth:       Bearer JWT, principal and grants

ROUTE GROUPS:
  /healthz                 Liveness
  /metrics                 Prometheus scrape endpoint
  /api/accounts/*          Accounts, operations, transfer orders, export
  /api/operations/*        Single operation changes
  /api/payments/*          Payments and splits
  /api/subscriptions/*     Subscriptions and monthly allocations
  /api/suppliers/*         Supplier directory
  /api/expenses/*          Expense dossiers, documents, remarks, settlements
  /api/settlements/*       Single settlement changes
  /api/projects/*          Projects, participations, documents
  /api/remarks/*           Remark resolution
  /api/transfer-orders/*   Transfer order lifecycle and XML file

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Bearer token verification
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/finance-engine/obs"
)

// NewRouter creates a new router with all routes configured. A nil
// limiter disables rate limiting.
func NewRouter(h *Handler, auth *Authenticator, limiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))
	r.Use(obs.Instrument(routePattern))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", obs.Handler())

	r.Route("/api", func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Middleware)
		}
		r.Use(auth.Middleware)

		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.CreateAccount)
			r.Get("/{id}", h.GetAccount)
			r.Put("/{id}", h.UpdateAccount)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/operations", h.ListOperations)
			r.Post("/{id}/operations", h.InsertOperation)
			r.Post("/{id}/transfers", h.TransferFunds)
			r.Get("/{id}/transfer-orders", h.ListTransferOrders)
			r.Post("/{id}/transfer-orders", h.BuildTransferOrder)
			r.Get("/{id}/export", h.ExportAccounting)
		})

		// Operation routes
		r.Route("/operations", func(r chi.Router) {
			r.Patch("/{id}", h.UpdateOperation)
			r.Delete("/{id}", h.DeleteOperation)
			r.Post("/{id}/settle", h.SettleOperation)
		})

		// Payment routes
		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.CreatePayment)
			r.Get("/{id}", h.GetPayment)
			r.Put("/{id}/price", h.SetPaymentPrice)
			r.Post("/{id}/complete", h.CompletePayment)
		})

		// Subscription routes
		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", h.CreateSubscription)
			r.Get("/{id}", h.GetSubscription)
			r.Put("/{id}/price", h.SetSubscriptionPrice)
			r.Get("/{id}/allocations", h.ListAllocations)
			r.Post("/{id}/allocations", h.InsertAllocation)
			r.Post("/{id}/payments/{paymentID}", h.ApplySubscriptionPayment)
		})
		r.Route("/allocations", func(r chi.Router) {
			r.Put("/{id}", h.UpdateAllocation)
			r.Delete("/{id}", h.DeleteAllocation)
		})

		// Supplier routes
		r.Route("/suppliers", func(r chi.Router) {
			r.Post("/", h.CreateSupplier)
			r.Get("/{id}", h.GetSupplier)
			r.Put("/{id}", h.UpdateSupplier)
		})

		// Expense routes
		r.Route("/expenses", func(r chi.Router) {
			r.Get("/", h.ListExpenses)
			r.Post("/", h.CreateExpense)
			r.Get("/{id}", h.GetExpense)
			r.Put("/{id}/amount", h.UpdateExpenseAmount)
			r.Get("/{id}/todos", h.ExpenseTodos)
			r.Get("/{id}/transitions", h.ExpenseTransitions)
			r.Post("/{id}/transitions/{name}", h.FireExpenseTransition)
			r.Post("/{id}/rebill", h.RebillExpense)
			r.Get("/{id}/history", h.ExpenseHistory)
			r.Post("/{id}/documents", h.AttachExpenseDocument)
			r.Post("/{id}/documents/{docID}/confirm", h.ConfirmExpenseDocument)
			r.Post("/{id}/remarks", h.AddExpenseRemark)
			r.Post("/{id}/settlements", h.AddSettlement)
		})

		// Settlement routes
		r.Route("/settlements", func(r chi.Router) {
			r.Get("/{id}", h.GetSettlement)
			r.Put("/{id}/amount", h.UpdateSettlementAmount)
			r.Delete("/{id}", h.DeleteSettlement)
			r.Post("/{id}/proof", h.AttachProof)
			r.Post("/{id}/settled", h.MarkSettled)
		})

		// Project routes
		r.Route("/projects", func(r chi.Router) {
			r.Post("/", h.CreateProject)
			r.Get("/{id}", h.GetProject)
			r.Post("/{id}/participations", h.AddParticipation)
			r.Get("/{id}/todos", h.ProjectTodos)
			r.Get("/{id}/transitions", h.ProjectTransitions)
			r.Post("/{id}/transitions/{name}", h.FireProjectTransition)
			r.Get("/{id}/history", h.ProjectHistory)
			r.Post("/{id}/documents", h.AttachProjectDocument)
			r.Post("/{id}/documents/{docID}/confirm", h.ConfirmProjectDocument)
			r.Post("/{id}/documents/link", h.LinkProjectDocument)
			r.Post("/{id}/remarks", h.AddProjectRemark)
		})

		r.Post("/remarks/{id}/resolve", h.ResolveRemark)

		// Transfer order routes
		r.Route("/transfer-orders", func(r chi.Router) {
			r.Get("/{id}", h.GetTransferOrder)
			r.Get("/{id}/file", h.TransferFile)
			r.Post("/{id}/transmit", h.TransmitTransferOrder)
			r.Post("/{id}/reconcile", h.ReconcileTransferOrder)
			r.Post("/{id}/cancel", h.CancelTransferOrder)
		})
	})

	return r
}

// routePattern labels metrics with the matched chi pattern, not the raw
// path, to keep label cardinality bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
