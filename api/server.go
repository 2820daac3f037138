/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router and the middleware stack, and binds URLs to
  handlers. Every route lives under /companies/{tenantID}: the tenant is
  part of the path and the tenant guard binds it to the caller's token.

MIDDLEWARE STACK:
  RequestID -> RealIP -> Logger -> Recoverer -> CORS, then per-tree
  Authenticate -> TenantGuard, then per-route role and Idempotency-Key
  requirements on the write paths.

ROUTE SHAPE:
  Commands are POST/PUT/DELETE and require an Idempotency-Key; document
  state transitions are POST {doc}/{id}/{verb}. Reads are plain GETs.
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Correlation-ID"},
		AllowCredentials: false,
	}))

	r.Get("/healthz", h.Healthz)

	r.Route("/companies/{tenantID}", func(r chi.Router) {
		r.Use(h.Authenticate)
		r.Use(h.TenantGuard)

		// Parties and catalog. Drafting-level writes.
		r.Route("/customers", func(r chi.Router) {
			r.Get("/", h.ListCustomers)
			r.Get("/{id}", h.GetCustomer)
			r.Group(func(r chi.Router) {
				r.Use(RequireRole(RoleClerk), RequireIdempotencyKey)
				r.Post("/", h.CreateCustomer)
				r.Put("/{id}", h.UpdateCustomer)
			})
		})
		r.Route("/vendors", func(r chi.Router) {
			r.Get("/", h.ListVendors)
			r.Get("/{id}", h.GetVendor)
			r.Group(func(r chi.Router) {
				r.Use(RequireRole(RoleClerk), RequireIdempotencyKey)
				r.Post("/", h.CreateVendor)
				r.Put("/{id}", h.UpdateVendor)
			})
		})
		r.Route("/items", func(r chi.Router) {
			r.Get("/", h.ListItems)
			r.Get("/{id}", h.GetItem)
			r.Group(func(r chi.Router) {
				r.Use(RequireRole(RoleClerk), RequireIdempotencyKey)
				r.Post("/", h.CreateItem)
				r.Put("/{id}", h.UpdateItem)
			})
		})

		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", h.ListInvoices)
			r.Get("/{id}", h.GetInvoice)
			r.Group(func(r chi.Router) {
				r.Use(RequireRole(RoleClerk), RequireIdempotencyKey)
				r.Post("/", h.CreateInvoice)
				r.Put("/{id}", h.UpdateInvoice)
				r.Delete("/{id}", h.DeleteInvoice)
				r.Post("/{id}/approve", h.ApproveInvoice)
				r.Post("/{id}/credit-notes", h.CreateInvoiceCreditNote)
				r.Post("/{id}/public-link", h.CreateInvoicePublicLink)
			})
			r.Group(func(r chi.Router) {
				r.Use(RequireRole(RoleAccountant), RequireIdempotencyKey)
				r.Post("/{id}/post", h.PostInvoice)
				r.Put("/{id}/adjust", h.AdjustInvoice)
				r.Post("/{id}/void", h.VoidInvoice)
				r.Post("/{id}/payments", h.RecordInvoicePayment)
				r.Post("/{id}/payments/{pid}/reverse", h.ReverseInvoicePayment)
			})
		})

		r.Route("/credit-notes", func(r chi.Router) {
			r.Get("/", h.ListCreditNotes)
			r.Get("/{id}", h.GetCreditNote)
			r.Group(func(r chi.Router) {
				r.Use(RequireRole(RoleClerk), RequireIdempotencyKey)
				r.Post("/", h.CreateCreditNote)
				r.Put("/{id}", h.UpdateCreditNote)
				r.Delete("/{id}", h.DeleteCreditNote)
				r.Post("/{id}/approve", h.ApproveCreditNote)
			})
			r.Group(func(r chi.Router) {
				r.Use(RequireRole(RoleAccountant), RequireIdempotencyKey)
				r.Post("/{id}/post", h.PostCreditNote)
				r.Put("/{id}/adjust", h.AdjustCreditNote)
				r.Post("/{id}/void", h.VoidCreditNote)
				r.Post("/{id}/refunds", h.RecordRefund)
			})
		})

		r.Route("/expenses", func(r chi.Router) {
			r.Get("/", h.ListExpenses)
			r.Get("/{id}", h.GetExpense)
			r.Group(func(r chi.Router) {
				r.Use(RequireRole(RoleClerk), RequireIdempotencyKey)
				r.Post("/", h.CreateExpense)
				r.Put("/{id}", h.UpdateExpense)
				r.Delete("/{id}", h.DeleteExpense)
				r.Post("/{id}/approve", h.ApproveExpense)
			})
			r.Group(func(r chi.Router) {
				r.Use(RequireRole(RoleAccountant), RequireIdempotencyKey)
				r.Post("/{id}/post", h.PostExpense)
				r.Put("/{id}/adjust", h.AdjustExpense)
				r.Post("/{id}/void", h.VoidExpense)
				r.Post("/{id}/payments", h.RecordExpensePayment)
			})
		})

		r.Route("/purchase-bills", func(r chi.Router) {
			r.Get("/", h.ListPurchaseBills)
			r.Get("/{id}", h.GetPurchaseBill)
			r.Group(func(r chi.Router) {
				r.Use(RequireRole(RoleClerk), RequireIdempotencyKey)
				r.Post("/", h.CreatePurchaseBill)
				r.Put("/{id}", h.UpdatePurchaseBill)
			})
			r.Group(func(r chi.Router) {
				r.Use(RequireRole(RoleAccountant), RequireIdempotencyKey)
				r.Post("/{id}/post", h.PostPurchaseBill)
				r.Post("/{id}/payments", h.RecordBillPayment)
			})
		})

		r.Get("/sales/payments", h.ListSalesPayments)
		r.Get("/purchases/payments", h.ListPurchasePayments)
		r.Route("/payments", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(RequireRole(RoleAccountant), RequireIdempotencyKey)
				r.Post("/{id}/reverse", h.ReversePayment)
			})
		})
	})

	return r
}
