/*
handlers.go - HTTP handlers for the accounting write path

PURPOSE:
  Decodes requests, runs struct validation, builds the per-command
  WriteContext and delegates to the books service. Command responses come
  back as idempotency results and are written verbatim, so a retried
  request replays byte-identical output.

ERROR HANDLING:
  Domain errors carry their own HTTP status and stable code and are
  rendered once here. Validation failures from request decoding render
  400. Everything else is a 500 with a generic message; details go to the
  log only.
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/cashflowhq/cashflow-api/books"
	"github.com/cashflowhq/cashflow-api/idempotency"
	"github.com/cashflowhq/cashflow-api/ledger"
)

// =============================================================================
// HANDLER
// =============================================================================

// Handler holds the HTTP layer's dependencies.
type Handler struct {
	Books     *books.Service
	Validate  *validator.Validate
	Log       *logrus.Logger
	JWTSecret string
}

// NewHandler wires a Handler around the books service.
func NewHandler(svc *books.Service, jwtSecret string, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.New()
	}
	return &Handler{
		Books:     svc,
		Validate:  validator.New(validator.WithRequiredStructEnabled()),
		Log:       log,
		JWTSecret: jwtSecret,
	}
}

// =============================================================================
// REQUEST / RESPONSE PLUMBING
// =============================================================================

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: message, Code: code})
}

// writeResult renders a command outcome: the cached JSON body verbatim,
// with a replay marker when the idempotency layer short-circuited.
func writeResult(w http.ResponseWriter, result idempotency.Result) {
	w.Header().Set("Content-Type", "application/json")
	if result.Replayed {
		w.Header().Set("Idempotent-Replay", "true")
	}
	w.WriteHeader(result.StatusCode)
	w.Write(result.Body)
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	if de, ok := ledger.AsDomain(err); ok {
		writeError(w, de.Status, de.Code, de.Message)
		return
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		writeError(w, http.StatusBadRequest, ledger.CodeValidation, verrs.Error())
		return
	}
	h.Log.WithError(err).WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
	}).Error("request failed")
	writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
}

// decode reads the JSON body into in and validates it.
func (h *Handler) decode(r *http.Request, in any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(in); err != nil {
		return ledger.Validationf("invalid request body: %v", err)
	}
	return h.Validate.Struct(in)
}

// writeContext assembles the per-command metadata from the request.
func writeContext(r *http.Request) books.WriteContext {
	wc := books.WriteContext{
		TenantID:       ledger.TenantID(chi.URLParam(r, "tenantID")),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		CorrelationID:  r.Header.Get("X-Correlation-ID"),
	}
	if p, ok := principalFrom(r.Context()); ok {
		wc.UserID = p.UserID
	}
	return wc
}

func tenantID(r *http.Request) ledger.TenantID {
	return ledger.TenantID(chi.URLParam(r, "tenantID"))
}

// command is the shared shape of every mutating handler.
func (h *Handler) command(w http.ResponseWriter, r *http.Request, run func() (idempotency.Result, error)) {
	result, err := run()
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	writeResult(w, result)
}

// query is the shared shape of every read handler.
func (h *Handler) query(w http.ResponseWriter, r *http.Request, run func() (any, error)) {
	out, err := run()
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// CUSTOMERS, VENDORS, ITEMS
// =============================================================================

func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var in books.CustomerInput
	if err := h.decode(r, &in); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.CreateCustomer(r.Context(), writeContext(r), in)
	})
}

func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	var in books.CustomerInput
	if err := h.decode(r, &in); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.UpdateCustomer(r.Context(), writeContext(r), chi.URLParam(r, "id"), in)
	})
}

func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	h.query(w, r, func() (any, error) {
		return h.Books.GetCustomer(r.Context(), tenantID(r), chi.URLParam(r, "id"))
	})
}

func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	h.query(w, r, func() (any, error) {
		return h.Books.ListCustomers(r.Context(), tenantID(r))
	})
}

func (h *Handler) CreateVendor(w http.ResponseWriter, r *http.Request) {
	var in books.VendorInput
	if err := h.decode(r, &in); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.CreateVendor(r.Context(), writeContext(r), in)
	})
}

func (h *Handler) UpdateVendor(w http.ResponseWriter, r *http.Request) {
	var in books.VendorInput
	if err := h.decode(r, &in); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.UpdateVendor(r.Context(), writeContext(r), chi.URLParam(r, "id"), in)
	})
}

func (h *Handler) GetVendor(w http.ResponseWriter, r *http.Request) {
	h.query(w, r, func() (any, error) {
		return h.Books.GetVendor(r.Context(), tenantID(r), chi.URLParam(r, "id"))
	})
}

func (h *Handler) ListVendors(w http.ResponseWriter, r *http.Request) {
	h.query(w, r, func() (any, error) {
		return h.Books.ListVendors(r.Context(), tenantID(r))
	})
}

func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var in books.ItemInput
	if err := h.decode(r, &in); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.CreateItem(r.Context(), writeContext(r), in)
	})
}

func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var in books.ItemInput
	if err := h.decode(r, &in); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.UpdateItem(r.Context(), writeContext(r), chi.URLParam(r, "id"), in)
	})
}

func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	h.query(w, r, func() (any, error) {
		return h.Books.GetItem(r.Context(), tenantID(r), chi.URLParam(r, "id"))
	})
}

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	h.query(w, r, func() (any, error) {
		return h.Books.ListItems(r.Context(), tenantID(r))
	})
}

// =============================================================================
// INVOICES
// =============================================================================

func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var in books.CreateInvoiceInput
	if err := h.decode(r, &in); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.CreateInvoice(r.Context(), writeContext(r), in)
	})
}

func (h *Handler) UpdateInvoice(w http.ResponseWriter, r *http.Request) {
	var in books.UpdateInvoiceInput
	if err := h.decode(r, &in); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.UpdateInvoice(r.Context(), writeContext(r), chi.URLParam(r, "id"), in)
	})
}

func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.DeleteInvoice(r.Context(), writeContext(r), chi.URLParam(r, "id"))
	})
}

func (h *Handler) ApproveInvoice(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.ApproveInvoice(r.Context(), writeContext(r), chi.URLParam(r, "id"))
	})
}

func (h *Handler) PostInvoice(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.PostInvoice(r.Context(), writeContext(r), chi.URLParam(r, "id"))
	})
}

func (h *Handler) AdjustInvoice(w http.ResponseWriter, r *http.Request) {
	var in books.UpdateInvoiceInput
	if err := h.decode(r, &in); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.AdjustInvoice(r.Context(), writeContext(r), chi.URLParam(r, "id"), in)
	})
}

func (h *Handler) VoidInvoice(w http.ResponseWriter, r *http.Request) {
	var in books.VoidInvoiceInput
	if err := h.decode(r, &in); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.VoidInvoice(r.Context(), writeContext(r), chi.URLParam(r, "id"), in)
	})
}

func (h *Handler) RecordInvoicePayment(w http.ResponseWriter, r *http.Request) {
	var in books.RecordPaymentInput
	if err := h.decode(r, &in); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.RecordInvoicePayment(r.Context(), writeContext(r), chi.URLParam(r, "id"), in)
	})
}

func (h *Handler) ReverseInvoicePayment(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.ReversePayment(r.Context(), writeContext(r), chi.URLParam(r, "pid"))
	})
}

func (h *Handler) CreateInvoiceCreditNote(w http.ResponseWriter, r *http.Request) {
	var in books.InvoiceCreditNoteInput
	if err := h.decode(r, &in); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.CreateInvoiceCreditNote(r.Context(), writeContext(r), chi.URLParam(r, "id"), in)
	})
}

func (h *Handler) CreateInvoicePublicLink(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.CreateInvoicePublicLink(r.Context(), writeContext(r), chi.URLParam(r, "id"))
	})
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	h.query(w, r, func() (any, error) {
		return h.Books.GetInvoice(r.Context(), tenantID(r), chi.URLParam(r, "id"))
	})
}

func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	h.query(w, r, func() (any, error) {
		return h.Books.ListInvoices(r.Context(), tenantID(r))
	})
}

// =============================================================================
// CREDIT NOTES
// =============================================================================

func (h *Handler) CreateCreditNote(w http.ResponseWriter, r *http.Request) {
	var in books.CreateCreditNoteInput
	if err := h.decode(r, &in); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.CreateCreditNote(r.Context(), writeContext(r), in)
	})
}

func (h *Handler) UpdateCreditNote(w http.ResponseWriter, r *http.Request) {
	var in books.UpdateCreditNoteInput
	if err := h.decode(r, &in); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.UpdateCreditNote(r.Context(), writeContext(r), chi.URLParam(r, "id"), in)
	})
}

func (h *Handler) DeleteCreditNote(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.DeleteCreditNote(r.Context(), writeContext(r), chi.URLParam(r, "id"))
	})
}

func (h *Handler) ApproveCreditNote(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.ApproveCreditNote(r.Context(), writeContext(r), chi.URLParam(r, "id"))
	})
}

func (h *Handler) PostCreditNote(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.PostCreditNote(r.Context(), writeContext(r), chi.URLParam(r, "id"))
	})
}

func (h *Handler) AdjustCreditNote(w http.ResponseWriter, r *http.Request) {
	var in books.UpdateCreditNoteInput
	if err := h.decode(r, &in); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.AdjustCreditNote(r.Context(), writeContext(r), chi.URLParam(r, "id"), in)
	})
}

func (h *Handler) VoidCreditNote(w http.ResponseWriter, r *http.Request) {
	var in books.VoidInvoiceInput
	if err := h.decode(r, &in); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.VoidCreditNote(r.Context(), writeContext(r), chi.URLParam(r, "id"), in)
	})
}

func (h *Handler) RecordRefund(w http.ResponseWriter, r *http.Request) {
	var in books.RecordRefundInput
	if err := h.decode(r, &in); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.RecordRefund(r.Context(), writeContext(r), chi.URLParam(r, "id"), in)
	})
}

func (h *Handler) GetCreditNote(w http.ResponseWriter, r *http.Request) {
	h.query(w, r, func() (any, error) {
		return h.Books.GetCreditNote(r.Context(), tenantID(r), chi.URLParam(r, "id"))
	})
}

func (h *Handler) ListCreditNotes(w http.ResponseWriter, r *http.Request) {
	h.query(w, r, func() (any, error) {
		return h.Books.ListCreditNotes(r.Context(), tenantID(r))
	})
}

// =============================================================================
// EXPENSES
// =============================================================================

func (h *Handler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	var in books.CreateExpenseInput
	if err := h.decode(r, &in); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.CreateExpense(r.Context(), writeContext(r), in)
	})
}

func (h *Handler) UpdateExpense(w http.ResponseWriter, r *http.Request) {
	var in books.UpdateExpenseInput
	if err := h.decode(r, &in); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.UpdateExpense(r.Context(), writeContext(r), chi.URLParam(r, "id"), in)
	})
}

func (h *Handler) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.DeleteExpense(r.Context(), writeContext(r), chi.URLParam(r, "id"))
	})
}

func (h *Handler) ApproveExpense(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.ApproveExpense(r.Context(), writeContext(r), chi.URLParam(r, "id"))
	})
}

func (h *Handler) PostExpense(w http.ResponseWriter, r *http.Request) {
	var in books.PostExpenseInput
	if err := h.decode(r, &in); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.PostExpense(r.Context(), writeContext(r), chi.URLParam(r, "id"), in)
	})
}

func (h *Handler) AdjustExpense(w http.ResponseWriter, r *http.Request) {
	var in books.UpdateExpenseInput
	if err := h.decode(r, &in); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.AdjustExpense(r.Context(), writeContext(r), chi.URLParam(r, "id"), in)
	})
}

func (h *Handler) VoidExpense(w http.ResponseWriter, r *http.Request) {
	var in books.VoidInvoiceInput
	if err := h.decode(r, &in); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.VoidExpense(r.Context(), writeContext(r), chi.URLParam(r, "id"), in)
	})
}

func (h *Handler) RecordExpensePayment(w http.ResponseWriter, r *http.Request) {
	var in books.RecordPaymentInput
	if err := h.decode(r, &in); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.RecordExpensePayment(r.Context(), writeContext(r), chi.URLParam(r, "id"), in)
	})
}

func (h *Handler) GetExpense(w http.ResponseWriter, r *http.Request) {
	h.query(w, r, func() (any, error) {
		return h.Books.GetExpense(r.Context(), tenantID(r), chi.URLParam(r, "id"))
	})
}

func (h *Handler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	h.query(w, r, func() (any, error) {
		return h.Books.ListExpenses(r.Context(), tenantID(r))
	})
}

// =============================================================================
// PURCHASE BILLS
// =============================================================================

func (h *Handler) CreatePurchaseBill(w http.ResponseWriter, r *http.Request) {
	var in books.CreatePurchaseBillInput
	if err := h.decode(r, &in); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.CreatePurchaseBill(r.Context(), writeContext(r), in)
	})
}

func (h *Handler) UpdatePurchaseBill(w http.ResponseWriter, r *http.Request) {
	var in books.UpdatePurchaseBillInput
	if err := h.decode(r, &in); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.UpdatePurchaseBill(r.Context(), writeContext(r), chi.URLParam(r, "id"), in)
	})
}

func (h *Handler) PostPurchaseBill(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.PostPurchaseBill(r.Context(), writeContext(r), chi.URLParam(r, "id"))
	})
}

func (h *Handler) RecordBillPayment(w http.ResponseWriter, r *http.Request) {
	var in books.RecordPaymentInput
	if err := h.decode(r, &in); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.RecordBillPayment(r.Context(), writeContext(r), chi.URLParam(r, "id"), in)
	})
}

func (h *Handler) GetPurchaseBill(w http.ResponseWriter, r *http.Request) {
	h.query(w, r, func() (any, error) {
		return h.Books.GetPurchaseBill(r.Context(), tenantID(r), chi.URLParam(r, "id"))
	})
}

func (h *Handler) ListPurchaseBills(w http.ResponseWriter, r *http.Request) {
	h.query(w, r, func() (any, error) {
		return h.Books.ListPurchaseBills(r.Context(), tenantID(r))
	})
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (h *Handler) ReversePayment(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, func() (idempotency.Result, error) {
		return h.Books.ReversePayment(r.Context(), writeContext(r), chi.URLParam(r, "id"))
	})
}

func (h *Handler) ListSalesPayments(w http.ResponseWriter, r *http.Request) {
	h.query(w, r, func() (any, error) {
		return h.Books.ListSalesPayments(r.Context(), tenantID(r))
	})
}

func (h *Handler) ListPurchasePayments(w http.ResponseWriter, r *http.Request) {
	h.query(w, r, func() (any, error) {
		return h.Books.ListPurchasePayments(r.Context(), tenantID(r))
	})
}
