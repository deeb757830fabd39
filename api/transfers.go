package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/finance-engine/generic"
	"github.com/warp/finance-engine/gestion"
)

// =============================================================================
// TRANSFER ORDERS
// =============================================================================

// ListTransferOrders returns the orders of an account.
func (h *Handler) ListTransferOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.Gestion.ListTransferOrders(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to list transfer orders", err)
		return
	}
	dtos := make([]TransferOrderDTO, len(orders))
	for i, o := range orders {
		dtos[i] = toTransferOrderDTO(o)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// BuildTransferOrder batches pending transfer settlements of the account.
// A rejected batch answers 422 with every issue.
func (h *Handler) BuildTransferOrder(w http.ResponseWriter, r *http.Request) {
	var req BuildTransferOrderRequest
	if !decode(w, r, &req) {
		return
	}
	execution := generic.Today().AddDate(0, 0, 1)
	if req.ExecutionDate != "" {
		d, err := generic.ParseDay(req.ExecutionDate)
		if err != nil {
			h.writeDomainError(w, "Invalid execution date", err)
			return
		}
		execution = d
	}
	o, err := h.Gestion.BuildTransferOrder(r.Context(), actor(r), chi.URLParam(r, "id"), req.SettlementIDs, execution)
	if err != nil {
		h.writeDomainError(w, "Transfer order rejected", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransferOrderDTO(o))
}

func (h *Handler) GetTransferOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Gestion.GetTransferOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to get transfer order", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferOrderDTO(o))
}

// TransferFile renders (once) and downloads the pain.001 XML.
func (h *Handler) TransferFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	file, err := h.Gestion.RenderTransferFile(r.Context(), actor(r), id)
	if err != nil {
		h.writeDomainError(w, "Failed to render transfer file", err)
		return
	}
	o, err := h.Gestion.GetTransferOrder(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get transfer order", err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", o.Reference+".xml"))
	w.WriteHeader(http.StatusOK)
	w.Write(file)
}

func (h *Handler) TransmitTransferOrder(w http.ResponseWriter, r *http.Request) {
	h.changeOrder(w, r, "Failed to transmit transfer order", h.Gestion.MarkTransmitted)
}

func (h *Handler) ReconcileTransferOrder(w http.ResponseWriter, r *http.Request) {
	h.changeOrder(w, r, "Failed to reconcile transfer order", h.Gestion.ReconcileTransferOrder)
}

func (h *Handler) CancelTransferOrder(w http.ResponseWriter, r *http.Request) {
	h.changeOrder(w, r, "Failed to cancel transfer order", h.Gestion.CancelTransferOrder)
}

type orderChange func(ctx context.Context, actor generic.Principal, orderID string) (gestion.TransferOrder, error)

func (h *Handler) changeOrder(w http.ResponseWriter, r *http.Request, message string, change orderChange) {
	o, err := change(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, message, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferOrderDTO(o))
}

// =============================================================================
// ACCOUNTING EXPORT
// =============================================================================

// ExportAccounting returns the account's bookkeeping rows as CSV
// (semicolon separated). ?from= and ?to= bound the settlement day;
// ?period= (2026-03, 2026, FY2025) replaces both.
func (h *Handler) ExportAccounting(w http.ResponseWriter, r *http.Request) {
	rng, err := h.dateRange(r)
	if err != nil {
		h.writeDomainError(w, "Invalid date range", err)
		return
	}
	accountID := chi.URLParam(r, "id")
	rows, err := h.Gestion.ExportAccounting(r.Context(), actor(r), accountID, rng)
	if err != nil {
		h.writeDomainError(w, "Failed to export accounting", err)
		return
	}
	var buf bytes.Buffer
	if err := gestion.WriteCSV(&buf, rows); err != nil {
		h.writeDomainError(w, "Failed to write export", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "export-"+accountID+".csv"))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (h *Handler) dateRange(r *http.Request) (generic.DateRange, error) {
	var rng generic.DateRange
	q := r.URL.Query()
	if s := q.Get("period"); s != "" {
		p, err := generic.ParsePeriod(s, h.FiscalYearStart)
		if err != nil {
			return rng, err
		}
		return p.Range(), nil
	}
	if s := q.Get("from"); s != "" {
		d, err := generic.ParseDay(s)
		if err != nil {
			return rng, err
		}
		rng.From = &d
	}
	if s := q.Get("to"); s != "" {
		d, err := generic.ParseDay(s)
		if err != nil {
			return rng, err
		}
		rng.To = &d
	}
	return rng, rng.Validate()
}
