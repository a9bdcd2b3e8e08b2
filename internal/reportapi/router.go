package reportapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"titan/internal/billing"
	"titan/internal/capital"
	"titan/internal/execution"
	"titan/internal/registry"
)

// Deps are the read models reportapi surfaces. Any field may be nil;
// the corresponding routes then report 501 rather than panicking.
type Deps struct {
	Registry     *registry.Registry
	CapitalStore *capital.Store
	PnLTracker   *execution.Tracker
	Invoicer     *billing.Invoicer
}

// Router builds the read-only reporting chi router.
func Router(deps Deps) chi.Router {
	r := chi.NewRouter()

	r.Get("/registry/modules", deps.listModules)
	r.Get("/registry/modules/{name}/{version}", deps.getModule)
	r.Get("/capital/book/{tenant}", deps.getCapitalBook)
	r.Get("/pnl/{tenant}/{symbol}/{date}", deps.getSessionPnL)
	r.Get("/billing/invoices/{tenant}", deps.getInvoiceHistory)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type notConfiguredError string

func (e notConfiguredError) Error() string { return string(e) + " not configured" }

func (d Deps) listModules(w http.ResponseWriter, r *http.Request) {
	if d.Registry == nil {
		writeErr(w, http.StatusNotImplemented, notConfiguredError("registry"))
		return
	}
	records, err := d.Registry.List(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (d Deps) getModule(w http.ResponseWriter, r *http.Request) {
	if d.Registry == nil {
		writeErr(w, http.StatusNotImplemented, notConfiguredError("registry"))
		return
	}
	name := chi.URLParam(r, "name")
	version := chi.URLParam(r, "version")
	rec, err := d.Registry.Get(r.Context(), name, version)
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (d Deps) getCapitalBook(w http.ResponseWriter, r *http.Request) {
	if d.CapitalStore == nil {
		writeErr(w, http.StatusNotImplemented, notConfiguredError("capital store"))
		return
	}
	tenant := chi.URLParam(r, "tenant")
	book, err := d.CapitalStore.Get(r.Context(), tenant)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (d Deps) getSessionPnL(w http.ResponseWriter, r *http.Request) {
	if d.PnLTracker == nil {
		writeErr(w, http.StatusNotImplemented, notConfiguredError("pnl tracker"))
		return
	}
	tenant := chi.URLParam(r, "tenant")
	symbol := chi.URLParam(r, "symbol")
	date := chi.URLParam(r, "date")
	pnl, err := d.PnLTracker.Get(r.Context(), tenant, symbol, date)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, pnl)
}

func (d Deps) getInvoiceHistory(w http.ResponseWriter, r *http.Request) {
	if d.Invoicer == nil {
		writeErr(w, http.StatusNotImplemented, notConfiguredError("invoicer"))
		return
	}
	tenant := chi.URLParam(r, "tenant")
	invoices, err := d.Invoicer.InvoiceHistory(r.Context(), tenant, 20)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, invoices)
}
