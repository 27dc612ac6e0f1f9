package http

import (
	"net/http"
	"time"

	"taxos/internal/core"
	"taxos/internal/log"
)

func (s *Server) handleUnallocated(w http.ResponseWriter, r *http.Request, tenant core.TenantID) {
	months, err := ParseMonths(r.URL.Query())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	view, err := s.receipts.Unallocated(r.Context(), tenant, months)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if view == nil {
		view = []core.UnallocatedReceipt{}
	}
	NewJSONResponse().Body(map[string]any{
		"months":      monthsOrEmpty(months),
		"unallocated": view,
		"count":       len(view),
	}).Write(w)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request, tenant core.TenantID) {
	months, err := ParseMonths(r.URL.Query())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	d, err := s.receipts.Dashboard(r.Context(), tenant, months)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	d.Months = monthsOrEmpty(d.Months)
	if d.Buckets == nil {
		d.Buckets = []core.BucketSummary{}
	}
	if d.Unallocated == nil {
		d.Unallocated = []core.UnallocatedReceipt{}
	}
	if d.VendorNames == nil {
		d.VendorNames = []string{}
	}
	NewJSONResponse().Body(d).Write(w)
}

func (s *Server) handleVendors(w http.ResponseWriter, r *http.Request, tenant core.TenantID) {
	names, err := s.receipts.Vendors(r.Context(), tenant)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	NewJSONResponse().Body(map[string]any{"vendors": names}).Write(w)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request, tenant core.TenantID) {
	start := time.Now()
	repo, err := s.receipts.Rebuild(r.Context(), tenant)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	months := len(repo.Months())
	log.FromContext(r.Context()).InfoContext(r.Context(), "Index rebuild requested",
		log.FieldReceipts, repo.Len(),
		log.FieldMonths, months,
		log.FieldDuration, time.Since(start).Milliseconds())
	NewJSONResponse().Body(map[string]int{"receipts": repo.Len(), "months": months}).Write(w)
}
