package http

import (
	"net/http"

	"taxos/internal/core"
	"taxos/internal/log"
)

func (s *Server) handleCreateReceipt(w http.ResponseWriter, r *http.Request, tenant core.TenantID) {
	in, err := ParseReceiptInput(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	rec, err := s.receipts.Create(r.Context(), tenant, in)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	log.FromContext(r.Context()).InfoContext(r.Context(), "Receipt created",
		log.FieldReceiptID, rec.ID.String(),
		log.FieldMonth, rec.Month().String())
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/receipts/"+rec.ID.String()).
		Body(rec).
		Write(w)
}

func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request, tenant core.TenantID) {
	filter, err := ParseListFilter(r.URL.Query())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	recs, err := s.receipts.List(r.Context(), tenant, filter)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if recs == nil {
		recs = []core.Receipt{}
	}
	NewJSONResponse().Body(map[string]any{"receipts": recs, "count": len(recs)}).Write(w)
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request, tenant core.TenantID) {
	id, err := ParseReceiptID(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	rec, err := s.receipts.Get(r.Context(), tenant, id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	NewJSONResponse().Body(rec).Write(w)
}

func (s *Server) handleUpdateReceipt(w http.ResponseWriter, r *http.Request, tenant core.TenantID) {
	id, err := ParseReceiptID(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	patch, err := ParseReceiptPatch(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	rec, err := s.receipts.Update(r.Context(), tenant, id, patch)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	log.FromContext(r.Context()).InfoContext(r.Context(), "Receipt updated",
		log.FieldReceiptID, rec.ID.String(),
		log.FieldMonth, rec.Month().String())
	NewJSONResponse().Body(rec).Write(w)
}

func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request, tenant core.TenantID) {
	id, err := ParseReceiptID(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	deleted, err := s.receipts.Delete(r.Context(), tenant, id)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	if deleted {
		log.FromContext(r.Context()).InfoContext(r.Context(), "Receipt deleted", log.FieldReceiptID, id.String())
	}
	NewJSONResponse().Body(map[string]bool{"deleted": deleted}).Write(w)
}
