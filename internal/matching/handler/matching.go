package handler

import (
	"net/http"

	"bloodmatch/internal/matching/service"
	apperrors "bloodmatch/pkg/errors"
	httputil "bloodmatch/pkg/http"
	"bloodmatch/pkg/logger"
	"bloodmatch/pkg/model"

	"github.com/julienschmidt/httprouter"
)

type MatchingHandler struct {
	service service.MatchingService
	log     *logger.Logger
}

func NewMatchingHandler(service service.MatchingService, log *logger.Logger) *MatchingHandler {
	return &MatchingHandler{
		service: service,
		log:     log,
	}
}

type submitResponse struct {
	ID string `json:"id"`
}

func (h *MatchingHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/donors", h.RegisterDonor)
	router.GET("/api/v1/donors", h.ListDonors)
	router.GET("/api/v1/donors/id/:id", h.GetDonor)
	router.PUT("/api/v1/donors/id/:id/location", h.UpdateDonorLocation)
	router.PUT("/api/v1/donors/id/:id/eligibility", h.SetDonorEligibility)
	router.DELETE("/api/v1/donors/id/:id", h.DeactivateDonor)

	router.POST("/api/v1/requests", h.SubmitRequest)
	router.GET("/api/v1/requests/id/:id", h.GetRequest)
	router.POST("/api/v1/requests/id/:id/allocate", h.Allocate)
	router.POST("/api/v1/requests/id/:id/donors/:donorId/confirm", h.ConfirmDonation)
	router.POST("/api/v1/requests/id/:id/donors/:donorId/decline", h.DeclineReservation)
	router.POST("/api/v1/requests/id/:id/cancel", h.CancelRequest)
	router.POST("/api/v1/requests/id/:id/expire", h.ExpireRequest)
	router.POST("/api/v1/requests/id/:id/fulfill", h.FulfillRequest)
}

func (h *MatchingHandler) RegisterDonor(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var reg model.DonorRegistration
	if err := httputil.DecodeJSON(r, &reg); err != nil {
		h.writeError(w, "RegisterDonor", err)
		return
	}

	donor, err := h.service.RegisterDonor(r.Context(), &reg)
	if err != nil {
		h.writeError(w, "RegisterDonor", err)
		return
	}

	if err := httputil.WriteCreated(w, donor); err != nil {
		h.log.Error("failed to write created response", "handler", "RegisterDonor", "operation", "WriteCreated", "error", err)
	}
}

func (h *MatchingHandler) ListDonors(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	limit, offset, err := httputil.ExtractLimitOffset(r)
	if err != nil {
		h.writeError(w, "ListDonors", err)
		return
	}

	donors, total, err := h.service.ListDonors(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, "ListDonors", err)
		return
	}

	if err := httputil.WritePaginated(w, donors, total, limit, offset); err != nil {
		h.log.Error("failed to write paginated response", "handler", "ListDonors", "operation", "WritePaginated", "error", err)
	}
}

func (h *MatchingHandler) GetDonor(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	donor, err := h.service.GetDonor(r.Context(), ps.ByName("id"))
	if err != nil {
		h.writeError(w, "GetDonor", err)
		return
	}
	h.writeSuccess(w, "GetDonor", donor)
}

func (h *MatchingHandler) UpdateDonorLocation(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var pos model.Position
	if err := httputil.DecodeJSON(r, &pos); err != nil {
		h.writeError(w, "UpdateDonorLocation", err)
		return
	}

	donor, err := h.service.UpdateDonorLocation(r.Context(), ps.ByName("id"), pos)
	if err != nil {
		h.writeError(w, "UpdateDonorLocation", err)
		return
	}
	h.writeSuccess(w, "UpdateDonorLocation", donor)
}

func (h *MatchingHandler) SetDonorEligibility(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var update model.DonorEligibilityUpdate
	if err := httputil.DecodeJSON(r, &update); err != nil {
		h.writeError(w, "SetDonorEligibility", err)
		return
	}

	donor, err := h.service.SetDonorEligibility(r.Context(), ps.ByName("id"), &update)
	if err != nil {
		h.writeError(w, "SetDonorEligibility", err)
		return
	}
	h.writeSuccess(w, "SetDonorEligibility", donor)
}

func (h *MatchingHandler) DeactivateDonor(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := h.service.DeactivateDonor(r.Context(), ps.ByName("id")); err != nil {
		h.writeError(w, "DeactivateDonor", err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *MatchingHandler) SubmitRequest(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var sub model.RequestSubmission
	if err := httputil.DecodeJSON(r, &sub); err != nil {
		h.writeError(w, "SubmitRequest", err)
		return
	}

	id, err := h.service.SubmitRequest(r.Context(), &sub)
	if err != nil {
		h.writeError(w, "SubmitRequest", err)
		return
	}

	if err := httputil.WriteCreated(w, submitResponse{ID: id}); err != nil {
		h.log.Error("failed to write created response", "handler", "SubmitRequest", "operation", "WriteCreated", "error", err)
	}
}

func (h *MatchingHandler) GetRequest(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	req, err := h.service.GetRequest(r.Context(), ps.ByName("id"))
	if err != nil {
		h.writeError(w, "GetRequest", err)
		return
	}
	h.writeSuccess(w, "GetRequest", req)
}

// Allocate answers 200 even when nothing was reserved; an empty match set
// is a normal result.
func (h *MatchingHandler) Allocate(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	result, err := h.service.Allocate(r.Context(), ps.ByName("id"))
	if err != nil {
		h.writeError(w, "Allocate", err)
		return
	}
	h.writeSuccess(w, "Allocate", result)
}

func (h *MatchingHandler) ConfirmDonation(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := h.service.ConfirmDonation(r.Context(), ps.ByName("id"), ps.ByName("donorId")); err != nil {
		h.writeError(w, "ConfirmDonation", err)
		return
	}
	h.writeRequest(w, r, "ConfirmDonation", ps.ByName("id"))
}

func (h *MatchingHandler) DeclineReservation(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := h.service.DeclineReservation(r.Context(), ps.ByName("id"), ps.ByName("donorId")); err != nil {
		h.writeError(w, "DeclineReservation", err)
		return
	}
	h.writeRequest(w, r, "DeclineReservation", ps.ByName("id"))
}

func (h *MatchingHandler) CancelRequest(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := h.service.CancelRequest(r.Context(), ps.ByName("id")); err != nil {
		h.writeError(w, "CancelRequest", err)
		return
	}
	h.writeRequest(w, r, "CancelRequest", ps.ByName("id"))
}

func (h *MatchingHandler) ExpireRequest(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := h.service.ExpireRequest(r.Context(), ps.ByName("id")); err != nil {
		h.writeError(w, "ExpireRequest", err)
		return
	}
	h.writeRequest(w, r, "ExpireRequest", ps.ByName("id"))
}

func (h *MatchingHandler) FulfillRequest(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := h.service.FulfillRequest(r.Context(), ps.ByName("id")); err != nil {
		h.writeError(w, "FulfillRequest", err)
		return
	}
	h.writeRequest(w, r, "FulfillRequest", ps.ByName("id"))
}

// writeRequest answers a state change with the request as it is now.
func (h *MatchingHandler) writeRequest(w http.ResponseWriter, r *http.Request, handler, requestID string) {
	req, err := h.service.GetRequest(r.Context(), requestID)
	if err != nil {
		h.writeError(w, handler, err)
		return
	}
	h.writeSuccess(w, handler, req)
}

func (h *MatchingHandler) writeSuccess(w http.ResponseWriter, handler string, data any) {
	if err := httputil.WriteSuccess(w, data); err != nil {
		h.log.Error("failed to write success response", "handler", handler, "operation", "WriteSuccess", "error", err)
	}
}

func (h *MatchingHandler) writeError(w http.ResponseWriter, handler string, err error) {
	if appErr := apperrors.AsAppError(err); appErr.StatusCode() >= http.StatusInternalServerError {
		h.log.Error("request failed", "handler", handler, "error", err)
	}
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.Error("failed to write error response", "handler", handler, "operation", "WriteError", "error", writeErr)
	}
}
