package handler

import (
	"encoding/json"
	"net/http"

	"swimbook/internal/bookings/service"
	"swimbook/internal/bookings/validator"
	apperrors "swimbook/pkg/errors"
	httputil "swimbook/pkg/http"
	"swimbook/pkg/logger"
	"swimbook/pkg/middleware"
	"swimbook/pkg/model"

	"github.com/julienschmidt/httprouter"
)

type BookingHandler struct {
	service   service.ReservationService
	validator *validator.BookingValidator
	log       *logger.Logger
}

func NewBookingHandler(service service.ReservationService, validator *validator.BookingValidator, log *logger.Logger) *BookingHandler {
	return &BookingHandler{
		service:   service,
		validator: validator,
		log:       log,
	}
}

// Create reserves spots. member_id defaults to the X-Member-ID header.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req model.BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if writeErr := httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{
			Error: "Invalid request body",
			Code:  apperrors.CodeInvalidInput,
		}); writeErr != nil {
			h.log.Error("failed to write JSON response", "handler", "Create", "operation", "WriteJSON", "error", writeErr)
		}
		return
	}
	if req.MemberID == "" {
		req.MemberID = r.Header.Get(middleware.MemberIDHeader)
	}

	reservation, err := h.service.Create(r.Context(), &req)
	if err != nil {
		h.writeError(w, "Create", err)
		return
	}

	if err := httputil.WriteCreated(w, reservation); err != nil {
		h.log.Error("failed to write created response", "handler", "Create", "operation", "WriteCreated", "error", err)
	}
}

func (h *BookingHandler) GetByID(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	booking, err := h.service.GetByID(r.Context(), ps.ByName("id"))
	if err != nil {
		h.writeError(w, "GetByID", err)
		return
	}

	if err := httputil.WriteSuccess(w, booking); err != nil {
		h.log.Error("failed to write success response", "handler", "GetByID", "operation", "WriteSuccess", "error", err)
	}
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	h.writeTransition(w, "Cancel")(h.service.Cancel(r.Context(), ps.ByName("id")))
}

func (h *BookingHandler) CheckIn(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	h.writeTransition(w, "CheckIn")(h.service.CheckIn(r.Context(), ps.ByName("id")))
}

func (h *BookingHandler) MarkNoShow(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	h.writeTransition(w, "MarkNoShow")(h.service.MarkNoShow(r.Context(), ps.ByName("id")))
}

func (h *BookingHandler) writeTransition(w http.ResponseWriter, name string) func(*model.BookingTransition, error) {
	return func(result *model.BookingTransition, err error) {
		if err != nil {
			h.writeError(w, name, err)
			return
		}
		if err := httputil.WriteSuccess(w, result); err != nil {
			h.log.Error("failed to write success response", "handler", name, "operation", "WriteSuccess", "error", err)
		}
	}
}

func (h *BookingHandler) CancelSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	result, err := h.service.CancelSession(r.Context(), ps.ByName("id"))
	if err != nil {
		h.writeError(w, "CancelSession", err)
		return
	}

	if err := httputil.WriteSuccess(w, result); err != nil {
		h.log.Error("failed to write success response", "handler", "CancelSession", "operation", "WriteSuccess", "error", err)
	}
}

func (h *BookingHandler) PromoteWaitlist(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	result, err := h.service.PromoteWaitlist(r.Context(), ps.ByName("id"))
	if err != nil {
		h.writeError(w, "PromoteWaitlist", err)
		return
	}

	if err := httputil.WriteSuccess(w, result); err != nil {
		h.log.Error("failed to write success response", "handler", "PromoteWaitlist", "operation", "WriteSuccess", "error", err)
	}
}

func (h *BookingHandler) CapacityView(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	asOf, err := httputil.ExtractTime(r, "as_of")
	if err != nil {
		h.writeError(w, "CapacityView", err)
		return
	}

	view, err := h.service.CapacityView(r.Context(), ps.ByName("id"), asOf)
	if err != nil {
		h.writeError(w, "CapacityView", err)
		return
	}

	if err := httputil.WriteSuccess(w, view); err != nil {
		h.log.Error("failed to write success response", "handler", "CapacityView", "operation", "WriteSuccess", "error", err)
	}
}

// ListSessionBookings accepts status as a repeated or comma separated filter.
func (h *BookingHandler) ListSessionBookings(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	limit, offset, err := httputil.ExtractLimitOffset(r)
	if err != nil {
		h.writeError(w, "ListSessionBookings", err)
		return
	}

	statuses, err := h.validator.ParseStatuses(httputil.ExtractList(r, "status"))
	if err != nil {
		h.writeError(w, "ListSessionBookings", apperrors.Validation("Invalid status filter", map[string]any{
			"error": err.Error(),
		}))
		return
	}

	bookings, total, err := h.service.ListSessionBookings(r.Context(), ps.ByName("id"), statuses, limit, offset)
	if err != nil {
		h.writeError(w, "ListSessionBookings", err)
		return
	}

	if err := httputil.WritePaginated(w, bookings, total, limit, offset); err != nil {
		h.log.Error("failed to write paginated response", "handler", "ListSessionBookings", "operation", "WritePaginated", "error", err)
	}
}

func (h *BookingHandler) ListMemberBookings(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	limit, offset, err := httputil.ExtractLimitOffset(r)
	if err != nil {
		h.writeError(w, "ListMemberBookings", err)
		return
	}

	bookings, total, err := h.service.ListMemberBookings(r.Context(), ps.ByName("id"), limit, offset)
	if err != nil {
		h.writeError(w, "ListMemberBookings", err)
		return
	}

	if err := httputil.WritePaginated(w, bookings, total, limit, offset); err != nil {
		h.log.Error("failed to write paginated response", "handler", "ListMemberBookings", "operation", "WritePaginated", "error", err)
	}
}

func (h *BookingHandler) writeError(w http.ResponseWriter, handler string, err error) {
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.Error("failed to write error response", "handler", handler, "operation", "WriteError", "error", writeErr)
	}
}

func (h *BookingHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/bookings", h.Create)
	router.GET("/api/v1/bookings/id/:id", h.GetByID)
	router.PATCH("/api/v1/bookings/id/:id/cancel", h.Cancel)
	router.PATCH("/api/v1/bookings/id/:id/checkin", h.CheckIn)
	router.PATCH("/api/v1/bookings/id/:id/no-show", h.MarkNoShow)

	router.POST("/api/v1/sessions/id/:id/cancel", h.CancelSession)
	router.POST("/api/v1/sessions/id/:id/promote", h.PromoteWaitlist)
	router.GET("/api/v1/sessions/id/:id/capacity", h.CapacityView)
	router.GET("/api/v1/sessions/id/:id/bookings", h.ListSessionBookings)

	router.GET("/api/v1/members/id/:id/bookings", h.ListMemberBookings)
}
