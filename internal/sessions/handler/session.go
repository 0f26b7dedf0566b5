package handler

import (
	"encoding/json"
	"net/http"

	"swimbook/internal/sessions/service"
	apperrors "swimbook/pkg/errors"
	httputil "swimbook/pkg/http"
	"swimbook/pkg/logger"
	"swimbook/pkg/model"

	"github.com/julienschmidt/httprouter"
)

type SessionHandler struct {
	service service.SessionService
	log     *logger.Logger
}

func NewSessionHandler(service service.SessionService, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		service: service,
		log:     log,
	}
}

type statusRequest struct {
	Status model.SessionStatus `json:"status"`
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var session model.Session
	if !h.decode(w, r, "Create", &session) {
		return
	}

	created, err := h.service.Create(r.Context(), &session)
	if err != nil {
		h.writeError(w, "Create", err)
		return
	}

	if err := httputil.WriteCreated(w, created); err != nil {
		h.log.Error("failed to write created response", "handler", "Create", "operation", "WriteCreated", "error", err)
	}
}

func (h *SessionHandler) GetByID(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	session, err := h.service.GetByID(r.Context(), ps.ByName("id"))
	if err != nil {
		h.writeError(w, "GetByID", err)
		return
	}

	if err := httputil.WriteSuccess(w, session); err != nil {
		h.log.Error("failed to write success response", "handler", "GetByID", "operation", "WriteSuccess", "error", err)
	}
}

func (h *SessionHandler) GetAll(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	limit, offset, err := httputil.ExtractLimitOffset(r)
	if err != nil {
		h.writeError(w, "GetAll", err)
		return
	}

	filter := model.SessionFilter{Instructor: r.URL.Query().Get("instructor")}
	for _, raw := range httputil.ExtractList(r, "status") {
		status, err := model.ParseSessionStatus(raw)
		if err != nil {
			h.writeError(w, "GetAll", apperrors.Validation("Invalid status filter", map[string]any{
				"error": err.Error(),
			}))
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	sessions, total, err := h.service.GetAll(r.Context(), filter, limit, offset)
	if err != nil {
		h.writeError(w, "GetAll", err)
		return
	}

	if err := httputil.WritePaginated(w, sessions, total, limit, offset); err != nil {
		h.log.Error("failed to write paginated response", "handler", "GetAll", "operation", "WritePaginated", "error", err)
	}
}

func (h *SessionHandler) Update(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var updates model.SessionUpdate
	if !h.decode(w, r, "Update", &updates) {
		return
	}

	updated, err := h.service.Update(r.Context(), ps.ByName("id"), &updates)
	if err != nil {
		h.writeError(w, "Update", err)
		return
	}

	if err := httputil.WriteSuccess(w, updated); err != nil {
		h.log.Error("failed to write success response", "handler", "Update", "operation", "WriteSuccess", "error", err)
	}
}

func (h *SessionHandler) SetStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req statusRequest
	if !h.decode(w, r, "SetStatus", &req) {
		return
	}
	if req.Status == "" {
		h.writeError(w, "SetStatus", apperrors.InvalidInput("status is required"))
		return
	}

	updated, err := h.service.SetStatus(r.Context(), ps.ByName("id"), req.Status)
	if err != nil {
		h.writeError(w, "SetStatus", err)
		return
	}

	if err := httputil.WriteSuccess(w, updated); err != nil {
		h.log.Error("failed to write success response", "handler", "SetStatus", "operation", "WriteSuccess", "error", err)
	}
}

// decode reads the JSON body. Unknown status values fail here, at decoding.
func (h *SessionHandler) decode(w http.ResponseWriter, r *http.Request, handler string, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if writeErr := httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{
			Error: "Invalid request body: " + err.Error(),
			Code:  apperrors.CodeInvalidInput,
		}); writeErr != nil {
			h.log.Error("failed to write JSON response", "handler", handler, "operation", "WriteJSON", "error", writeErr)
		}
		return false
	}
	return true
}

func (h *SessionHandler) writeError(w http.ResponseWriter, handler string, err error) {
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.Error("failed to write error response", "handler", handler, "operation", "WriteError", "error", writeErr)
	}
}

func (h *SessionHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/sessions", h.Create)
	router.GET("/api/v1/sessions", h.GetAll)
	router.GET("/api/v1/sessions/id/:id", h.GetByID)
	router.PATCH("/api/v1/sessions/id/:id", h.Update)
	router.PATCH("/api/v1/sessions/id/:id/status", h.SetStatus)
}
