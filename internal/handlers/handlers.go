package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"marketplace/internal/apperr"
	"marketplace/internal/middleware"
	"marketplace/models"
)

const maxBodyBytes = 1048576

// Services собирает движки, которые обслуживает HTTP-слой
type Services struct {
	Auction AuctionService
	Jobs    JobService
	Escrow  EscrowService
	Risk    RiskService
	Chat    ChatService
}

// Handler переводит HTTP-запросы в вызовы движков
type Handler struct {
	svc    Services
	logger *slog.Logger
}

// NewHandler создает новый Handler
func NewHandler(svc Services, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger.With("component", "http")}
}

// Routes регистрирует маршруты /api. Всё, кроме ping, требует заголовков участника.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", h.PingHandler)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth)

			// тендеры
			r.Post("/tenders", h.CreateTenderHandler)
			r.Get("/tenders/{tenderId}", h.GetTenderHandler)
			r.Post("/tenders/{tenderId}/bids", h.SubmitBidHandler)
			r.Get("/tenders/{tenderId}/bids", h.ListBidsHandler)
			r.Post("/tenders/{tenderId}/lock", h.LockBidsHandler)
			r.Post("/tenders/{tenderId}/winner", h.SelectWinnerHandler)
			r.Post("/tenders/{tenderId}/cancel", h.CancelTenderHandler)

			// работы
			r.Post("/jobs", h.CreateJobHandler)
			r.Get("/jobs/{jobId}", h.GetJobHandler)
			r.Post("/jobs/{jobId}/offer", h.OfferJobHandler)
			r.Post("/jobs/{jobId}/accept", h.AcceptJobHandler)
			r.Post("/jobs/{jobId}/start", h.StartJobHandler)
			r.Post("/jobs/{jobId}/finish", h.FinishJobHandler)
			r.Post("/jobs/{jobId}/cancel", h.CancelJobHandler)
			r.Post("/jobs/{jobId}/dispute", h.DisputeJobHandler)

			// депозиты
			r.Post("/escrow", h.CreateDepositHandler)
			r.Post("/escrow/{escrowId}/release", h.ReleaseEscrowHandler)
			r.Post("/escrow/{escrowId}/refund", h.RefundEscrowHandler)

			r.Get("/risk/me", h.RiskHandler)

			r.Post("/chats", h.CreateChatHandler)
			r.Post("/chats/{chatId}/messages", h.PostMessageHandler)
			r.Get("/chats/{chatId}/messages", h.ListMessagesHandler)
		})
	})
}

// PingHandler отвечает "ok" для проверки сервера
func (h *Handler) PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// RiskHandler отдаёт оценку риска текущего участника
func (h *Handler) RiskHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	assessment, err := h.svc.Risk.Assess(r.Context(), actor.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assessment)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid user headers")
	}
	return actor, ok
}

// decodeBody читает тело запроса с ограничением размера. Пустое тело допустимо.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_input", "Failed to read request body")
		return false
	}
	defer r.Body.Close()
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_input", "Invalid JSON format")
		return false
	}
	return true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_input", "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

// writeError переводит вид ошибки в HTTP-статус. Инфраструктурные ошибки
// логируются и наружу уходят без подробностей.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	if appErr.Kind == apperr.KindConflict {
		w.Header().Set("Retry-After", "1")
	}
	if appErr.Kind == apperr.KindExternalFailure {
		h.logger.Warn("external failure", "path", r.URL.Path, "code", appErr.Code, "error", err)
	}
	writeJSONError(w, statusFor(appErr.Kind), appErr.Code, appErr.Message)
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotAuthorized:
		return http.StatusForbidden
	case apperr.KindInvalidState, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindInvalidInput:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindExternalFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
