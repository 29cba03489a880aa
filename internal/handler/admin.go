package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/shopcore-system/internal/middleware"
	"github.com/mmeshcher/shopcore-system/internal/repository"
)

// AdminOnly пропускает дальше только аутентифицированных администраторов.
func (h *Handler) AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		user, err := h.service.GetUser(r.Context(), userID)
		if err != nil {
			h.logger.Error("admin check error", zap.Error(err), zap.Int64("userID", userID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		if !user.IsAdmin {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type notificationResponse struct {
	ID                 string  `json:"id"`
	TxnID              string  `json:"txn_id"`
	OrderRef           string  `json:"order_ref"`
	PaymentStatus      string  `json:"payment_status"`
	Gross              float64 `json:"gross"`
	Currency           string  `json:"currency"`
	VerificationStatus string  `json:"verification_status"`
	ProcessingStatus   string  `json:"processing_status"`
	ErrorMessage       string  `json:"error_message,omitempty"`
	OrderID            *int64  `json:"order_id,omitempty"`
	ReceivedAt         string  `json:"received_at"`
	ProcessedAt        string  `json:"processed_at,omitempty"`
}

// ListNotifications возвращает журнал платёжных уведомлений с фильтрами.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := repository.NotificationFilter{
		ProcessingStatus: q.Get("status"),
		TxnID:            q.Get("txn_id"),
		OrderRef:         q.Get("order_ref"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		f.Offset = n
	}

	notifications, err := h.service.ListNotifications(r.Context(), f)
	if err != nil {
		h.logger.Error("list notifications error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		item := notificationResponse{
			ID:                 n.ID,
			TxnID:              n.TxnID,
			OrderRef:           n.OrderRef,
			PaymentStatus:      n.PaymentStatus,
			Gross:              float64(n.GrossCents) / 100,
			Currency:           n.Currency,
			VerificationStatus: string(n.VerificationStatus),
			ProcessingStatus:   string(n.ProcessingStatus),
			ErrorMessage:       n.ErrorMessage,
			OrderID:            n.OrderID,
			ReceivedAt:         n.ReceivedAt.Format(time.RFC3339),
		}
		if n.ProcessedAt != nil {
			item.ProcessedAt = n.ProcessedAt.Format(time.RFC3339)
		}
		resp = append(resp, item)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type replayResponse struct {
	NotificationID string `json:"notification_id"`
}

// ReplayNotification повторно прогоняет сохранённое уведомление через обработку.
func (h *Handler) ReplayNotification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	newID, err := h.service.ReplayNotification(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotificationNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("replay notification error", zap.Error(err), zap.String("id", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(replayResponse{NotificationID: newID}); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

// CompleteOrder подтверждает выполнение оплаченного заказа.
func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.CompleteOrder(r.Context(), orderID); err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrInvalidTransition):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("complete order error", zap.Error(err), zap.Int64("orderID", orderID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

type banRequest struct {
	Reason       string `json:"reason"`
	DurationDays int    `json:"duration_days,omitempty"`
	BanEmail     bool   `json:"ban_email,omitempty"`
	BanIP        bool   `json:"ban_ip,omitempty"`
	IP           string `json:"ip,omitempty"`
}

// BanUser блокирует пользователя от имени текущего администратора.
func (h *Handler) BanUser(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req banRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.Reason == "" || req.DurationDays < 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err = h.service.BanUser(r.Context(), userID, adminID, req.Reason, req.DurationDays, req.BanEmail, req.BanIP, req.IP)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrUserNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrAlreadyBanned):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("ban user error", zap.Error(err), zap.Int64("userID", userID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

// UnbanUser снимает блокировку с пользователя.
func (h *Handler) UnbanUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.UnbanUser(r.Context(), userID); err != nil {
		switch {
		case errors.Is(err, repository.ErrUserNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrNotBanned):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("unban user error", zap.Error(err), zap.Int64("userID", userID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

type contestWinnerResponse struct {
	UserID int64   `json:"user_id"`
	Prize  float64 `json:"prize"`
}

type contestResponse struct {
	Period  string                  `json:"period"`
	Winners []contestWinnerResponse `json:"winners"`
}

// RunContest запускает розыгрыш за текущий период. Вызывается планировщиком
// с секретом в заголовке Authorization.
func (h *Handler) RunContest(w http.ResponseWriter, r *http.Request) {
	period, winners, err := h.service.RunContest(r.Context(), time.Now().UTC())
	if err != nil {
		if errors.Is(err, repository.ErrPeriodAlreadyRun) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("run contest error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := contestResponse{
		Period:  period,
		Winners: make([]contestWinnerResponse, 0, len(winners)),
	}
	for _, win := range winners {
		resp.Winners = append(resp.Winners, contestWinnerResponse{
			UserID: win.UserID,
			Prize:  float64(win.PrizeCents) / 100,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

// cronAuth проверяет секрет планировщика в заголовке Authorization.
func (h *Handler) cronAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cronSecret == "" || r.Header.Get("Authorization") != "Bearer "+h.cronSecret {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
