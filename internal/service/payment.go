package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/shopcore-system/internal/ipn"
	"github.com/mmeshcher/shopcore-system/internal/model"
	"github.com/mmeshcher/shopcore-system/internal/repository"
)

// IngestNotification принимает платёжное уведомление: дописывает его в журнал
// и прогоняет через конвейер обработки. Ошибка возвращается только если запись
// в журнал не удалась — в этом случае платёжная система повторит доставку.
// Все ошибки самого конвейера остаются в журнале и снаружи не видны.
func (s *Service) IngestNotification(ctx context.Context, rawBody, userAgent, sourceIP string) (string, error) {
	fields, parseErr := ipn.Parse(rawBody)

	n := &model.Notification{
		ID:        uuid.NewString(),
		RawBody:   rawBody,
		UserAgent: userAgent,
		SourceIP:  sourceIP,
	}
	if parseErr == nil {
		n.PaymentStatus = fields.PaymentStatus
		n.TxnID = fields.TxnID
		n.ReceiverEmail = fields.ReceiverEmail
		n.OrderRef = fields.OrderRef
		n.GrossCents = fields.GrossCents
		n.Currency = fields.Currency
	}

	if err := s.repo.CreateNotification(ctx, n); err != nil {
		return "", err
	}

	s.processNotification(ctx, n, fields, parseErr)

	return n.ID, nil
}

// processNotification выполняет верификацию, дедупликацию и переход заказа.
// Любой исход однократно фиксируется в статусных полях уведомления.
func (s *Service) processNotification(ctx context.Context, n *model.Notification, fields *ipn.Fields, parseErr error) {
	if parseErr != nil {
		s.recordVerification(ctx, n.ID, model.VerificationFailed)
		s.recordOutcome(ctx, n.ID, model.ProcessingError, "malformed payload: "+parseErr.Error(), nil)
		return
	}

	valid, err := s.verifier.Verify(ctx, n.RawBody, n.UserAgent)
	if err != nil {
		s.recordVerification(ctx, n.ID, model.VerificationFailed)
		s.recordOutcome(ctx, n.ID, model.ProcessingError, "verification request failed: "+err.Error(), nil)
		return
	}
	if !valid {
		s.recordVerification(ctx, n.ID, model.VerificationFailed)
		s.recordOutcome(ctx, n.ID, model.ProcessingError, "invalid notification signature", nil)
		return
	}

	s.recordVerification(ctx, n.ID, model.VerificationVerified)

	if fields.ReceiverEmail == "" || fields.ReceiverEmail != s.cfg.ReceiverEmail {
		s.recordOutcome(ctx, n.ID, model.ProcessingError,
			fmt.Sprintf("receiver email mismatch: %q", fields.ReceiverEmail), nil)
		return
	}

	duplicate, err := s.repo.IsDuplicateTxn(ctx, fields.TxnID, n.ID)
	if err != nil {
		s.recordOutcome(ctx, n.ID, model.ProcessingError, "duplicate check failed: "+err.Error(), nil)
		return
	}
	if duplicate {
		// Повторная доставка записывается как успех, но эффектов не производит.
		s.recordOutcome(ctx, n.ID, model.ProcessingSuccess, "duplicate delivery", nil)
		return
	}

	switch fields.Kind() {
	case ipn.StatusCompleted:
		s.applyCompletedPayment(ctx, n.ID, fields)
	case ipn.StatusFailed:
		s.applyFailedPayment(ctx, n.ID, fields)
	default:
		s.recordOutcome(ctx, n.ID, model.ProcessingSuccess,
			"ignored payment status: "+fields.PaymentStatus, nil)
	}
}

func (s *Service) applyCompletedPayment(ctx context.Context, notificationID string, fields *ipn.Fields) {
	orderID, err := strconv.ParseInt(fields.OrderRef, 10, 64)
	if err != nil {
		s.recordOutcome(ctx, notificationID, model.ProcessingError,
			"missing or invalid order reference: "+fields.OrderRef, nil)
		return
	}

	result, err := s.repo.SettlePayment(ctx, orderID, fields.TxnID, fields.GrossCents,
		s.cfg.CashbackPercent, s.cfg.ReferrerPercent)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			s.recordOutcome(ctx, notificationID, model.ProcessingError,
				"order not found: "+fields.OrderRef, nil)
			return
		}
		if errors.Is(err, repository.ErrInvalidTransition) {
			// Проигравшая гонку доставка того же txn_id видит эффект победителя
			// только после его коммита, поэтому дубликат проверяется повторно.
			duplicate, dupErr := s.repo.IsDuplicateTxn(ctx, fields.TxnID, notificationID)
			if dupErr == nil && duplicate {
				s.recordOutcome(ctx, notificationID, model.ProcessingSuccess, "duplicate delivery", nil)
				return
			}
		}
		s.recordOutcome(ctx, notificationID, model.ProcessingError, err.Error(), &orderID)
		return
	}

	s.recordOutcome(ctx, notificationID, model.ProcessingSuccess, "", &orderID)

	s.logger.Info("payment settled",
		zap.Int64("orderID", result.OrderID),
		zap.Int64("cashbackCents", result.CashbackCents),
		zap.Int64("referralCents", result.ReferralCents),
	)
}

func (s *Service) applyFailedPayment(ctx context.Context, notificationID string, fields *ipn.Fields) {
	orderID, err := strconv.ParseInt(fields.OrderRef, 10, 64)
	if err != nil {
		s.recordOutcome(ctx, notificationID, model.ProcessingError,
			"missing or invalid order reference: "+fields.OrderRef, nil)
		return
	}

	if err := s.repo.FailPayment(ctx, orderID, fields.TxnID); err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			s.recordOutcome(ctx, notificationID, model.ProcessingError,
				"order not found: "+fields.OrderRef, nil)
			return
		}
		s.recordOutcome(ctx, notificationID, model.ProcessingError, err.Error(), &orderID)
		return
	}

	s.recordOutcome(ctx, notificationID, model.ProcessingSuccess, "", &orderID)
}

func (s *Service) recordVerification(ctx context.Context, id string, status model.VerificationStatus) {
	if err := s.repo.SetNotificationVerification(ctx, id, status); err != nil {
		s.logger.Error("record verification status failed",
			zap.String("notificationID", id), zap.Error(err))
	}
}

func (s *Service) recordOutcome(ctx context.Context, id string, status model.ProcessingStatus, errMsg string, orderID *int64) {
	if err := s.repo.MarkNotificationProcessed(ctx, id, status, errMsg, orderID); err != nil {
		s.logger.Error("record processing outcome failed",
			zap.String("notificationID", id), zap.Error(err))
	}
}

// ReplayNotification повторно подаёт сохранённое уведомление в тот же конвейер.
// Повтор проходит ту же проверку на дубликат, поэтому безопасен.
func (s *Service) ReplayNotification(ctx context.Context, notificationID string) (string, error) {
	n, err := s.repo.GetNotification(ctx, notificationID)
	if err != nil {
		return "", err
	}

	return s.IngestNotification(ctx, n.RawBody, n.UserAgent, n.SourceIP)
}

// ListNotifications возвращает журнал уведомлений для операторского просмотра.
func (s *Service) ListNotifications(ctx context.Context, f repository.NotificationFilter) ([]model.Notification, error) {
	return s.repo.ListNotifications(ctx, f)
}
