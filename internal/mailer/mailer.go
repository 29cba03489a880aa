// Package mailer содержит заглушку внешнего сервиса отправки писем.
package mailer

import (
	"context"

	"go.uber.org/zap"
)

// LogMailer записывает исходящие письма в журнал вместо реальной отправки.
// Боевая доставка выполняется внешним сервисом за пределами этого модуля.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer создаёт почтовую заглушку поверх указанного логгера.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// SendOrderCompleted регистрирует письмо о выполнении заказа.
func (m *LogMailer) SendOrderCompleted(ctx context.Context, email string, orderID int64, totalCents int64) error {
	m.logger.Info("order completed email",
		zap.String("email", email),
		zap.Int64("orderID", orderID),
		zap.Int64("totalCents", totalCents),
	)
	return nil
}
