// Package ipn содержит разбор тела платёжного уведомления PayPal.
package ipn

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Fields содержит разобранные поля IPN-уведомления.
type Fields struct {
	PaymentStatus string
	TxnID         string
	ReceiverEmail string
	OrderRef      string
	GrossCents    int64
	Currency      string
}

// StatusKind классифицирует платёжный статус уведомления.
type StatusKind int

const (
	// StatusIgnored — статусы, не влияющие на жизненный цикл заказа.
	StatusIgnored StatusKind = iota
	// StatusCompleted — платёж завершён.
	StatusCompleted
	// StatusFailed — платёж не состоялся.
	StatusFailed
)

// Parse разбирает тело application/x-www-form-urlencoded в поля уведомления.
func Parse(rawBody string) (*Fields, error) {
	values, err := url.ParseQuery(rawBody)
	if err != nil {
		return nil, fmt.Errorf("parse form body: %w", err)
	}

	f := &Fields{
		PaymentStatus: values.Get("payment_status"),
		TxnID:         values.Get("txn_id"),
		ReceiverEmail: values.Get("receiver_email"),
		OrderRef:      values.Get("custom"),
		Currency:      values.Get("mc_currency"),
	}

	// PayPal присылает получателя то в receiver_email, то в business.
	if f.ReceiverEmail == "" {
		f.ReceiverEmail = values.Get("business")
	}

	if gross := values.Get("mc_gross"); gross != "" {
		cents, err := ParseAmountCents(gross)
		if err != nil {
			return nil, fmt.Errorf("parse mc_gross: %w", err)
		}
		f.GrossCents = cents
	}

	return f, nil
}

// Kind возвращает классификацию платёжного статуса уведомления.
func (f *Fields) Kind() StatusKind {
	switch f.PaymentStatus {
	case "Completed":
		return StatusCompleted
	case "Failed", "Denied", "Expired", "Canceled_Reversal":
		return StatusFailed
	default:
		return StatusIgnored
	}
}

// ParseAmountCents переводит десятичную денежную строку в копейки без
// промежуточного float, чтобы исключить накопление ошибок округления.
func ParseAmountCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	negative := false
	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	}

	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart = s[:i]
		fracPart = s[i+1:]
	}

	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) > 2 {
		return 0, fmt.Errorf("too many decimal places: %q", s)
	}
	for len(fracPart) < 2 {
		fracPart += "0"
	}

	units, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	frac, err := strconv.ParseInt(fracPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}

	cents := units*100 + frac
	if negative {
		cents = -cents
	}
	return cents, nil
}
