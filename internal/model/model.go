// Package model содержит доменные сущности сервиса shopcore.
package model

import (
	"time"
)

// User представляет зарегистрированного пользователя магазина.
type User struct {
	ID           int64
	Email        string
	PasswordHash []byte
	ReferralCode string
	IsAdmin      bool
	Status       UserStatus
	BannedAt     *time.Time
	BanExpiresAt *time.Time
	BanReason    string
	BannedBy     *int64
	CreatedAt    time.Time
}

// UserStatus описывает состояние учётной записи.
type UserStatus string

const (
	UserStatusActive UserStatus = "active"
	UserStatusBanned UserStatus = "banned"
)

// IsBanned сообщает, действует ли бан на момент now.
// Истёкший бан считается снятым, даже если статус ещё не сброшен явной операцией.
func (u *User) IsBanned(now time.Time) bool {
	if u.Status != UserStatusBanned {
		return false
	}
	if u.BanExpiresAt == nil {
		return true
	}
	return u.BanExpiresAt.After(now)
}

// OrderStatus описывает статус жизненного цикла заказа.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentStatus описывает статус оплаты заказа.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Order описывает заказ пользователя. Статус движется только вперёд:
// pending -> paid -> completed, единственная альтернатива — pending -> cancelled.
type Order struct {
	ID            int64
	UserID        int64
	TotalCents    int64
	Status        OrderStatus
	PaymentStatus PaymentStatus
	CashbackUsed  int64
	CouponCode    string
	TxnID         string
	PaidAt        *time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time
}

// VerificationStatus описывает результат проверки подлинности уведомления.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationFailed   VerificationStatus = "failed"
)

// ProcessingStatus описывает результат обработки уведомления конвейером.
type ProcessingStatus string

const (
	ProcessingPending ProcessingStatus = "pending"
	ProcessingSuccess ProcessingStatus = "success"
	ProcessingError   ProcessingStatus = "error"
)

// Notification представляет одну доставку платёжного уведомления (IPN).
// Запись создаётся на каждую доставку, включая дубликаты; после создания
// конвейер однократно дописывает только статусные поля.
type Notification struct {
	ID                 string
	RawBody            string
	UserAgent          string
	SourceIP           string
	PaymentStatus      string
	TxnID              string
	ReceiverEmail      string
	OrderRef           string
	GrossCents         int64
	Currency           string
	VerificationStatus VerificationStatus
	ProcessingStatus   ProcessingStatus
	ErrorMessage       string
	OrderID            *int64
	ReceivedAt         time.Time
	ProcessedAt        *time.Time
}

// Balance содержит баланс кэшбэка пользователя.
// Available меньше Raw на сумму резервов незавершённых заказов.
type Balance struct {
	Raw       float64 `json:"raw"`
	Available float64 `json:"available"`
}

// RewardStatus описывает состояние вознаграждения за приглашение.
type RewardStatus string

const (
	RewardStatusPending RewardStatus = "pending"
	RewardStatusEarned  RewardStatus = "earned"
)

// ContestWinner описывает победителя розыгрыша за один период.
type ContestWinner struct {
	UserID        int64
	ContestPeriod string
	PrizeCents    int64
	SelectedAt    time.Time
}
