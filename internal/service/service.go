// Package service реализует бизнес-логику сервиса shopcore.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/shopcore-system/internal/config"
	"github.com/mmeshcher/shopcore-system/internal/model"
	"github.com/mmeshcher/shopcore-system/internal/repository"
)

// ErrInvalidCredentials возвращается при неверной паре email/пароль.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserBanned возвращается при попытке входа забаненного пользователя.
	ErrUserBanned = errors.New("user is banned")
	// ErrSignupBlocked возвращается, если email или IP заблокированы для регистрации.
	ErrSignupBlocked = errors.New("registration blocked")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, email string, passwordHash []byte, referralCode string) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*model.User, error)
	CreateReferralEdge(ctx context.Context, referrerID, referredID int64) error
	CreateCheckin(ctx context.Context, userID int64, day time.Time, points int64) (int, error)

	CreateOrder(ctx context.Context, userID, totalCents, cashbackCents int64, couponCode string) (int64, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	GetBalance(ctx context.Context, userID int64) (int64, int64, error)
	CancelOrder(ctx context.Context, orderID, userID int64) error
	CompleteOrder(ctx context.Context, orderID int64) (string, int64, error)
	SettlePayment(ctx context.Context, orderID int64, txnID string, grossCents int64, cashbackPercent, referrerPercent int) (*repository.PaymentResult, error)
	FailPayment(ctx context.Context, orderID int64, txnID string) error

	CreateNotification(ctx context.Context, n *model.Notification) error
	SetNotificationVerification(ctx context.Context, id string, status model.VerificationStatus) error
	MarkNotificationProcessed(ctx context.Context, id string, status model.ProcessingStatus, errMsg string, orderID *int64) error
	IsDuplicateTxn(ctx context.Context, txnID, excludeID string) (bool, error)
	GetNotification(ctx context.Context, id string) (*model.Notification, error)
	ListNotifications(ctx context.Context, f repository.NotificationFilter) ([]model.Notification, error)

	BanUser(ctx context.Context, userID, byUserID int64, reason string, durationDays int, banEmail, banIP bool, ip string) error
	UnbanUser(ctx context.Context, userID int64) error
	IsEmailBanned(ctx context.Context, email string) (bool, error)
	IsIPBanned(ctx context.Context, ip string) (bool, error)
	SweepExpiredBans(ctx context.Context) (int64, error)

	ListContestEntrants(ctx context.Context) ([]repository.ContestEntrant, error)
	RecordContestWinners(ctx context.Context, period string, winnerIDs []int64, prizeCents int64) error
	ListContestWinners(ctx context.Context, period string) ([]model.ContestWinner, error)
}

// Verifier проверяет подлинность платёжного уведомления у платёжной системы.
type Verifier interface {
	Verify(ctx context.Context, rawBody, userAgent string) (bool, error)
}

// Mailer отправляет транзакционные письма через внешний сервис.
type Mailer interface {
	SendOrderCompleted(ctx context.Context, email string, orderID int64, totalCents int64) error
}

// Service содержит бизнес-логику сервиса shopcore.
type Service struct {
	repo     Repository
	verifier Verifier
	mailer   Mailer
	logger   *zap.Logger
	cfg      *config.Config
}

// NewService создаёт новый сервис с указанными зависимостями.
func NewService(repo Repository, verifier Verifier, mailer Mailer, logger *zap.Logger, cfg *config.Config) *Service {
	return &Service{
		repo:     repo,
		verifier: verifier,
		mailer:   mailer,
		logger:   logger,
		cfg:      cfg,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует пользователя, предварительно проверяя email и IP
// по спискам блокировок. Реферальный код приглашения обрабатывается после
// создания учётной записи; его ошибки регистрацию не срывают.
func (s *Service) RegisterUser(ctx context.Context, email, password, referralCode, sourceIP string) (int64, error) {
	banned, err := s.repo.IsEmailBanned(ctx, email)
	if err != nil {
		return 0, err
	}
	if banned {
		return 0, ErrSignupBlocked
	}

	if sourceIP != "" {
		banned, err = s.repo.IsIPBanned(ctx, sourceIP)
		if err != nil {
			return 0, err
		}
		if banned {
			return 0, ErrSignupBlocked
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	var userID int64
	for attempt := 0; attempt < 5; attempt++ {
		code, err := generateReferralCode()
		if err != nil {
			return 0, err
		}

		userID, err = s.repo.CreateUser(ctx, email, hash, code)
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrReferralCodeTaken) {
			continue
		}
		return 0, err
	}
	if userID == 0 {
		return 0, fmt.Errorf("generate unique referral code: attempts exhausted")
	}

	if referralCode != "" {
		if err := s.processReferral(ctx, referralCode, userID); err != nil {
			s.logger.Warn("referral processing skipped",
				zap.Int64("userID", userID), zap.Error(err))
		}
	}

	return userID, nil
}

// processReferral создаёт реферальную связь для нового пользователя.
// Вознаграждение здесь не начисляется: оно выдаётся на первом оплаченном заказе.
func (s *Service) processReferral(ctx context.Context, code string, newUserID int64) error {
	referrer, err := s.repo.GetUserByReferralCode(ctx, code)
	if err != nil {
		return err
	}

	if referrer.ID == newUserID {
		return repository.ErrInvalidReferralCode
	}

	return s.repo.CreateReferralEdge(ctx, referrer.ID, newUserID)
}

const referralCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func generateReferralCode() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate referral code: %w", err)
	}
	for i := range buf {
		buf[i] = referralCodeAlphabet[int(buf[i])%len(referralCodeAlphabet)]
	}
	return string(buf), nil
}

// AuthenticateUser проверяет учётные данные и действующие баны пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (int64, error) {
	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return 0, ErrInvalidCredentials
		}
		return 0, err
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return 0, ErrInvalidCredentials
	}

	if u.IsBanned(time.Now()) {
		return 0, ErrUserBanned
	}

	return u.ID, nil
}

// GetUser возвращает пользователя по идентификатору.
func (s *Service) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// CreateOrder оформляет заказ, резервируя часть доступного баланса кэшбэка.
func (s *Service) CreateOrder(ctx context.Context, userID int64, total, cashback float64, couponCode string) (int64, error) {
	totalCents := toCents(total)
	cashbackCents := toCents(cashback)

	if totalCents <= 0 {
		return 0, errors.New("order total must be positive")
	}
	if cashbackCents < 0 {
		return 0, errors.New("cashback amount must not be negative")
	}
	if cashbackCents > totalCents {
		return 0, errors.New("cashback exceeds order total")
	}

	return s.repo.CreateOrder(ctx, userID, totalCents, cashbackCents, couponCode)
}

// GetOrdersByUser возвращает список заказов пользователя.
func (s *Service) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.repo.GetOrdersByUser(ctx, userID)
}

// GetBalance возвращает баланс пользователя в виде структуры model.Balance.
func (s *Service) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	raw, available, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.Balance{
		Raw:       float64(raw) / 100,
		Available: float64(available) / 100,
	}, nil
}

// CancelOrder отменяет незавершённый заказ пользователя.
// Виртуальный резерв возвращается в доступный баланс самим фактом отмены.
func (s *Service) CancelOrder(ctx context.Context, orderID, userID int64) error {
	return s.repo.CancelOrder(ctx, orderID, userID)
}

// CompleteOrder подтверждает выполнение оплаченного заказа и отправляет письмо.
// Сбой отправки письма не откатывает переход статуса.
func (s *Service) CompleteOrder(ctx context.Context, orderID int64) error {
	email, totalCents, err := s.repo.CompleteOrder(ctx, orderID)
	if err != nil {
		return err
	}

	if err := s.mailer.SendOrderCompleted(ctx, email, orderID, totalCents); err != nil {
		s.logger.Error("order completed email failed",
			zap.Int64("orderID", orderID), zap.Error(err))
	}

	return nil
}

// DailyCheckin фиксирует ежедневную отметку пользователя и начисляет баллы.
func (s *Service) DailyCheckin(ctx context.Context, userID int64) (int, int64, error) {
	points := s.cfg.CheckinPoints
	streak, err := s.repo.CreateCheckin(ctx, userID, time.Now().UTC(), points)
	if err != nil {
		return 0, 0, err
	}
	return streak, points, nil
}

// BanUser банит пользователя от имени администратора.
func (s *Service) BanUser(ctx context.Context, userID, byUserID int64, reason string, durationDays int, banEmail, banIP bool, ip string) error {
	if reason == "" {
		return errors.New("ban reason is required")
	}
	return s.repo.BanUser(ctx, userID, byUserID, reason, durationDays, banEmail, banIP, ip)
}

// UnbanUser снимает бан с пользователя.
func (s *Service) UnbanUser(ctx context.Context, userID int64) error {
	return s.repo.UnbanUser(ctx, userID)
}

// StartBanSweep запускает фоновый процесс сброса истёкших банов.
func (s *Service) StartBanSweep(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.repo.SweepExpiredBans(ctx)
				if err != nil {
					s.logger.Error("ban sweep failed", zap.Error(err))
					continue
				}
				if n > 0 {
					s.logger.Info("expired bans lifted", zap.Int64("count", n))
				}
			}
		}
	}()
}

func toCents(v float64) int64 {
	return int64(math.Round(v * 100))
}
