package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mmeshcher/shopcore-system/internal/model"
)

const userColumns = `id, email, password_hash, referral_code, is_admin, status,
	banned_at, ban_expires_at, ban_reason, banned_by, created_at`

// CreateUser создаёт пользователя вместе с его счётом в леджере.
func (r *PostgresRepository) CreateUser(ctx context.Context, email string, passwordHash []byte, referralCode string) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO users (email, password_hash, referral_code) VALUES ($1, $2, $3) RETURNING id`,
		email, passwordHash, referralCode,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			if pgErr.ConstraintName == "users_referral_code_key" {
				return 0, ErrReferralCodeTaken
			}
			return 0, fmt.Errorf("%w: %s", ErrUserExists, email)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_accounts (user_id, raw_balance) VALUES ($1, 0)`,
		id,
	)
	if err != nil {
		return 0, fmt.Errorf("create ledger account: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return id, nil
}

// GetUserByEmail возвращает пользователя по email.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	)
	return scanUser(row)
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	)
	return scanUser(row)
}

// GetUserByReferralCode возвращает владельца активного реферального кода.
func (r *PostgresRepository) GetUserByReferralCode(ctx context.Context, code string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE referral_code = $1`,
		code,
	)
	u, err := scanUser(row)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidReferralCode
	}
	return u, err
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var status string
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.ReferralCode, &u.IsAdmin, &status,
		&u.BannedAt, &u.BanExpiresAt, &u.BanReason, &u.BannedBy, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Status = model.UserStatus(status)
	return &u, nil
}

// CreateReferralEdge создаёт связь "пригласивший — приглашённый".
// Повторный вызов для того же приглашённого не производит эффекта.
func (r *PostgresRepository) CreateReferralEdge(ctx context.Context, referrerID, referredID int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`INSERT INTO referral_edges (referrer_id, referred_id) VALUES ($1, $2)
		 ON CONFLICT (referred_id) DO NOTHING`,
		referrerID, referredID,
	)
	if err != nil {
		return fmt.Errorf("insert referral edge: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return ErrReferralAlreadyProcessed
	}

	return nil
}

// checkinDay приводит момент времени к календарному дню по UTC.
func checkinDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// CreateCheckin фиксирует ежедневную отметку и начисляет баллы в одной транзакции.
// Серия продолжается, только если отметка была и накануне.
func (r *PostgresRepository) CreateCheckin(ctx context.Context, userID int64, day time.Time, points int64) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Календарный день передаётся строкой YYYY-MM-DD, чтобы граница суток
	// не зависела от часового пояса сессии БД.
	today := checkinDay(day)
	yesterday := checkinDay(day.UTC().AddDate(0, 0, -1))

	var prevStreak int
	err = tx.QueryRow(ctx,
		`SELECT streak FROM checkins WHERE user_id = $1 AND day = $2::date`,
		userID, yesterday,
	).Scan(&prevStreak)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("select previous checkin: %w", err)
	}

	streak := prevStreak + 1

	cmdTag, err := tx.Exec(ctx,
		`INSERT INTO checkins (user_id, day, streak, points) VALUES ($1, $2::date, $3, $4)
		 ON CONFLICT (user_id, day) DO NOTHING`,
		userID, today, streak, points,
	)
	if err != nil {
		return 0, fmt.Errorf("insert checkin: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return 0, ErrAlreadyCheckedIn
	}

	_, err = tx.Exec(ctx,
		`UPDATE ledger_accounts SET raw_balance = raw_balance + $2, updated_at = NOW()
		 WHERE user_id = $1`,
		userID, points,
	)
	if err != nil {
		return 0, fmt.Errorf("credit checkin points: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return streak, nil
}
