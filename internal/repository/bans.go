package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mmeshcher/shopcore-system/internal/model"
)

// BanUser выставляет бан пользователю и по запросу блокирует его email и IP
// в денормализованных списках, чтобы новые регистрации отклонялись заранее.
func (r *PostgresRepository) BanUser(ctx context.Context, userID, byUserID int64, reason string, durationDays int, banEmail, banIP bool, ip string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		email     string
		status    string
		expiresAt *time.Time
	)
	err = tx.QueryRow(ctx,
		`SELECT email, status, ban_expires_at FROM users WHERE id = $1 FOR UPDATE`,
		userID,
	).Scan(&email, &status, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("select user: %w", err)
	}

	// Истёкший бан можно перезаписать, действующий — нет.
	if status == string(model.UserStatusBanned) && (expiresAt == nil || expiresAt.After(time.Now())) {
		return ErrAlreadyBanned
	}

	var newExpires *time.Time
	if durationDays > 0 {
		t := time.Now().AddDate(0, 0, durationDays)
		newExpires = &t
	}

	_, err = tx.Exec(ctx,
		`UPDATE users
		 SET status = $2, banned_at = NOW(), ban_expires_at = $3, ban_reason = $4, banned_by = $5
		 WHERE id = $1`,
		userID, string(model.UserStatusBanned), newExpires, reason, byUserID,
	)
	if err != nil {
		return fmt.Errorf("ban user: %w", err)
	}

	if banEmail {
		_, err = tx.Exec(ctx,
			`INSERT INTO banned_emails (email, source_user_id) VALUES ($1, $2)
			 ON CONFLICT (email) DO NOTHING`,
			email, userID,
		)
		if err != nil {
			return fmt.Errorf("ban email: %w", err)
		}
	}

	if banIP && ip != "" {
		_, err = tx.Exec(ctx,
			`INSERT INTO banned_ips (ip, source_user_id) VALUES ($1, $2)
			 ON CONFLICT (ip) DO NOTHING`,
			ip, userID,
		)
		if err != nil {
			return fmt.Errorf("ban ip: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// UnbanUser снимает бан и удаляет блокировки email/IP, созданные этим баном.
// Блокировки, созданные банами других пользователей с тем же email/IP, остаются.
func (r *PostgresRepository) UnbanUser(ctx context.Context, userID int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx,
		`SELECT status FROM users WHERE id = $1 FOR UPDATE`,
		userID,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("select user: %w", err)
	}

	if status != string(model.UserStatusBanned) {
		return ErrNotBanned
	}

	_, err = tx.Exec(ctx,
		`UPDATE users
		 SET status = $2, banned_at = NULL, ban_expires_at = NULL, ban_reason = '', banned_by = NULL
		 WHERE id = $1`,
		userID, string(model.UserStatusActive),
	)
	if err != nil {
		return fmt.Errorf("unban user: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM banned_emails WHERE source_user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete banned emails: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM banned_ips WHERE source_user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete banned ips: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// IsEmailBanned проверяет email по денормализованному списку блокировок.
func (r *PostgresRepository) IsEmailBanned(ctx context.Context, email string) (bool, error) {
	var banned bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM banned_emails WHERE email = $1)`,
		email,
	).Scan(&banned)
	if err != nil {
		return false, fmt.Errorf("check banned email: %w", err)
	}
	return banned, nil
}

// IsIPBanned проверяет IP по денормализованному списку блокировок.
func (r *PostgresRepository) IsIPBanned(ctx context.Context, ip string) (bool, error) {
	var banned bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM banned_ips WHERE ip = $1)`,
		ip,
	).Scan(&banned)
	if err != nil {
		return false, fmt.Errorf("check banned ip: %w", err)
	}
	return banned, nil
}

// SweepExpiredBans сбрасывает статус пользователей с истёкшим сроком бана.
// Операция косметическая: проверка бана и так учитывает срок истечения.
func (r *PostgresRepository) SweepExpiredBans(ctx context.Context) (int64, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE users
		 SET status = $1, banned_at = NULL, ban_expires_at = NULL, ban_reason = '', banned_by = NULL
		 WHERE status = $2 AND ban_expires_at IS NOT NULL AND ban_expires_at <= NOW()`,
		string(model.UserStatusActive), string(model.UserStatusBanned),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep expired bans: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}
