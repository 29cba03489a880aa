package repository

import (
	"context"
	"fmt"

	"github.com/mmeshcher/shopcore-system/internal/model"
)

// ContestEntrant описывает участника розыгрыша и его вес.
type ContestEntrant struct {
	UserID int64
	Weight int64
}

// ListContestEntrants возвращает пользователей, допущенных к розыгрышу:
// без действующего бана и с положительным балансом баллов.
func (r *PostgresRepository) ListContestEntrants(ctx context.Context) ([]ContestEntrant, error) {
	var res []ContestEntrant

	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT u.id, la.raw_balance
			 FROM users u
			 JOIN ledger_accounts la ON la.user_id = u.id
			 WHERE la.raw_balance > 0
			   AND (u.status <> $1 OR (u.ban_expires_at IS NOT NULL AND u.ban_expires_at <= NOW()))
			 ORDER BY u.id`,
			string(model.UserStatusBanned),
		)
		if err != nil {
			return fmt.Errorf("select entrants: %w", err)
		}
		defer rows.Close()

		res = res[:0]
		for rows.Next() {
			var e ContestEntrant
			if err := rows.Scan(&e.UserID, &e.Weight); err != nil {
				return fmt.Errorf("scan entrant: %w", err)
			}
			res = append(res, e)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// RecordContestWinners сохраняет победителей периода и начисляет призы.
// Запись о запуске периода служит идемпотентным замком: повторный запуск за тот
// же период отклоняется, незавершённый откатывается целиком вместе с замком.
func (r *PostgresRepository) RecordContestWinners(ctx context.Context, period string, winnerIDs []int64, prizeCents int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cmdTag, err := tx.Exec(ctx,
		`INSERT INTO contest_runs (contest_period) VALUES ($1) ON CONFLICT DO NOTHING`,
		period,
	)
	if err != nil {
		return fmt.Errorf("insert contest run: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrPeriodAlreadyRun
	}

	for _, userID := range winnerIDs {
		_, err = tx.Exec(ctx,
			`INSERT INTO contest_winners (user_id, contest_period, prize) VALUES ($1, $2, $3)`,
			userID, period, prizeCents,
		)
		if err != nil {
			return fmt.Errorf("insert winner: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE ledger_accounts SET raw_balance = raw_balance + $2, updated_at = NOW()
			 WHERE user_id = $1`,
			userID, prizeCents,
		)
		if err != nil {
			return fmt.Errorf("credit prize: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// ListContestWinners возвращает победителей за указанный период.
func (r *PostgresRepository) ListContestWinners(ctx context.Context, period string) ([]model.ContestWinner, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, contest_period, prize, selected_at
		 FROM contest_winners
		 WHERE contest_period = $1
		 ORDER BY selected_at`,
		period,
	)
	if err != nil {
		return nil, fmt.Errorf("select winners: %w", err)
	}
	defer rows.Close()

	var res []model.ContestWinner
	for rows.Next() {
		var w model.ContestWinner
		if err := rows.Scan(&w.UserID, &w.ContestPeriod, &w.PrizeCents, &w.SelectedAt); err != nil {
			return nil, fmt.Errorf("scan winner: %w", err)
		}
		res = append(res, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
