package service

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/shopcore-system/internal/contest"
	"github.com/mmeshcher/shopcore-system/internal/model"
)

// RunContest проводит розыгрыш за период, в который попадает момент now.
// Повторный запуск за уже проведённый период отклоняется, а не пересчитывается.
func (s *Service) RunContest(ctx context.Context, now time.Time) (string, []model.ContestWinner, error) {
	period := contest.Period(now)

	entrants, err := s.repo.ListContestEntrants(ctx)
	if err != nil {
		return "", nil, err
	}

	pool := make([]contest.Entrant, 0, len(entrants))
	for _, e := range entrants {
		pool = append(pool, contest.Entrant{UserID: e.UserID, Weight: e.Weight})
	}

	rng := rand.New(rand.NewSource(now.UnixNano()))
	picked := contest.PickWinners(rng, pool, s.cfg.ContestWinners)

	winnerIDs := make([]int64, 0, len(picked))
	for _, w := range picked {
		winnerIDs = append(winnerIDs, w.UserID)
	}

	if err := s.repo.RecordContestWinners(ctx, period, winnerIDs, s.cfg.ContestPrize); err != nil {
		return period, nil, err
	}

	s.logger.Info("contest completed",
		zap.String("period", period), zap.Int("winners", len(winnerIDs)))

	winners, err := s.repo.ListContestWinners(ctx, period)
	if err != nil {
		return period, nil, err
	}

	return period, winners, nil
}
