// Package contest реализует взвешенный выбор победителей розыгрыша.
package contest

import (
	"fmt"
	"math/rand"
	"time"
)

// Entrant описывает участника розыгрыша с весом выбора.
type Entrant struct {
	UserID int64
	Weight int64
}

// Period возвращает ключ двухнедельного периода розыгрыша для момента t,
// в формате YYYY-NN.
func Period(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-%02d", year, (week+1)/2)
}

// PickWinners выполняет взвешенную выборку без возвращения: каждый розыгрыш
// выбирает из оставшихся участников с вероятностью, пропорциональной весу,
// и исключает выбранного. Участники с нулевым весом не выбираются никогда.
// Возвращает не более n победителей.
func PickWinners(rng *rand.Rand, pool []Entrant, n int) []Entrant {
	remaining := make([]Entrant, 0, len(pool))
	var totalWeight int64
	for _, e := range pool {
		if e.Weight <= 0 {
			continue
		}
		remaining = append(remaining, e)
		totalWeight += e.Weight
	}

	if n > len(remaining) {
		n = len(remaining)
	}

	winners := make([]Entrant, 0, n)
	for len(winners) < n && totalWeight > 0 {
		target := rng.Int63n(totalWeight)

		var acc int64
		for i, e := range remaining {
			acc += e.Weight
			if target < acc {
				winners = append(winners, e)
				totalWeight -= e.Weight
				remaining[i] = remaining[len(remaining)-1]
				remaining = remaining[:len(remaining)-1]
				break
			}
		}
	}

	return winners
}
