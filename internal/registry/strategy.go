package registry

import (
	"fmt"
	"math/rand/v2"
	"sync/atomic"

	"github.com/shaiso/dagflow/internal/domain"
)

// Имена стратегий выбора.
const (
	StrategyRoundRobin        = "round_robin"
	StrategyRandom            = "random"
	StrategyLeastRecentlyUsed = "least_recently_used"
)

// Strategy выбирает исполнителя из непустого списка кандидатов.
// Кандидаты отсортированы по ID.
type Strategy interface {
	Name() string
	Select(candidates []domain.ExecutorInfo) domain.ExecutorInfo
}

// NewStrategy возвращает стратегию по имени. Пустое имя — round_robin.
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case "", StrategyRoundRobin:
		return &RoundRobinStrategy{}, nil
	case StrategyRandom:
		return RandomStrategy{}, nil
	case StrategyLeastRecentlyUsed:
		return LeastRecentlyUsedStrategy{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
}

// RoundRobinStrategy перебирает кандидатов по кругу.
type RoundRobinStrategy struct {
	counter atomic.Uint64
}

// Name — имя стратегии.
func (s *RoundRobinStrategy) Name() string { return StrategyRoundRobin }

// Select выбирает следующего кандидата.
func (s *RoundRobinStrategy) Select(candidates []domain.ExecutorInfo) domain.ExecutorInfo {
	n := s.counter.Add(1) - 1
	return candidates[n%uint64(len(candidates))]
}

// RandomStrategy выбирает случайного кандидата.
type RandomStrategy struct{}

// Name — имя стратегии.
func (RandomStrategy) Name() string { return StrategyRandom }

// Select выбирает кандидата.
func (RandomStrategy) Select(candidates []domain.ExecutorInfo) domain.ExecutorInfo {
	return candidates[rand.IntN(len(candidates))]
}

// LeastRecentlyUsedStrategy выбирает кандидата, которого дольше всех не выбирали.
// При равенстве побеждает меньший ID.
type LeastRecentlyUsedStrategy struct{}

// Name — имя стратегии.
func (LeastRecentlyUsedStrategy) Name() string { return StrategyLeastRecentlyUsed }

// Select выбирает кандидата.
func (LeastRecentlyUsedStrategy) Select(candidates []domain.ExecutorInfo) domain.ExecutorInfo {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.LastSelectedAt.Before(best.LastSelectedAt) {
			best = c
		}
	}
	return best
}
