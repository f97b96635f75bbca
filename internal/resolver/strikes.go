package resolver

import (
	"context"
	"fmt"
	"sort"

	"github.com/tknox12/alertbridge/internal/models"
)

// ClosestITMStrike returns the default strike used when an alert omits one:
// the closest in-the-money strike for the given right. For calls that is the
// highest strike strictly below spot, for puts the lowest strike strictly
// above spot; with no such strike the nearest boundary strike is used.
func (r *Resolver) ClosestITMStrike(ctx context.Context, underlyingConID int64,
	right models.OptionRight, month string) (float64, error) {
	return r.closestITMStrike(ctx, underlyingConID, right, month, newProbeBudget())
}

func (r *Resolver) closestITMStrike(ctx context.Context, underlyingConID int64,
	right models.OptionRight, month string, budget *probeBudget) (float64, error) {
	if !budget.spend() {
		return 0, fmt.Errorf("probe budget exhausted")
	}
	strikes, err := r.broker.GetStrikes(ctx, underlyingConID, month)
	if err != nil {
		return 0, fmt.Errorf("fetching strikes: %w", err)
	}
	if len(strikes) == 0 {
		return 0, fmt.Errorf("no strikes listed for conid %d month %s", underlyingConID, month)
	}

	spot, ok := r.spotPrice(ctx, underlyingConID, budget)
	if !ok {
		return 0, fmt.Errorf("no usable spot price for conid %d", underlyingConID)
	}

	return selectITMStrike(strikes, spot, right), nil
}

func selectITMStrike(strikes []float64, spot float64, right models.OptionRight) float64 {
	sorted := make([]float64, len(strikes))
	copy(sorted, strikes)
	sort.Float64s(sorted)

	switch right {
	case models.RightCall:
		// Highest strike strictly below spot; boundary fallback is the
		// lowest listed strike.
		for i := len(sorted) - 1; i >= 0; i-- {
			if sorted[i] < spot {
				return sorted[i]
			}
		}
		return sorted[0]
	case models.RightPut:
		// Lowest strike strictly above spot; boundary fallback is the
		// highest listed strike.
		for _, s := range sorted {
			if s > spot {
				return s
			}
		}
		return sorted[len(sorted)-1]
	default:
		nearest := sorted[0]
		for _, s := range sorted {
			if abs(s-spot) < abs(nearest-spot) {
				nearest = s
			}
		}
		return nearest
	}
}
