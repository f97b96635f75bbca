package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tknox12/alertbridge/internal/util"
)

const expiryLayout = "20060102"

// NearestExpiration returns the YYYYMMDD date of the nearest listed
// expiration for symbol. Index-class symbols short-circuit to today (0DTE);
// everything else probes the listing chain under the probe budget and falls
// back to the next standard Friday when nothing is discovered.
func (r *Resolver) NearestExpiration(ctx context.Context, symbol string) (string, error) {
	return r.nearestExpiration(ctx, symbol, newProbeBudget())
}

func (r *Resolver) nearestExpiration(ctx context.Context, symbol string, budget *probeBudget) (string, error) {
	r.mu.Lock()
	if cached, ok := r.expirations[symbol]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	today := r.now()

	// Cheap heuristic first: index-class products list daily expirations,
	// so the nearest one is always today.
	if util.IsIndexClass(symbol) {
		expiry := today.Format(expiryLayout)
		r.cacheExpiration(symbol, expiry)
		return expiry, nil
	}

	expiry, found := r.probeExpiration(ctx, symbol, budget)
	if !found {
		expiry = NextFriday(today).Format(expiryLayout)
		r.logger.Printf("No expiration discovered for %s, falling back to next Friday %s", symbol, expiry)
	}
	r.cacheExpiration(symbol, expiry)
	return expiry, nil
}

func (r *Resolver) cacheExpiration(symbol, expiry string) {
	r.mu.Lock()
	r.expirations[symbol] = expiry
	r.mu.Unlock()
}

// probeExpiration samples at most MaxProbesPerMonth strikes in the single
// target month and collects the maturities the gateway reports for them.
func (r *Resolver) probeExpiration(ctx context.Context, symbol string, budget *probeBudget) (string, bool) {
	underlying := r.resolveUnderlying(ctx, symbol, budget)
	if underlying == nil {
		return "", false
	}

	today := r.now()
	month := targetMonthToken(today)

	if !budget.spend() {
		return "", false
	}
	strikes, err := r.broker.GetStrikes(ctx, underlying.ConID, month)
	if err != nil || len(strikes) == 0 {
		if err != nil {
			r.logger.Printf("Strike listing failed for %s %s: %v", symbol, month, err)
		}
		return "", false
	}

	spot, _ := r.spotPrice(ctx, underlying.ConID, budget)
	probes := pickProbeStrikes(strikes, spot)

	var candidates []string
	for _, strike := range probes {
		if !budget.spend() {
			break
		}
		inst, err := r.broker.GetInstrumentDefinition(ctx, underlying.ConID, month, strike, "C")
		if err != nil {
			r.logger.Printf("Probe failed for %s %s %.2f: %v", symbol, month, strike, err)
			continue
		}
		if inst != nil && len(inst.Expiry) == len(expiryLayout) {
			candidates = append(candidates, inst.Expiry)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}

	return chooseExpiration(candidates, today), true
}

// chooseExpiration prefers the earliest maturity inside the lookahead window
// over the globally earliest one.
func chooseExpiration(candidates []string, today time.Time) string {
	sort.Strings(candidates)

	windowEnd := today.AddDate(0, 0, EarlyWindowDays).Format(expiryLayout)
	todayStr := today.Format(expiryLayout)
	for _, c := range candidates {
		if c >= todayStr && c <= windowEnd {
			return c
		}
	}
	for _, c := range candidates {
		if c >= todayStr {
			return c
		}
	}
	return candidates[len(candidates)-1]
}

// pickProbeStrikes selects the sampled strikes: closest to spot, lowest, and
// highest. With no usable spot the middle of the chain stands in for it.
func pickProbeStrikes(strikes []float64, spot float64) []float64 {
	if len(strikes) == 0 {
		return nil
	}
	sorted := make([]float64, len(strikes))
	copy(sorted, strikes)
	sort.Float64s(sorted)

	closest := sorted[len(sorted)/2]
	if spot > 0 {
		best := sorted[0]
		for _, s := range sorted {
			if abs(s-spot) < abs(best-spot) {
				best = s
			}
		}
		closest = best
	}

	picks := []float64{closest, sorted[0], sorted[len(sorted)-1]}
	seen := make(map[float64]bool, MaxProbesPerMonth)
	out := make([]float64, 0, MaxProbesPerMonth)
	for _, p := range picks {
		if len(out) == MaxProbesPerMonth {
			break
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// targetMonthToken returns the single month probed per attempt: the current
// month, or the next month only on the last calendar day of the current one.
func targetMonthToken(today time.Time) string {
	if isLastDayOfMonth(today) {
		return monthToken(today.AddDate(0, 1, 0))
	}
	return monthToken(today)
}

func isLastDayOfMonth(t time.Time) bool {
	return t.AddDate(0, 0, 1).Month() != t.Month()
}

// monthToken renders the gateway's MMMYY month format, e.g. SEP25.
func monthToken(t time.Time) string {
	return strings.ToUpper(t.Format("Jan06"))
}

// monthTokenForExpiry derives the month token from a YYYYMMDD expiry.
func monthTokenForExpiry(expiry string) (string, bool) {
	t, err := time.Parse(expiryLayout, expiry)
	if err != nil {
		return "", false
	}
	return monthToken(t), true
}

// NextFriday returns the next standard weekly expiration date on or after
// from. A Friday maps to itself.
func NextFriday(from time.Time) time.Time {
	days := (int(time.Friday) - int(from.Weekday()) + 7) % 7
	return from.AddDate(0, 0, days)
}

// FormatExpiry renders a YYYYMMDD date for display, e.g. "Sep 19 2025".
func FormatExpiry(expiry string) string {
	t, err := time.Parse(expiryLayout, expiry)
	if err != nil {
		return expiry
	}
	return fmt.Sprintf("%s %d %d", t.Month().String()[:3], t.Day(), t.Year())
}
