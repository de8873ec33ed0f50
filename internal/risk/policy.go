package risk

import (
	"fmt"
	"strings"

	"tradedesk/internal/domain"
)

// warnFraction is the share of a cap at which a near-threshold warning fires.
const warnFraction = 0.8

// Evaluator applies the desk's baseline limits to proposed trades.
// It holds no mutable state and performs no I/O: the same inputs always
// produce the same verdict, so every rejection is reproducible after the fact.
type Evaluator struct {
	limits domain.RiskLimits
}

func NewEvaluator(limits domain.RiskLimits) *Evaluator {
	return &Evaluator{limits: limits}
}

// Evaluate runs every rule in order and collects all violations. A later rule
// is checked even when an earlier one already failed, so the verdict lists
// everything wrong with the plan at once.
func (e *Evaluator) Evaluate(acct domain.AccountState, counters domain.RuntimeCounters, plan domain.TradePlan, policy *domain.DeskPolicy) domain.RiskVerdict {
	var reasons []string
	var warnings []string

	// Rule 1: the inputs have to make sense at all
	if plan.RiskPercent <= 0 {
		reasons = append(reasons, fmt.Sprintf("risk percent must be positive, got %.2f", plan.RiskPercent))
	}
	if acct.Equity <= 0 {
		reasons = append(reasons, fmt.Sprintf("account equity must be positive, got %.2f", acct.Equity))
	}

	// Rule 2: per-trade risk ceiling
	if e.limits.MaxRiskPerTrade > 0 && plan.RiskPercent > e.limits.MaxRiskPerTrade {
		reasons = append(reasons, fmt.Sprintf("risk %.2f%% exceeds the per-trade ceiling of %.2f%%", plan.RiskPercent, e.limits.MaxRiskPerTrade))
	}

	// Rule 3: desk-policy override ceiling, only when stricter than baseline
	if policy != nil && policy.MaxRiskPerTrade > 0 && policy.MaxRiskPerTrade < e.limits.MaxRiskPerTrade {
		if plan.RiskPercent > policy.MaxRiskPerTrade {
			reasons = append(reasons, fmt.Sprintf("risk %.2f%% exceeds the desk policy ceiling of %.2f%%", plan.RiskPercent, policy.MaxRiskPerTrade))
		}
	}
	if ceiling := e.effectiveCeiling(policy); ceiling > 0 && plan.RiskPercent > warnFraction*ceiling && plan.RiskPercent <= ceiling {
		warnings = append(warnings, fmt.Sprintf("risk %.2f%% is within 20%% of the %.2f%% ceiling", plan.RiskPercent, ceiling))
	}

	// Rule 4: playbook allow-list membership
	if policy != nil && len(policy.AllowedPlaybooks) > 0 && !playbookAllowed(plan.Playbook, policy.AllowedPlaybooks) {
		msg := fmt.Sprintf("playbook %q is not on the approved list", plan.Playbook)
		if plan.Playbook == "" {
			msg = "trade plan does not name an approved playbook"
		}
		if policy.Mode == "enforced" {
			reasons = append(reasons, msg)
		} else {
			warnings = append(warnings, msg)
		}
	}

	// Rule 5: projected daily loss. Worst case assumes this trade also loses,
	// so the projection is realized loss so far plus the full proposed risk.
	projectedDay := realizedLossPercent(acct.RealizedPnLToday, acct.Equity) + plan.RiskPercent
	if e.limits.DailyLossCap > 0 {
		if projectedDay > e.limits.DailyLossCap {
			reasons = append(reasons, fmt.Sprintf("projected daily loss %.2f%% exceeds the daily cap of %.2f%%", projectedDay, e.limits.DailyLossCap))
		} else if projectedDay > warnFraction*e.limits.DailyLossCap {
			warnings = append(warnings, fmt.Sprintf("projected daily loss %.2f%% is within 20%% of the %.2f%% cap", projectedDay, e.limits.DailyLossCap))
		}
	}

	// Rule 6: projected weekly loss
	projectedWeek := realizedLossPercent(acct.RealizedPnLWeek, acct.Equity) + plan.RiskPercent
	if e.limits.WeeklyLossCap > 0 {
		if projectedWeek > e.limits.WeeklyLossCap {
			reasons = append(reasons, fmt.Sprintf("projected weekly loss %.2f%% exceeds the weekly cap of %.2f%%", projectedWeek, e.limits.WeeklyLossCap))
		} else if projectedWeek > warnFraction*e.limits.WeeklyLossCap {
			warnings = append(warnings, fmt.Sprintf("projected weekly loss %.2f%% is within 20%% of the %.2f%% cap", projectedWeek, e.limits.WeeklyLossCap))
		}
	}

	// Rule 7: trade-count-per-day ceiling
	if e.limits.MaxTradesPerDay > 0 && counters.TradesToday >= e.limits.MaxTradesPerDay {
		reasons = append(reasons, fmt.Sprintf("daily trade count limit reached (%d of %d)", counters.TradesToday, e.limits.MaxTradesPerDay))
	}

	// Rule 8: full autopilot is never allowed on a live account
	if plan.Autopilot && acct.Environment == "live" {
		reasons = append(reasons, "full autopilot is not permitted on a live account")
	}

	return domain.RiskVerdict{
		Allowed:  len(reasons) == 0,
		Reasons:  reasons,
		Warnings: warnings,
	}
}

// Limits returns the baseline ceilings the evaluator was built with.
func (e *Evaluator) Limits() domain.RiskLimits {
	return e.limits
}

// effectiveCeiling is the binding per-trade ceiling after any stricter desk
// policy override.
func (e *Evaluator) effectiveCeiling(policy *domain.DeskPolicy) float64 {
	ceiling := e.limits.MaxRiskPerTrade
	if policy != nil && policy.MaxRiskPerTrade > 0 && (ceiling <= 0 || policy.MaxRiskPerTrade < ceiling) {
		ceiling = policy.MaxRiskPerTrade
	}
	return ceiling
}

// realizedLossPercent converts a realized PnL figure in account currency into
// a loss expressed as percent of equity. Profit counts as zero loss.
func realizedLossPercent(realizedPnL, equity float64) float64 {
	if equity <= 0 || realizedPnL >= 0 {
		return 0
	}
	return -realizedPnL * 100 / equity
}

func playbookAllowed(name string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}
