// Package catalog enumerates the billable actions the metering gateway
// accepts. The catalog is closed: unknown kinds are rejected before any
// provider call happens.
package catalog

import (
	"strings"

	"github.com/lunahealth/lumen/internal/config"
)

type ActionKind string

const (
	ActionChat                  ActionKind = "chat"
	ActionExpertChat            ActionKind = "expert_chat"
	ActionDailyAnalysis         ActionKind = "daily_analysis"
	ActionWeeklyAnalysis        ActionKind = "weekly_analysis"
	ActionMonthlyAnalysis       ActionKind = "monthly_analysis"
	ActionComprehensiveAnalysis ActionKind = "comprehensive_analysis"
	ActionReportGeneration      ActionKind = "report_generation"
	ActionInsightGeneration     ActionKind = "insight_generation"
	ActionNewsletterGeneration  ActionKind = "newsletter_generation"
	ActionSmartNotification     ActionKind = "smart_notification"
)

var allKinds = map[ActionKind]struct{}{
	ActionChat:                  {},
	ActionExpertChat:            {},
	ActionDailyAnalysis:         {},
	ActionWeeklyAnalysis:        {},
	ActionMonthlyAnalysis:       {},
	ActionComprehensiveAnalysis: {},
	ActionReportGeneration:      {},
	ActionInsightGeneration:     {},
	ActionNewsletterGeneration:  {},
	ActionSmartNotification:     {},
}

// Parse normalizes and validates a raw action kind.
func Parse(raw string) (ActionKind, bool) {
	kind := ActionKind(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := allKinds[kind]
	return kind, ok
}

func Valid(kind ActionKind) bool {
	_, ok := allKinds[kind]
	return ok
}

// EstimatedCost returns the advisory token estimate for an action. It is
// used only for the pre-flight check and never for the actual debit.
func EstimatedCost(policy config.PolicyConfig, kind ActionKind) int64 {
	if cost, ok := policy.EstimatedCosts[string(kind)]; ok && cost > 0 {
		return cost
	}
	return policy.DefaultEstimatedCost
}
