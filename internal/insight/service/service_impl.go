package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lunahealth/lumen/internal/config"
	insightdomain "github.com/lunahealth/lumen/internal/insight/domain"
	journaldomain "github.com/lunahealth/lumen/internal/journal/domain"
	notificationdomain "github.com/lunahealth/lumen/internal/notification/domain"
	"github.com/lunahealth/lumen/internal/trend"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	cycleHistoryDepth = 12
	dailyHistoryDepth = 14
)

type ServiceParam struct {
	fx.In

	Log           *zap.Logger
	Policy        *config.PolicyConfigHolder
	Journal       journaldomain.Service
	Notifications notificationdomain.Service
	Dispatcher    insightdomain.Dispatcher
}

type Service struct {
	log           *zap.Logger
	policy        *config.PolicyConfigHolder
	journal       journaldomain.Service
	notifications notificationdomain.Service
	dispatcher    insightdomain.Dispatcher
}

func NewService(p ServiceParam) insightdomain.Service {
	return &Service{
		log:           p.Log.Named("insight.service"),
		policy:        p.Policy,
		journal:       p.Journal,
		notifications: p.Notifications,
		dispatcher:    p.Dispatcher,
	}
}

// Decide walks the gates in order: preference, send-gap floor, cadence,
// preferred window. Only when all of them pass does it look at the journal
// and pick an insight. The gates come first so the cadence stays
// predictable no matter what the journal contains.
func (s *Service) Decide(ctx context.Context, userID string, now time.Time) (*insightdomain.Decision, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, notificationdomain.ErrInvalidUser
	}
	now = now.UTC()
	policy := s.policy.Get()

	pref, err := s.notifications.GetPreference(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !pref.ChannelEnabled {
		return &insightdomain.Decision{Reason: insightdomain.ReasonDisabled}, nil
	}

	latest, err := s.notifications.LatestHistory(ctx, userID)
	if err != nil {
		return nil, err
	}
	if latest != nil && now.Sub(latest.SentAt) < policy.Insights.MinGap {
		return &insightdomain.Decision{Reason: insightdomain.ReasonTooSoon}, nil
	}

	if !cadenceDue(pref, policy, now) {
		return &insightdomain.Decision{Reason: insightdomain.ReasonOffCadence}, nil
	}
	if !withinPreferredWindow(pref, policy, now) {
		return &insightdomain.Decision{Reason: insightdomain.ReasonOutsideWindow}, nil
	}

	cycles, err := s.journal.ListRecentCycles(ctx, userID, cycleHistoryDepth)
	if err != nil {
		return nil, err
	}
	dailies, err := s.journal.ListRecentDaily(ctx, userID, dailyHistoryDepth)
	if err != nil {
		return nil, err
	}

	return &insightdomain.Decision{
		ShouldNotify: true,
		Insight:      pickInsight(policy, cycles, dailies, now),
	}, nil
}

func (s *Service) Run(ctx context.Context, userID string, now time.Time) (*insightdomain.Decision, error) {
	decision, err := s.Decide(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if !decision.ShouldNotify {
		return decision, nil
	}

	if err := s.dispatcher.Dispatch(ctx, userID, decision.Insight); err != nil {
		return nil, err
	}
	return decision, nil
}

func cadenceDue(pref *notificationdomain.Preference, policy config.PolicyConfig, now time.Time) bool {
	switch pref.Cadence {
	case notificationdomain.CadenceWeekly:
		weekday := pref.Weekday
		if weekday < 0 || weekday > 6 {
			weekday = policy.Insights.DefaultWeekday
		}
		return int(now.Weekday()) == weekday
	case notificationdomain.CadenceMonthly:
		day := pref.MonthDay
		if day < 1 || day > 28 {
			day = policy.Insights.DefaultMonthDay
		}
		return now.Day() == day
	default:
		return true
	}
}

func withinPreferredWindow(pref *notificationdomain.Preference, policy config.PolicyConfig, now time.Time) bool {
	preferred, err := time.Parse("15:04", pref.PreferredTime)
	if err != nil {
		preferred = time.Date(0, 1, 1, 9, 0, 0, 0, time.UTC)
	}
	start := time.Date(now.Year(), now.Month(), now.Day(), preferred.Hour(), preferred.Minute(), 0, 0, time.UTC)
	return !now.Before(start) && now.Sub(start) <= policy.Insights.PreferredWindow
}

// pickInsight chooses the highest-priority finding: cycle shifts first,
// then symptom patterns, then positive reinforcement, then continuity.
// A user with almost no data gets the generic starter insight so the
// first scheduled notification still goes out.
func pickInsight(policy config.PolicyConfig, cycles []journaldomain.CycleEntry, dailies []journaldomain.DailyEntry, now time.Time) *insightdomain.Insight {
	if len(cycles)+len(dailies) < 3 {
		return &insightdomain.Insight{
			Kind:    "getting_started",
			Title:   "Let's get started",
			Message: "Log your cycle days and daily check-ins for a week and your insights will get a lot more personal.",
		}
	}

	if insight := cycleTrendInsight(policy, cycles); insight != nil {
		return insight
	}

	recent := lastN(dailies, 7)
	if insight := symptomPatternInsight(recent); insight != nil {
		return insight
	}
	if insight := improvementInsight(dailies); insight != nil {
		return insight
	}
	if insight := positivePatternInsight(recent); insight != nil {
		return insight
	}
	if insight := continuityInsight(dailies, now); insight != nil {
		return insight
	}

	return &insightdomain.Insight{
		Kind:    "wellness_tip",
		Title:   "Keeping steady",
		Message: "Nothing unusual in your recent entries. Regular sleep and movement are still the best levers during this phase.",
	}
}

func cycleTrendInsight(policy config.PolicyConfig, cycles []journaldomain.CycleEntry) *insightdomain.Insight {
	dates := make([]time.Time, 0, len(cycles))
	for _, c := range cycles {
		dates = append(dates, c.EntryDate)
	}
	snapshot, ok := trend.Analyze(dates, trend.Thresholds{
		ShiftDays:       policy.Trend.ShiftThresholdDays,
		IrregularDays:   policy.Trend.IrregularThresholdDays,
		StabilityWindow: policy.Trend.StabilityWindow,
	})
	if !ok || snapshot.Classification == trend.Stable {
		return nil
	}

	switch snapshot.Classification {
	case trend.Shortening:
		return &insightdomain.Insight{
			Kind:    "cycle_trend",
			Title:   "Your cycles are getting shorter",
			Message: fmt.Sprintf("Your last cycles averaged %.0f days and the gap keeps shrinking. Shortening cycles are common in perimenopause.", snapshot.AverageInterval),
		}
	case trend.Lengthening:
		return &insightdomain.Insight{
			Kind:    "cycle_trend",
			Title:   "Your cycles are stretching out",
			Message: fmt.Sprintf("Your last cycles averaged %.0f days and the gap keeps growing. Lengthening cycles often mark a new phase.", snapshot.AverageInterval),
		}
	default:
		return &insightdomain.Insight{
			Kind:    "cycle_trend",
			Title:   "Your cycles look irregular lately",
			Message: "Your recent cycle lengths swing quite a bit. That is normal in this transition, but worth tracking closely.",
		}
	}
}

func symptomPatternInsight(recent []journaldomain.DailyEntry) *insightdomain.Insight {
	hotFlashDays := 0
	poorSleepDays := 0
	lowMoodDays := 0
	for _, d := range recent {
		if d.HotFlashes >= 3 {
			hotFlashDays++
		}
		if d.SleepQuality >= 1 && d.SleepQuality <= 2 {
			poorSleepDays++
		}
		if d.Mood >= 1 && d.Mood <= 2 {
			lowMoodDays++
		}
	}

	switch {
	case hotFlashDays >= 4:
		return &insightdomain.Insight{
			Kind:    "symptom_pattern",
			Title:   "Hot flashes most of this week",
			Message: fmt.Sprintf("You logged frequent hot flashes on %d of the last %d days. Cooler evenings and layered clothing can take the edge off.", hotFlashDays, len(recent)),
		}
	case poorSleepDays >= 4:
		return &insightdomain.Insight{
			Kind:    "symptom_pattern",
			Title:   "Rough sleep this week",
			Message: fmt.Sprintf("Sleep was poor on %d of the last %d days. A consistent wind-down hour tends to help more than extra time in bed.", poorSleepDays, len(recent)),
		}
	case lowMoodDays >= 4:
		return &insightdomain.Insight{
			Kind:    "symptom_pattern",
			Title:   "Mood has been heavy",
			Message: fmt.Sprintf("Low mood showed up on %d of the last %d days. Be gentle with yourself, and consider talking it through with someone you trust.", lowMoodDays, len(recent)),
		}
	}
	return nil
}

func improvementInsight(dailies []journaldomain.DailyEntry) *insightdomain.Insight {
	if len(dailies) < 14 {
		return nil
	}
	previous := averageMood(dailies[len(dailies)-14 : len(dailies)-7])
	current := averageMood(dailies[len(dailies)-7:])
	if previous <= 0 || current <= 0 {
		return nil
	}
	if current-previous < 0.75 {
		return nil
	}
	return &insightdomain.Insight{
		Kind:    "improvement",
		Title:   "Your mood is trending up",
		Message: "This week's mood scores are clearly better than last week's. Whatever you changed, it seems to be working.",
	}
}

func positivePatternInsight(recent []journaldomain.DailyEntry) *insightdomain.Insight {
	goodSleepDays := 0
	for _, d := range recent {
		if d.SleepQuality >= 4 {
			goodSleepDays++
		}
	}
	if goodSleepDays < 5 {
		return nil
	}
	return &insightdomain.Insight{
		Kind:    "positive_pattern",
		Title:   "A solid week of sleep",
		Message: fmt.Sprintf("You slept well on %d of the last %d days. Good sleep is one of the strongest buffers against other symptoms.", goodSleepDays, len(recent)),
	}
}

func continuityInsight(dailies []journaldomain.DailyEntry, now time.Time) *insightdomain.Insight {
	if len(dailies) == 0 {
		return nil
	}
	last := dailies[len(dailies)-1].EntryDate
	if now.Sub(last) <= 3*24*time.Hour {
		return nil
	}
	return &insightdomain.Insight{
		Kind:    "continuity",
		Title:   "We missed your check-ins",
		Message: "It has been a few days since your last entry. Even a 30-second check-in keeps your trends accurate.",
	}
}

func averageMood(entries []journaldomain.DailyEntry) float64 {
	sum := 0
	count := 0
	for _, e := range entries {
		if e.Mood > 0 {
			sum += e.Mood
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return float64(sum) / float64(count)
}

func lastN(entries []journaldomain.DailyEntry, n int) []journaldomain.DailyEntry {
	if len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}
