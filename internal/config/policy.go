package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PolicyConfig carries the tunable product constants: how provider usage is
// converted into a debit, when balance warnings fire, how cycle trends are
// classified, and how often insight notifications may go out. Every value has
// a default so the service is usable without a config file.
type PolicyConfig struct {
	TokenMultiplier float64 `mapstructure:"tokenMultiplier"`

	// EstimatedCosts feeds the advisory pre-flight check only; the real
	// debit always comes from reported provider usage.
	EstimatedCosts       map[string]int64 `mapstructure:"estimatedCosts"`
	DefaultEstimatedCost int64            `mapstructure:"defaultEstimatedCost"`

	SeedBalance int64 `mapstructure:"seedBalance"`

	Warnings WarningThresholds `mapstructure:"warnings"`
	Trend    TrendPolicy       `mapstructure:"trend"`
	Insights InsightPolicy     `mapstructure:"insights"`
}

type WarningThresholds struct {
	Critical int64 `mapstructure:"critical"`
	Low      int64 `mapstructure:"low"`
	Reminder int64 `mapstructure:"reminder"`
}

type TrendPolicy struct {
	// ShiftThresholdDays is the per-interval delta (in days) that counts as
	// a consistent shortening or lengthening step.
	ShiftThresholdDays float64 `mapstructure:"shiftThresholdDays"`
	// IrregularThresholdDays marks a single swing large enough to classify
	// the cycle as irregular.
	IrregularThresholdDays float64 `mapstructure:"irregularThresholdDays"`
	// StabilityWindow is how many trailing intervals feed the stddev score.
	StabilityWindow int `mapstructure:"stabilityWindow"`
}

type InsightPolicy struct {
	// MinGap is the hard floor between two notifications to the same user,
	// whatever their cadence says.
	MinGap time.Duration `mapstructure:"minGap"`
	// PreferredWindow is how long after the user's preferred time a
	// scheduled notification may still be sent.
	PreferredWindow time.Duration `mapstructure:"preferredWindow"`
	DefaultWeekday  int           `mapstructure:"defaultWeekday"`
	DefaultMonthDay int           `mapstructure:"defaultMonthDay"`
}

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		TokenMultiplier: 2.0,
		EstimatedCosts: map[string]int64{
			"chat":                   500,
			"expert_chat":            1000,
			"daily_analysis":         2000,
			"weekly_analysis":        2000,
			"monthly_analysis":       2000,
			"comprehensive_analysis": 5000,
			"report_generation":      3000,
			"insight_generation":     1000,
			"newsletter_generation":  2500,
			"smart_notification":     1000,
		},
		DefaultEstimatedCost: 1000,
		SeedBalance:          50_000,
		Warnings: WarningThresholds{
			Critical: 100,
			Low:      1000,
			Reminder: 5000,
		},
		Trend: TrendPolicy{
			ShiftThresholdDays:     3,
			IrregularThresholdDays: 7,
			StabilityWindow:        6,
		},
		Insights: InsightPolicy{
			MinGap:          23 * time.Hour,
			PreferredWindow: 4 * time.Hour,
			DefaultWeekday:  int(time.Monday),
			DefaultMonthDay: 1,
		},
	}
}

type PolicyConfigHolder struct {
	current atomic.Value // holds PolicyConfig
}

func NewPolicyConfigHolder() (*PolicyConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("policy")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/lumen/config") // Volume-mounted config
	v.AddConfigPath("/etc/lumen")            // System config
	v.AddConfigPath(".")                     // Current directory (dev mode)

	v.SetEnvPrefix("LUMEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPolicyConfig()
	v.SetDefault("policy", defaults)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg, err := unmarshalPolicy(v, defaults)
	if err != nil {
		return nil, err
	}

	holder := &PolicyConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := unmarshalPolicy(v, defaults)
		if err != nil {
			log.Printf("[policy-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[policy-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticPolicyHolder returns a holder pinned to the given config. Used by
// tests and anywhere hot reload is not wanted.
func NewStaticPolicyHolder(cfg PolicyConfig) *PolicyConfigHolder {
	holder := &PolicyConfigHolder{}
	holder.current.Store(cfg.withDefaults())
	return holder
}

func (h *PolicyConfigHolder) Get() PolicyConfig {
	return h.current.Load().(PolicyConfig)
}

func unmarshalPolicy(v *viper.Viper, defaults PolicyConfig) (PolicyConfig, error) {
	cfg := defaults
	if err := v.UnmarshalKey("policy", &cfg); err != nil {
		return cfg, err
	}
	cfg = cfg.withDefaults()
	if err := validatePolicyConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c PolicyConfig) withDefaults() PolicyConfig {
	defaults := DefaultPolicyConfig()
	if c.TokenMultiplier <= 0 {
		c.TokenMultiplier = defaults.TokenMultiplier
	}
	if len(c.EstimatedCosts) == 0 {
		c.EstimatedCosts = defaults.EstimatedCosts
	}
	if c.DefaultEstimatedCost <= 0 {
		c.DefaultEstimatedCost = defaults.DefaultEstimatedCost
	}
	if c.SeedBalance <= 0 {
		c.SeedBalance = defaults.SeedBalance
	}
	if c.Warnings.Critical <= 0 {
		c.Warnings.Critical = defaults.Warnings.Critical
	}
	if c.Warnings.Low <= 0 {
		c.Warnings.Low = defaults.Warnings.Low
	}
	if c.Warnings.Reminder <= 0 {
		c.Warnings.Reminder = defaults.Warnings.Reminder
	}
	if c.Trend.ShiftThresholdDays <= 0 {
		c.Trend.ShiftThresholdDays = defaults.Trend.ShiftThresholdDays
	}
	if c.Trend.IrregularThresholdDays <= 0 {
		c.Trend.IrregularThresholdDays = defaults.Trend.IrregularThresholdDays
	}
	if c.Trend.StabilityWindow <= 0 {
		c.Trend.StabilityWindow = defaults.Trend.StabilityWindow
	}
	if c.Insights.MinGap <= 0 {
		c.Insights.MinGap = defaults.Insights.MinGap
	}
	if c.Insights.PreferredWindow <= 0 {
		c.Insights.PreferredWindow = defaults.Insights.PreferredWindow
	}
	if c.Insights.DefaultWeekday < 0 || c.Insights.DefaultWeekday > 6 {
		c.Insights.DefaultWeekday = defaults.Insights.DefaultWeekday
	}
	if c.Insights.DefaultMonthDay < 1 || c.Insights.DefaultMonthDay > 28 {
		c.Insights.DefaultMonthDay = defaults.Insights.DefaultMonthDay
	}
	return c
}

func validatePolicyConfig(cfg PolicyConfig) error {
	if cfg.TokenMultiplier <= 0 {
		return errors.New("policy.tokenMultiplier must be positive")
	}
	if cfg.Warnings.Critical >= cfg.Warnings.Low || cfg.Warnings.Low >= cfg.Warnings.Reminder {
		return errors.New("policy.warnings must be ordered critical < low < reminder")
	}
	if cfg.Trend.ShiftThresholdDays >= cfg.Trend.IrregularThresholdDays {
		return errors.New("policy.trend.shiftThresholdDays must be below irregularThresholdDays")
	}
	return nil
}
