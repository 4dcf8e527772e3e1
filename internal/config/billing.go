package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// BillingConfig holds the hot-reloadable billing knobs read from billing.yml.
type BillingConfig struct {
	FeeTiers           []FeeTier      `mapstructure:"feeTiers"`
	DefaultTier        string         `mapstructure:"defaultTier"`
	Checkout           CheckoutConfig `mapstructure:"checkout"`
	PaymentTermsDays   int            `mapstructure:"paymentTermsDays"`
	SequenceMaxRetries int            `mapstructure:"sequenceMaxRetries"`
}

// FeeTier is a platform fee rate keyed by subscription tier. Rate is a
// fraction ("0.015" is 1.5%).
type FeeTier struct {
	Tier string `mapstructure:"tier"`
	Rate string `mapstructure:"rate"`
}

type CheckoutConfig struct {
	SessionLifetime time.Duration `mapstructure:"sessionLifetime"`
	ReuseMargin     time.Duration `mapstructure:"reuseMargin"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		FeeTiers: []FeeTier{
			{Tier: "starter", Rate: "0.02"},
			{Tier: "pro", Rate: "0.015"},
			{Tier: "enterprise", Rate: "0.01"},
		},
		DefaultTier: "pro",
		Checkout: CheckoutConfig{
			SessionLifetime: 24 * time.Hour,
			ReuseMargin:     5 * time.Minute,
		},
		PaymentTermsDays:   30,
		SequenceMaxRetries: 5,
	}
}

// FeeRate returns the platform fee rate for tier, falling back to the
// default tier when tier is empty or unknown.
func (c BillingConfig) FeeRate(tier string) decimal.Decimal {
	tier = strings.ToLower(strings.TrimSpace(tier))
	if rate, ok := c.lookupRate(tier); ok {
		return rate
	}
	if rate, ok := c.lookupRate(strings.ToLower(c.DefaultTier)); ok {
		return rate
	}
	return decimal.Zero
}

func (c BillingConfig) lookupRate(tier string) (decimal.Decimal, bool) {
	if tier == "" {
		return decimal.Zero, false
	}
	for _, t := range c.FeeTiers {
		if strings.ToLower(strings.TrimSpace(t.Tier)) != tier {
			continue
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(t.Rate))
		if err != nil {
			return decimal.Zero, false
		}
		return rate, true
	}
	return decimal.Zero, false
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewStaticBillingConfigHolder wraps a fixed config, without file watching.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/reservebill")
	v.AddConfigPath(".")

	v.SetEnvPrefix("RESERVEBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.feeTiers", defaults.FeeTiers)
	v.SetDefault("billing.defaultTier", defaults.DefaultTier)
	v.SetDefault("billing.checkout.sessionLifetime", defaults.Checkout.SessionLifetime)
	v.SetDefault("billing.checkout.reuseMargin", defaults.Checkout.ReuseMargin)
	v.SetDefault("billing.paymentTermsDays", defaults.PaymentTermsDays)
	v.SetDefault("billing.sequenceMaxRetries", defaults.SequenceMaxRetries)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := ValidateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticBillingConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-config] reload failed: %v", err)
			return
		}
		if err := ValidateBillingConfig(updated); err != nil {
			log.Printf("[billing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	if h == nil {
		return DefaultBillingConfig()
	}
	cfg, ok := h.current.Load().(BillingConfig)
	if !ok {
		return DefaultBillingConfig()
	}
	return cfg
}

func ValidateBillingConfig(cfg BillingConfig) error {
	if len(cfg.FeeTiers) == 0 {
		return errors.New("billing.feeTiers cannot be empty")
	}
	seenDefault := false
	for _, tier := range cfg.FeeTiers {
		if strings.TrimSpace(tier.Tier) == "" {
			return errors.New("billing.feeTiers tier name cannot be empty")
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(tier.Rate))
		if err != nil {
			return fmt.Errorf("billing.feeTiers %s: invalid rate %q", tier.Tier, tier.Rate)
		}
		if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return fmt.Errorf("billing.feeTiers %s: rate must be in [0, 1)", tier.Tier)
		}
		if strings.EqualFold(tier.Tier, cfg.DefaultTier) {
			seenDefault = true
		}
	}
	if !seenDefault {
		return fmt.Errorf("billing.defaultTier %q is not a configured tier", cfg.DefaultTier)
	}
	if cfg.Checkout.SessionLifetime <= 0 {
		return errors.New("billing.checkout.sessionLifetime must be positive")
	}
	if cfg.Checkout.ReuseMargin < 0 || cfg.Checkout.ReuseMargin >= cfg.Checkout.SessionLifetime {
		return errors.New("billing.checkout.reuseMargin must be within the session lifetime")
	}
	if cfg.PaymentTermsDays < 0 {
		return errors.New("billing.paymentTermsDays cannot be negative")
	}
	return nil
}
