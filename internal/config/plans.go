package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Plan describes a subscription plan offered at checkout. Amounts are in
// cents of the plan currency.
type Plan struct {
	ID           string `mapstructure:"id"`
	Name         string `mapstructure:"name"`
	Amount       int64  `mapstructure:"amount"`
	Currency     string `mapstructure:"currency"`
	BillingCycle string `mapstructure:"billingCycle"`
}

type PlanCatalog struct {
	Plans []Plan `mapstructure:"plans"`
}

func DefaultPlanCatalog() PlanCatalog {
	return PlanCatalog{
		Plans: []Plan{
			{ID: "weekly-box", Name: "Weekly Meal Box", Amount: 450000, Currency: "LKR", BillingCycle: "monthly"},
			{ID: "family-box", Name: "Family Meal Box", Amount: 780000, Currency: "LKR", BillingCycle: "monthly"},
		},
	}
}

// PlanCatalogHolder serves the current plan catalog and hot-reloads it when
// the backing plans.yml changes.
type PlanCatalogHolder struct {
	current atomic.Value // holds PlanCatalog
}

func NewPlanCatalogHolder() (*PlanCatalogHolder, error) {
	v := viper.New()

	v.SetConfigName("plans")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/checkout")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CHECKOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultPlanCatalog()
		v.SetDefault("catalog.plans", defaults.Plans)
	}

	var catalog PlanCatalog
	if err := v.UnmarshalKey("catalog", &catalog); err != nil {
		return nil, err
	}
	if err := validatePlanCatalog(catalog); err != nil {
		return nil, err
	}

	holder := &PlanCatalogHolder{}
	holder.current.Store(catalog)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PlanCatalog
		if err := v.UnmarshalKey("catalog", &updated); err != nil {
			log.Printf("[plan-catalog] reload failed: %v", err)
			return
		}
		if err := validatePlanCatalog(updated); err != nil {
			log.Printf("[plan-catalog] invalid catalog ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[plan-catalog] reloaded %d plans from %s", len(updated.Plans), e.Name)
	})

	return holder, nil
}

// NewStaticPlanCatalogHolder returns a holder pinned to the given catalog.
// Used by tests and by callers that do not want file watching.
func NewStaticPlanCatalogHolder(catalog PlanCatalog) *PlanCatalogHolder {
	holder := &PlanCatalogHolder{}
	holder.current.Store(catalog)
	return holder
}

func (h *PlanCatalogHolder) Current() PlanCatalog {
	if h == nil {
		return PlanCatalog{}
	}
	if catalog, ok := h.current.Load().(PlanCatalog); ok {
		return catalog
	}
	return PlanCatalog{}
}

// Lookup returns the plan with the given id, if present.
func (h *PlanCatalogHolder) Lookup(planID string) (Plan, bool) {
	planID = strings.TrimSpace(planID)
	for _, plan := range h.Current().Plans {
		if plan.ID == planID {
			return plan, true
		}
	}
	return Plan{}, false
}

func validatePlanCatalog(catalog PlanCatalog) error {
	if len(catalog.Plans) == 0 {
		return errors.New("plan catalog is empty")
	}
	seen := map[string]bool{}
	for _, plan := range catalog.Plans {
		id := strings.TrimSpace(plan.ID)
		if id == "" {
			return errors.New("plan id is required")
		}
		if seen[id] {
			return errors.New("duplicate plan id: " + id)
		}
		seen[id] = true
		if plan.Amount <= 0 {
			return errors.New("plan amount must be positive: " + id)
		}
		if strings.TrimSpace(plan.Currency) == "" {
			return errors.New("plan currency is required: " + id)
		}
		if plan.BillingCycle != "monthly" {
			return errors.New("unsupported billing cycle for plan " + id)
		}
	}
	return nil
}
