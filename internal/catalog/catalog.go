package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Plan is an immutable catalog entry. Plans are defined at deploy time and
// never mutated at runtime; removing a plan is a catalog edit, not an API call.
type Plan struct {
	ID                  string           `yaml:"id" json:"id"`
	Name                string           `yaml:"name" json:"name"`
	BillingPeriodMonths int              `yaml:"billing_period_months" json:"billing_period_months"`
	TrialDays           int              `yaml:"trial_days" json:"trial_days"`
	PriceByCurrency     map[string]int64 `yaml:"prices" json:"prices"` // minor units
	Features            []string         `yaml:"features" json:"features,omitempty"`
}

// PlanNotFoundError signals an unknown plan id. Callers must propagate it
// rather than substituting a default plan or price.
type PlanNotFoundError struct {
	ID string
}

func (e *PlanNotFoundError) Error() string {
	return fmt.Sprintf("plan %q not found", e.ID)
}

// Catalog is the registry of purchasable plans.
type Catalog struct {
	plans map[string]Plan
	order []string
}

// New builds a catalog from a plan list, validating each entry.
func New(plans []Plan) (*Catalog, error) {
	c := &Catalog{plans: make(map[string]Plan, len(plans))}
	for _, p := range plans {
		if p.ID == "" {
			return nil, fmt.Errorf("catalog: plan with empty id")
		}
		if _, dup := c.plans[p.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate plan id %q", p.ID)
		}
		switch p.BillingPeriodMonths {
		case 1, 3, 6, 12:
		default:
			return nil, fmt.Errorf("catalog: plan %q has unsupported billing period %d months", p.ID, p.BillingPeriodMonths)
		}
		if len(p.PriceByCurrency) == 0 {
			return nil, fmt.Errorf("catalog: plan %q has no prices", p.ID)
		}
		for currency, amount := range p.PriceByCurrency {
			if amount < 0 {
				return nil, fmt.Errorf("catalog: plan %q has negative price for %s", p.ID, currency)
			}
		}
		c.plans[p.ID] = p
		c.order = append(c.order, p.ID)
	}
	return c, nil
}

type catalogFile struct {
	Version string `yaml:"version"`
	Plans   []Plan `yaml:"plans"`
}

// Load reads the plan catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to read %s: %w", path, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("catalog: failed to parse %s: %w", path, err)
	}

	return New(file.Plans)
}

// GetPlan looks up a plan by id. Pure lookup, no side effects.
func (c *Catalog) GetPlan(id string) (Plan, error) {
	p, ok := c.plans[id]
	if !ok {
		return Plan{}, &PlanNotFoundError{ID: id}
	}
	return p, nil
}

// Plans returns the plans in catalog order.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.plans[id])
	}
	return out
}

// Default plan ids.
const (
	PlanMensual    = "mensual"
	PlanTrimestral = "trimestral"
	PlanSemestral  = "semestral"
	PlanAnual      = "anual"
)

// Default returns the compiled-in catalog, used when no config file is present.
func Default() *Catalog {
	c, err := New([]Plan{
		{
			ID:                  PlanMensual,
			Name:                "Mensual",
			BillingPeriodMonths: 1,
			TrialDays:           7,
			PriceByCurrency:     map[string]int64{"USD": 400_00, "COP": 1_599_000_00},
			Features: []string{
				"Import/export records for 1 market",
				"Monthly trade trend reports",
				"Email support",
			},
		},
		{
			ID:                  PlanTrimestral,
			Name:                "Trimestral",
			BillingPeriodMonths: 3,
			TrialDays:           14,
			PriceByCurrency:     map[string]int64{"USD": 1100_00, "COP": 4_399_000_00},
			Features: []string{
				"Import/export records for 3 markets",
				"Weekly trade trend reports",
				"Competitor shipment alerts",
				"Email support",
			},
		},
		{
			ID:                  PlanSemestral,
			Name:                "Semestral",
			BillingPeriodMonths: 6,
			TrialDays:           14,
			PriceByCurrency:     map[string]int64{"USD": 1900_00, "COP": 7_599_000_00},
			Features: []string{
				"Import/export records for 10 markets",
				"Weekly trade trend reports",
				"Competitor shipment alerts",
				"Priority support",
			},
		},
		{
			ID:                  PlanAnual,
			Name:                "Anual",
			BillingPeriodMonths: 12,
			TrialDays:           14,
			PriceByCurrency:     map[string]int64{"USD": 2900_00, "COP": 11_599_000_00},
			Features: []string{
				"Unlimited markets",
				"Daily trade trend reports",
				"Competitor shipment alerts",
				"Custom research requests",
				"Dedicated account manager",
			},
		},
	})
	if err != nil {
		// The compiled-in catalog is validated by tests; this cannot fail at runtime.
		panic(err)
	}
	return c
}
