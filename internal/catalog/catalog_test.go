package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		plans   []Plan
		wantErr string
	}{
		{
			name:    "empty id",
			plans:   []Plan{{BillingPeriodMonths: 1, PriceByCurrency: map[string]int64{"USD": 100}}},
			wantErr: "empty id",
		},
		{
			name: "duplicate id",
			plans: []Plan{
				{ID: "a", BillingPeriodMonths: 1, PriceByCurrency: map[string]int64{"USD": 100}},
				{ID: "a", BillingPeriodMonths: 3, PriceByCurrency: map[string]int64{"USD": 200}},
			},
			wantErr: "duplicate plan id",
		},
		{
			name:    "unsupported period",
			plans:   []Plan{{ID: "a", BillingPeriodMonths: 2, PriceByCurrency: map[string]int64{"USD": 100}}},
			wantErr: "unsupported billing period",
		},
		{
			name:    "no prices",
			plans:   []Plan{{ID: "a", BillingPeriodMonths: 1}},
			wantErr: "no prices",
		},
		{
			name:    "negative price",
			plans:   []Plan{{ID: "a", BillingPeriodMonths: 1, PriceByCurrency: map[string]int64{"USD": -1}}},
			wantErr: "negative price",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.plans)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetPlanFailsClosed(t *testing.T) {
	c := Default()

	_, err := c.GetPlan("platinum")
	require.Error(t, err)

	var notFound *PlanNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "platinum", notFound.ID)
}

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	plans := c.Plans()
	require.Len(t, plans, 4)

	// Catalog order is insertion order, shortest period first.
	assert.Equal(t, []string{PlanMensual, PlanTrimestral, PlanSemestral, PlanAnual},
		[]string{plans[0].ID, plans[1].ID, plans[2].ID, plans[3].ID})

	anual, err := c.GetPlan(PlanAnual)
	require.NoError(t, err)
	assert.Equal(t, 12, anual.BillingPeriodMonths)
	assert.Equal(t, int64(2900_00), anual.PriceByCurrency["USD"])
	assert.Equal(t, int64(11_599_000_00), anual.PriceByCurrency["COP"])
}

func TestLoadFromYAML(t *testing.T) {
	content := `
version: "1"
plans:
  - id: mensual
    name: Mensual
    billing_period_months: 1
    trial_days: 7
    prices:
      USD: 40000
  - id: anual
    name: Anual
    billing_period_months: 12
    trial_days: 14
    prices:
      USD: 290000
      COP: 1159900000
`
	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	c, err := Load(path)
	require.NoError(t, err)

	plan, err := c.GetPlan("anual")
	require.NoError(t, err)
	assert.Equal(t, "Anual", plan.Name)
	assert.Equal(t, int64(290000), plan.PriceByCurrency["USD"])
	assert.Equal(t, int64(1159900000), plan.PriceByCurrency["COP"])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
