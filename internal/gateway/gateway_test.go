package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGateway struct {
	name string
}

func (g *stubGateway) Name() string { return g.name }
func (g *stubGateway) CreateCheckoutSession(ctx context.Context, amount int64, currency string, metadata map[string]string) (*Session, error) {
	return &Session{Gateway: g.name}, nil
}
func (g *stubGateway) VerifyWebhookSignature(payload []byte, signature string) bool { return true }
func (g *stubGateway) SignatureHeader() string                                      { return "X-Test" }
func (g *stubGateway) ParseWebhookEvent(payload []byte) (*WebhookEvent, error)      { return nil, ErrUnknownEvent }

func newTestSelector() *Selector {
	s := NewSelector("stripe", map[string]string{"COP": "wompi"})
	s.Register(&stubGateway{name: "stripe"})
	s.Register(&stubGateway{name: "wompi"})
	return s
}

func TestSelectorHintWins(t *testing.T) {
	s := newTestSelector()

	// An explicit hint overrides currency routing.
	g, err := s.ForCheckout("stripe", "COP")
	require.NoError(t, err)
	assert.Equal(t, "stripe", g.Name())
}

func TestSelectorRoutesByCurrency(t *testing.T) {
	s := newTestSelector()

	g, err := s.ForCheckout("", "COP")
	require.NoError(t, err)
	assert.Equal(t, "wompi", g.Name())
}

func TestSelectorDefaultsForOtherCurrencies(t *testing.T) {
	s := newTestSelector()

	for _, currency := range []string{"USD", "EUR", "MXN"} {
		g, err := s.ForCheckout("", currency)
		require.NoError(t, err)
		assert.Equal(t, "stripe", g.Name(), currency)
	}
}

func TestSelectorUnknownHint(t *testing.T) {
	s := newTestSelector()

	_, err := s.ForCheckout("paypal", "USD")
	assert.Error(t, err)
}

func TestByNameUnknownGateway(t *testing.T) {
	s := NewSelector("stripe", nil)

	_, err := s.ByName("stripe")
	assert.Error(t, err)
}
