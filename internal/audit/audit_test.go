package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataValidate(t *testing.T) {
	tests := []struct {
		name    string
		md      Metadata
		wantErr bool
	}{
		{"nil", nil, false},
		{"known keys", Metadata{"gateway": "stripe", "amount": "145000"}, false},
		{"unknown key", Metadata{"favourite_color": "blue"}, true},
		{"empty value", Metadata{"gateway": ""}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.md.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewEntry(t *testing.T) {
	entry, err := NewEntry(EventSubscriptionTransition, Metadata{
		"status_from": "TRIAL",
		"status_to":   "ACTIVE",
		"event_type":  "payment_completed",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, EventSubscriptionTransition, entry.EventType)
	assert.False(t, entry.CreatedAt.IsZero())
}

func TestNewEntryRejectsBadInput(t *testing.T) {
	_, err := NewEntry("", nil)
	assert.Error(t, err)

	_, err = NewEntry(EventCheckoutStarted, Metadata{"not_a_key": "x"})
	assert.Error(t, err)
}
