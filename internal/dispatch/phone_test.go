package dispatch

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoverly/dunning-engine/internal/model"
)

func TestNormalizePhoneNumber(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"5551234567", "+15551234567"},
		{"15551234567", "+15551234567"},
		{"+15551234567", "+15551234567"},
		{"(555) 123-4567", "+15551234567"},
		{"555.123.4567", "+15551234567"},
		{"555-123-4567 x89", "+15551234567"},
		{"555-123-4567 ext. 12", "+15551234567"},
		{"+44 20 7946 0958", "+442079460958"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizePhoneNumber(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizePhoneNumberRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "abc-defg", "12345", "++--", "5551234"} {
		t.Run(in, func(t *testing.T) {
			_, err := NormalizePhoneNumber(in)
			assert.Error(t, err)
		})
	}
}

func TestResolvePhoneNumberPrecedence(t *testing.T) {
	profile := "+15550001111"

	// Metadata override wins over the profile field.
	customer := &model.Customer{
		ID:          uuid.New(),
		PhoneNumber: &profile,
		Metadata:    map[string]string{"phone_number": "+15552223333"},
	}
	got, ok := ResolvePhoneNumber(customer)
	require.True(t, ok)
	assert.Equal(t, "+15552223333", got)

	// Fall back to the profile field.
	customer.Metadata = nil
	got, ok = ResolvePhoneNumber(customer)
	require.True(t, ok)
	assert.Equal(t, profile, got)

	// No number anywhere.
	customer.PhoneNumber = nil
	_, ok = ResolvePhoneNumber(customer)
	assert.False(t, ok)

	// Blank values do not count as present.
	blank := "   "
	customer.PhoneNumber = &blank
	customer.Metadata = map[string]string{"phone_number": ""}
	_, ok = ResolvePhoneNumber(customer)
	assert.False(t, ok)
}
