package payhere

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignNotificationRoundTrip(t *testing.T) {
	secret := "merchant_secret_123"

	sig := SignNotification("1211149", "CART_42", 125000, "LKR", "2", secret)
	assert.Equal(t, sig, strings.ToUpper(sig), "signature should be uppercase hex")
	assert.Len(t, sig, 32)

	assert.True(t, VerifySignature("1211149", "CART_42", 125000, "LKR", "2", sig, secret))
	// Case-insensitive comparison on the supplied side.
	assert.True(t, VerifySignature("1211149", "CART_42", 125000, "LKR", "2", strings.ToLower(sig), secret))
}

func TestVerifySignatureRejectsTampering(t *testing.T) {
	secret := "merchant_secret_123"
	sig := SignNotification("1211149", "CART_42", 125000, "LKR", "2", secret)

	assert.False(t, VerifySignature("1211149", "CART_42", 125001, "LKR", "2", sig, secret), "amount tampered")
	assert.False(t, VerifySignature("1211149", "CART_43", 125000, "LKR", "2", sig, secret), "order id tampered")
	assert.False(t, VerifySignature("1211149", "CART_42", 125000, "LKR", "0", sig, secret), "status code tampered")
	assert.False(t, VerifySignature("1211150", "CART_42", 125000, "LKR", "2", sig, secret), "merchant tampered")
	assert.False(t, VerifySignature("1211149", "CART_42", 125000, "USD", "2", sig, secret), "currency tampered")
	assert.False(t, VerifySignature("1211149", "CART_42", 125000, "LKR", "2", sig, "other_secret"), "wrong secret")
	assert.False(t, VerifySignature("1211149", "CART_42", 125000, "LKR", "2", "", secret), "empty signature")
}

func TestSignAndSignNotificationAreDistinct(t *testing.T) {
	secret := "merchant_secret_123"

	checkout := Sign("1211149", "FOOD_7", 450000, "LKR", secret)
	notify := SignNotification("1211149", "FOOD_7", 450000, "LKR", "2", secret)

	// The checkout signature omits the status code; conflating the two
	// constructions would silently reject legitimate callbacks.
	assert.NotEqual(t, checkout, notify)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "1250.00", FormatAmount(125000))
	assert.Equal(t, "0.05", FormatAmount(5))
	assert.Equal(t, "0.50", FormatAmount(50))
	assert.Equal(t, "-3.25", FormatAmount(-325))
	assert.Equal(t, "0.00", FormatAmount(0))
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		raw   string
		cents int64
	}{
		{"1250.00", 125000},
		{"1250", 125000},
		{"1250.5", 125050},
		{"0.05", 5},
		{" 99.99 ", 9999},
		{"-3.25", -325},
	}
	for _, tc := range cases {
		cents, err := ParseAmount(tc.raw)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.cents, cents, tc.raw)
	}

	for _, raw := range []string{"", "abc", "1.234", "12.x"} {
		_, err := ParseAmount(raw)
		assert.Error(t, err, raw)
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	for _, cents := range []int64{0, 1, 99, 100, 125000, 999999999} {
		parsed, err := ParseAmount(FormatAmount(cents))
		require.NoError(t, err)
		assert.Equal(t, cents, parsed)
	}
}
