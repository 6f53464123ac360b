// Package payhere implements the gateway-side contracts: the keyed md5
// signature scheme that authenticates server-to-server notifications, and
// the outbound subscription-manager API used to retire recurring tokens.
package payhere

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// FormatAmount renders an amount held in cents with exactly two decimal
// places. The gateway hashes the textual amount, so formatting must be
// fixed-point; float rounding here would silently break verification.
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// ParseAmount converts a gateway decimal string ("1250.00") into cents.
func ParseAmount(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("empty amount")
	}

	negative := false
	if strings.HasPrefix(raw, "-") {
		negative = true
		raw = raw[1:]
	}

	whole, frac, _ := strings.Cut(raw, ".")
	if whole == "" {
		whole = "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", raw, err)
	}

	var centsPart int64
	switch len(frac) {
	case 0:
	case 1:
		centsPart, err = strconv.ParseInt(frac, 10, 64)
		centsPart *= 10
	case 2:
		centsPart, err = strconv.ParseInt(frac, 10, 64)
	default:
		// Gateways send at most two decimals; anything longer is malformed.
		return 0, fmt.Errorf("invalid amount %q: too many decimal places", raw)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", raw, err)
	}

	cents := units*100 + centsPart
	if negative {
		cents = -cents
	}
	return cents, nil
}

// Sign computes the checkout signature handed to the payment page:
//
//	MD5( MD5(secret) || merchantID || orderID || amount || currency )
//
// with both digests uppercased hex.
func Sign(merchantID, orderID string, amountCents int64, currency, secret string) string {
	return digest(hashSecret(secret) + merchantID + orderID + FormatAmount(amountCents) + currency)
}

// SignNotification computes the notification signature, which additionally
// covers the status code:
//
//	MD5( MD5(secret) || merchantID || orderID || amount || currency || statusCode )
//
// This is a distinct construction from Sign; the gateway rejects callbacks
// verified against the wrong one.
func SignNotification(merchantID, orderID string, amountCents int64, currency, statusCode, secret string) string {
	return digest(hashSecret(secret) + merchantID + orderID + FormatAmount(amountCents) + currency + statusCode)
}

// VerifySignature recomputes the notification signature and compares it
// case-insensitively against the supplied value. Any mismatch fails closed.
func VerifySignature(merchantID, orderID string, amountCents int64, currency, statusCode, signature, secret string) bool {
	signature = strings.ToUpper(strings.TrimSpace(signature))
	if signature == "" {
		return false
	}
	expected := SignNotification(merchantID, orderID, amountCents, currency, statusCode, secret)
	return hmac.Equal([]byte(signature), []byte(expected))
}

func hashSecret(secret string) string {
	return digest(secret)
}

func digest(s string) string {
	sum := md5.Sum([]byte(s))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
