package billing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"
)

// DefaultSignatureTolerance is the maximum age of a signed webhook timestamp.
const DefaultSignatureTolerance = 5 * time.Minute

var ErrInvalidSignature = errors.New("invalid webhook signature")

// VerifyStripeWebhookSignature checks a Stripe-Signature header against the
// raw payload with the SDK's verifier. The timestamp must be within
// tolerance of now in either direction.
func VerifyStripeWebhookSignature(payload []byte, signatureHeader, webhookSecret string, now time.Time, tolerance time.Duration) error {
	secret := strings.TrimSpace(webhookSecret)
	if secret == "" {
		return fmt.Errorf("%w: webhook secret is not configured", ErrInvalidSignature)
	}
	header := strings.TrimSpace(signatureHeader)
	if err := webhook.ValidatePayloadIgnoringTolerance(payload, header, secret); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	signedAt, err := signatureTimestamp(header)
	if err != nil {
		return err
	}
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}
	age := now.Sub(signedAt)
	if age > tolerance || age < -tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance (%s)", ErrInvalidSignature, age.Round(time.Second))
	}
	return nil
}

func signatureTimestamp(header string) (time.Time, error) {
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || key != "t" {
			continue
		}
		unix, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrInvalidSignature, value)
		}
		return time.Unix(unix, 0), nil
	}
	return time.Time{}, fmt.Errorf("%w: missing timestamp", ErrInvalidSignature)
}

// SignStripePayload builds a Stripe-Signature header for payload the way
// Stripe does. Used to replay captured events against a local server.
func SignStripePayload(payload []byte, webhookSecret string, at time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    webhookSecret,
		Timestamp: at,
	}).Header
}
