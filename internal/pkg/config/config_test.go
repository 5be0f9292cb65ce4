package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/TipQueue/internal/pkg/fees"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "localhost:4000", cfg.ListenAddr())
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 10*time.Second, cfg.OperationTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Stripe.SigTolerance)
	assert.False(t, cfg.Archive.Enabled)

	policy, err := cfg.FeePolicy()
	require.NoError(t, err)
	assert.Equal(t, fees.PolicyBlockFlat, policy.Name())
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse(map[string]string{
		"APP_ENV":           "dev",
		"DB_DRIVER":         "sqlite",
		"FEE_POLICY":        "bps_percentage",
		"FEE_RATE_BPS":      "250",
		"OPERATION_TIMEOUT": "3s",
		"S3_BUCKET_NAME":    "reports",
	})
	require.NoError(t, err)

	assert.True(t, cfg.IsDev())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 3*time.Second, cfg.OperationTimeout)
	assert.Equal(t, "reports", cfg.Archive.BucketName)

	policy, err := cfg.FeePolicy()
	require.NoError(t, err)
	res, err := policy.Compute(10000)
	require.NoError(t, err)
	assert.Equal(t, int64(250), res.PlatformFeeCents)
}

func TestParse_RejectsUnknownPolicy(t *testing.T) {
	_, err := Parse(map[string]string{"FEE_POLICY": "flat_percent"})
	assert.ErrorIs(t, err, fees.ErrUnknownPolicy)
}

func TestParse_RejectsBadDuration(t *testing.T) {
	_, err := Parse(map[string]string{"OPERATION_TIMEOUT": "soon"})
	assert.Error(t, err)
}
