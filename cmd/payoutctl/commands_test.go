package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/TipQueue/internal/pkg/billing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSignWebhook(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
	payload := []byte(`{"id":"evt_1","type":"charge.succeeded"}`)
	path := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(path, payload, 0o600))

	out, err := execute(t, "sign-webhook", path)
	require.NoError(t, err)

	header := strings.TrimSpace(out)
	assert.NoError(t, billing.VerifyStripeWebhookSignature(payload, header, "whsec_test", time.Now(), billing.DefaultSignatureTolerance))
}

func TestSignWebhook_RequiresSecret(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")
	_, err := execute(t, "sign-webhook", "missing.json")
	assert.Error(t, err)
}

func TestRun_EmptyDatabase(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "payoutctl.db"))

	out, err := execute(t, "run", "--year", "2025", "--month", "3")
	require.NoError(t, err)

	var res struct {
		Created   int    `json:"created"`
		Updated   int    `json:"updated"`
		FeePolicy string `json:"feePolicy"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Zero(t, res.Created)
	assert.Zero(t, res.Updated)
	assert.Equal(t, "block_flat", res.FeePolicy)
}

func TestRun_InvalidMonth(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "payoutctl.db"))

	_, err := execute(t, "run", "--year", "2025", "--month", "13")
	assert.Error(t, err)
}
