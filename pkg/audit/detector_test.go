package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/accessguard/pkg/errors"
	"github.com/StricklySoft/accessguard/pkg/models"
)

func seedFailures(t *testing.T, s Store, n int, user, ip string) {
	t.Helper()
	for i := range n {
		status := models.AuditStatusBlocked
		if i%2 == 0 {
			status = models.AuditStatusError
		}
		seed(t, s, entry(user, "t1", ip, status, time.Duration(i+1)*time.Minute))
	}
}

func TestDetector_FlagsIPAtThreshold(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	seedFailures(t, store, 10, "mallory", "1.2.3.4")
	// Old failures and successes never count.
	seed(t, store,
		entry("mallory", "t1", "1.2.3.4", models.AuditStatusError, 25*time.Hour),
		entry("mallory", "t1", "1.2.3.4", models.AuditStatusSuccess, time.Minute),
	)

	findings, err := NewDetector(store, fixedNow).Detect(context.Background(), "t1", 10)
	require.NoError(t, err)

	var ips []Finding
	for _, f := range findings {
		if f.Type == FindingIP {
			ips = append(ips, f)
		}
	}
	require.Len(t, ips, 1)
	assert.Equal(t, Finding{Type: FindingIP, Value: "1.2.3.4", Count: 10, Threshold: 10}, ips[0])
	assert.Contains(t, findings, Finding{Type: FindingUser, Value: "mallory@example.com (mallory)", Count: 10, Threshold: 10})
}

func TestDetector_BelowThreshold(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	seedFailures(t, store, 9, "mallory", "1.2.3.4")

	findings, err := NewDetector(store, fixedNow).Detect(context.Background(), "t1", 10)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestDetector_GroupsIndependently(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	// One user spread over three addresses, and another tenant's noise.
	seedFailures(t, store, 2, "eve", "10.0.0.1")
	seedFailures(t, store, 2, "eve", "10.0.0.2")
	seedFailures(t, store, 2, "eve", "10.0.0.3")
	for range 5 {
		seed(t, store, entry("x", "t2", "10.0.0.1", models.AuditStatusError, time.Minute))
	}

	findings, err := NewDetector(store, fixedNow).Detect(context.Background(), "t1", 3)
	require.NoError(t, err)
	assert.Equal(t, []Finding{{Type: FindingUser, Value: "eve@example.com (eve)", Count: 6, Threshold: 3}}, findings)
}

func TestDetector_Threshold(t *testing.T) {
	t.Parallel()
	d := NewDetector(NewMemoryStore(), fixedNow)
	for _, bad := range []int{-1, 101} {
		_, err := d.Detect(context.Background(), "t1", bad)
		assert.True(t, sserr.HasCode(err, sserr.CodeValidationRange), "threshold %d", bad)
	}
	got, err := d.Detect(context.Background(), "t1", 0)
	require.NoError(t, err)
	assert.NotNil(t, got)
}
