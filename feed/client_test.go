package feed_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/feed"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// FEED CLIENT
// =============================================================================

func TestClient_FetchCurrentDocument(t *testing.T) {
	// GIVEN an authority serving a valid document per country
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/MX/current", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(document(t, validRulesBody)))
	}))
	defer srv.Close()

	client := feed.NewClient(srv.URL+"/v1/%s/current", 5*time.Second)

	// WHEN fetching Mexico's current rules
	rs, err := client.Fetch(context.Background(), "MX")

	// THEN the parsed rule set comes back intact
	require.NoError(t, err)
	assert.Equal(t, payroll.CountryCode("MX"), rs.Country)
	require.NoError(t, rs.Validate())
}

func TestClient_ServerErrorIsRetryable(t *testing.T) {
	// GIVEN an authority that is falling over
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := feed.NewClient(srv.URL+"/v1/%s/current", 5*time.Second)

	// WHEN fetching
	_, err := client.Fetch(context.Background(), "MX")

	// THEN the failure is a fetch error, eligible for backoff retry
	var ferr *payroll.RuleFetchError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, payroll.CountryCode("MX"), ferr.Country)
	assert.True(t, payroll.IsRetryable(err))
}

func TestClient_UnreachableAuthorityIsRetryable(t *testing.T) {
	// GIVEN an endpoint nothing listens on
	client := feed.NewClient("http://127.0.0.1:1/v1/%s/current", 500*time.Millisecond)

	_, err := client.Fetch(context.Background(), "MX")

	require.Error(t, err)
	assert.True(t, payroll.IsRetryable(err))
}

func TestClient_CountryMismatchRejected(t *testing.T) {
	// GIVEN an authority that answers every path with Mexico's document
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(document(t, validRulesBody)))
	}))
	defer srv.Close()

	client := feed.NewClient(srv.URL+"/v1/%s/current", 5*time.Second)

	// WHEN fetching Brazil
	_, err := client.Fetch(context.Background(), "BR")

	// THEN the wrong-country document is a validation failure, not retryable
	var verr *payroll.RuleValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Violations[0], `document is for country "MX"`)
	assert.False(t, payroll.IsRetryable(err))
}

func TestClient_ChecksumFailureNotRetryable(t *testing.T) {
	// GIVEN an authority serving a corrupted document
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
  "country": "MX", "currency": "MXN", "effective_from": "2025-01-01",
  "rounding": "half_even", "checksum": "deadbeef",
  "rules": {"minimum_wage": "1"}
}`))
	}))
	defer srv.Close()

	client := feed.NewClient(srv.URL+"/v1/%s/current", 5*time.Second)

	_, err := client.Fetch(context.Background(), "MX")

	require.ErrorIs(t, err, payroll.ErrRuleValidation)
	assert.False(t, payroll.IsRetryable(err))
}
