package feed

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// AUTHORITY FEED CLIENT
// =============================================================================

// Client fetches rule documents from a per-country authority endpoint.
//
// The endpoint template contains a %s placeholder for the country code,
// e.g. "https://rules.example.com/v1/%s/current". Every call carries a
// hard timeout so a stalled authority can never wedge a refresh cycle.
type Client struct {
	http     *resty.Client
	endpoint string
}

// NewClient builds a feed client. timeout bounds the entire request
// including connect and body read.
func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		http: resty.New().
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		endpoint: endpoint,
	}
}

// Fetch retrieves and parses the current rule document for a country.
// Transport and HTTP-status failures come back as RuleFetchError;
// content failures (checksum, malformed fields) as RuleValidationError.
func (c *Client) Fetch(ctx context.Context, country payroll.CountryCode) (*payroll.RuleSet, error) {
	url := fmt.Sprintf(c.endpoint, country)

	resp, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, &payroll.RuleFetchError{Country: country, Source: url, Cause: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &payroll.RuleFetchError{
			Country: country,
			Source:  url,
			Cause:   fmt.Errorf("unexpected status %d", resp.StatusCode()),
		}
	}

	rs, err := Parse(resp.Body())
	if err != nil {
		return nil, err
	}
	if rs.Country != country {
		return nil, &payroll.RuleValidationError{
			Country:    country,
			Violations: []string{fmt.Sprintf("document is for country %q", rs.Country)},
		}
	}
	return rs, nil
}
