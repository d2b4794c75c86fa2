package feed_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/feed"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// FIXTURES
// =============================================================================

// validRulesBody is a minimal but complete rules object: one progressive
// income tax, a flat capped health contribution, two overtime bands and
// two severance components.
const validRulesBody = `{
  "minimum_wage": "7468",
  "contributions": [
    {
      "type": "income_tax",
      "name": "ISR",
      "brackets": [
        {"lower": "0", "upper": "1000", "rate": "0.10"},
        {"lower": "1000", "rate": "0.20", "fixed": "100"}
      ]
    },
    {
      "type": "health",
      "name": "IMSS",
      "base_cap": "82532.85",
      "brackets": [{"lower": "0", "rate": "0.02775"}]
    }
  ],
  "overtime": {
    "standard_monthly_hours": "240",
    "bands": [
      {"up_to_hours": "9", "multiplier": "2"},
      {"multiplier": "3"}
    ]
  },
  "severance": {
    "daily_rate_divisor": "30",
    "components": [
      {
        "component": "tenure_indemnity",
        "applies_to": ["involuntary_without_cause"],
        "base_days": "90",
        "days_per_unit": "20",
        "tenure_unit": "years"
      },
      {
        "component": "accrued_leave",
        "applies_to": ["voluntary", "involuntary_with_cause", "involuntary_without_cause"],
        "premium_rate": "0.25"
      }
    ]
  }
}`

func document(t *testing.T, rules string) string {
	t.Helper()
	return fmt.Sprintf(`{
  "country": "MX",
  "currency": "MXN",
  "effective_from": "2025-01-01",
  "rounding": "half_even",
  "checksum": %q,
  "rules": %s
}`, feed.ChecksumBody(json.RawMessage(rules)), rules)
}

// =============================================================================
// PARSING
// =============================================================================

func TestParse_ValidDocument(t *testing.T) {
	// GIVEN a well-formed document with a matching checksum
	raw := document(t, validRulesBody)

	// WHEN parsed
	rs, err := feed.Parse([]byte(raw))

	// THEN it yields a complete rule set
	require.NoError(t, err)
	assert.Equal(t, payroll.CountryCode("MX"), rs.Country)
	assert.Equal(t, payroll.Currency("MXN"), rs.Currency)
	assert.Equal(t, "2025-01-01", rs.EffectiveFrom.Time.Format("2006-01-02"))
	assert.Nil(t, rs.EffectiveTo)
	assert.Equal(t, payroll.RoundHalfEven, rs.Rounding)

	isr := rs.Schedule(payroll.ContributionIncomeTax)
	require.NotNil(t, isr)
	require.Len(t, isr.Brackets, 2)
	assert.Nil(t, isr.Brackets[1].Upper, "last bracket is unbounded")

	imss := rs.Schedule(payroll.ContributionHealth)
	require.NotNil(t, imss)
	require.NotNil(t, imss.BaseCap)

	require.Len(t, rs.Overtime.Bands, 2)
	assert.Nil(t, rs.Overtime.Bands[1].UpToHours)

	require.Len(t, rs.Severance.Components, 2)
	assert.Equal(t, payroll.ComponentTenureIndemnity, rs.Severance.Components[0].Component)

	// AND survives structural validation unchanged
	require.NoError(t, rs.Validate())
}

func TestParse_EffectiveToBoundsTheInterval(t *testing.T) {
	raw := fmt.Sprintf(`{
  "country": "MX", "currency": "MXN",
  "effective_from": "2024-01-01", "effective_to": "2025-01-01",
  "rounding": "half_even", "checksum": %q, "rules": %s
}`, feed.ChecksumBody(json.RawMessage(validRulesBody)), validRulesBody)

	rs, err := feed.Parse([]byte(raw))
	require.NoError(t, err)
	require.NotNil(t, rs.EffectiveTo)
	assert.Equal(t, "2025-01-01", rs.EffectiveTo.Time.Format("2006-01-02"))
}

func TestParse_ChecksumMismatchRejectedBeforeContent(t *testing.T) {
	// GIVEN a document whose rules body alone is riddled with bad decimals
	// but whose checksum is also wrong
	bad := `{"minimum_wage": "not-a-number", "contributions": [], "overtime": {"standard_monthly_hours": "bogus", "bands": []}, "severance": {"daily_rate_divisor": "x", "components": []}}`
	raw := fmt.Sprintf(`{
  "country": "MX", "currency": "MXN", "effective_from": "2025-01-01",
  "rounding": "half_even", "checksum": "deadbeef", "rules": %s
}`, bad)

	// WHEN parsed
	_, err := feed.Parse([]byte(raw))

	// THEN only the checksum failure is reported; content is never examined
	require.Error(t, err)
	var verr *payroll.RuleValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Violations, 1)
	assert.Contains(t, verr.Violations[0], "checksum mismatch")
}

func TestParse_MissingChecksumRejected(t *testing.T) {
	raw := fmt.Sprintf(`{
  "country": "MX", "currency": "MXN", "effective_from": "2025-01-01",
  "rounding": "half_even", "rules": %s
}`, validRulesBody)

	_, err := feed.Parse([]byte(raw))

	var verr *payroll.RuleValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Violations[0], "checksum is missing")
	assert.True(t, errors.Is(err, payroll.ErrRuleValidation))
}

func TestParse_MalformedDecimalsAccumulate(t *testing.T) {
	// GIVEN a checksummed document carrying two unparseable figures
	rules := `{
  "minimum_wage": "oops",
  "contributions": [
    {"type": "income_tax", "name": "ISR", "brackets": [{"lower": "0", "rate": "ten percent"}]}
  ],
  "overtime": {"standard_monthly_hours": "240", "bands": [{"multiplier": "2"}]},
  "severance": {"daily_rate_divisor": "30", "components": []}
}`
	raw := document(t, rules)

	// WHEN parsed
	_, err := feed.Parse([]byte(raw))

	// THEN both violations come back in one pass
	var verr *payroll.RuleValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Violations, 2)
	assert.Contains(t, verr.Violations[0], `minimum_wage: not a decimal: "oops"`)
	assert.Contains(t, verr.Violations[1], "income_tax.rate")
}

func TestParse_BadEffectiveDateRejected(t *testing.T) {
	raw := fmt.Sprintf(`{
  "country": "MX", "currency": "MXN", "effective_from": "January 1st",
  "rounding": "half_even", "checksum": %q, "rules": %s
}`, feed.ChecksumBody(json.RawMessage(validRulesBody)), validRulesBody)

	_, err := feed.Parse([]byte(raw))

	var verr *payroll.RuleValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Violations[0], "effective_from")
}

func TestParse_MalformedJSONRejected(t *testing.T) {
	_, err := feed.Parse([]byte(`{"country": "MX",`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed rule document")
}

// =============================================================================
// CHECKSUM CANONICALIZATION
// =============================================================================

func TestChecksumBody_IgnoresWhitespace(t *testing.T) {
	// GIVEN the same rules object published compact and pretty-printed
	compact := json.RawMessage(`{"minimum_wage":"7468","contributions":[]}`)
	pretty := json.RawMessage("{\n  \"minimum_wage\": \"7468\",\n  \"contributions\": []\n}")

	// THEN both fingerprints agree
	assert.Equal(t, feed.ChecksumBody(compact), feed.ChecksumBody(pretty))
}

func TestChecksumBody_ContentSensitive(t *testing.T) {
	a := json.RawMessage(`{"minimum_wage":"7468"}`)
	b := json.RawMessage(`{"minimum_wage":"7469"}`)
	assert.NotEqual(t, feed.ChecksumBody(a), feed.ChecksumBody(b))
}
