package payroll_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/payroll"
	memstore "github.com/warp/payroll-engine/payroll/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func mexicoTermination(ttype payroll.TerminationType, hire, termination payroll.TimePoint) payroll.TerminationFacts {
	return payroll.TerminationFacts{
		EmployeeID:       "emp-1",
		Country:          "MX",
		HireDate:         hire,
		TerminationDate:  termination,
		Type:             ttype,
		LastSalary:       payroll.Money{Value: dec("15000"), Currency: payroll.CurrencyMXN},
		AccruedLeaveDays: dec("10"),
		Currency:         payroll.CurrencyMXN,
	}
}

func severanceLine(t *testing.T, res *payroll.SeveranceResult, c payroll.SeveranceComponent) payroll.SeveranceLine {
	t.Helper()
	for _, line := range res.Lines {
		if line.Component == c {
			return line
		}
	}
	t.Fatalf("component %s not itemized", c)
	return payroll.SeveranceLine{}
}

// =============================================================================
// SEVERANCE TESTS
// =============================================================================

func TestCalculateSeverance_InvoluntaryDismissal13Months(t *testing.T) {
	// GIVEN: Dismissal without cause after 13 months (1 completed year),
	//        15,000 MXN last salary (daily rate 500), 10 unused leave days
	// WHEN: Calculating against the shipped MX rules
	// THEN: Indemnity = (90 + 20x1) days, notice = 30 days, leave at 125%

	engine := newMexicoEngine(t)
	facts := mexicoTermination(
		payroll.TerminationInvoluntaryWithoutCause,
		payroll.NewDate(2024, time.March, 1),
		payroll.NewDate(2025, time.April, 1),
	)

	res, err := engine.CalculateSeverance(context.Background(), facts)
	require.NoError(t, err)

	assert.Equal(t, 13, res.TenureMonths)
	assert.True(t, res.DailyRate.Value.Equal(dec("500")), "daily rate %s", res.DailyRate.Value)

	indemnity := severanceLine(t, res, payroll.ComponentTenureIndemnity)
	assert.True(t, indemnity.Applied)
	assert.True(t, indemnity.Days.Equal(dec("110")), "indemnity days %s", indemnity.Days)
	assert.True(t, indemnity.Amount.Value.Equal(dec("55000")))

	notice := severanceLine(t, res, payroll.ComponentNoticeInLieu)
	assert.True(t, notice.Applied)
	assert.True(t, notice.Amount.Value.Equal(dec("15000")))

	leave := severanceLine(t, res, payroll.ComponentAccruedLeave)
	assert.True(t, leave.Applied)
	// 10 days x 1.25 premium x 500
	assert.True(t, leave.Amount.Value.Equal(dec("6250")), "leave %s", leave.Amount.Value)

	// 55000 + 15000 + 0 (seniority premium, dismissal) + 6250
	assert.True(t, res.Total.Value.Equal(dec("76250")), "total %s", res.Total.Value)
}

func TestCalculateSeverance_VoluntaryResignation_NoIndemnity(t *testing.T) {
	// GIVEN: A voluntary resignation after 13 months
	// THEN: Indemnity and notice are itemized at zero with the reason;
	//       only the accrued-leave payout applies

	engine := newMexicoEngine(t)
	facts := mexicoTermination(
		payroll.TerminationVoluntary,
		payroll.NewDate(2024, time.March, 1),
		payroll.NewDate(2025, time.April, 1),
	)

	res, err := engine.CalculateSeverance(context.Background(), facts)
	require.NoError(t, err)

	indemnity := severanceLine(t, res, payroll.ComponentTenureIndemnity)
	assert.False(t, indemnity.Applied)
	assert.True(t, indemnity.Amount.IsZero())
	assert.Contains(t, indemnity.Reason, "not owed")

	notice := severanceLine(t, res, payroll.ComponentNoticeInLieu)
	assert.False(t, notice.Applied)

	leave := severanceLine(t, res, payroll.ComponentAccruedLeave)
	assert.True(t, leave.Applied)
	assert.True(t, res.Total.Equal(leave.Amount), "total %s != leave %s", res.Total.Value, leave.Amount.Value)
}

func TestCalculateSeverance_AccruedLeaveIndependentOfTenure(t *testing.T) {
	// GIVEN: A resignation after only two weeks of service
	// THEN: The accrued-leave payout is still owed (no tenure threshold)

	engine := newMexicoEngine(t)
	facts := mexicoTermination(
		payroll.TerminationVoluntary,
		payroll.NewDate(2025, time.March, 1),
		payroll.NewDate(2025, time.March, 15),
	)
	facts.AccruedLeaveDays = dec("2")

	res, err := engine.CalculateSeverance(context.Background(), facts)
	require.NoError(t, err)

	leave := severanceLine(t, res, payroll.ComponentAccruedLeave)
	assert.True(t, leave.Applied)
	// 2 x 1.25 x 500 = 1250
	assert.True(t, leave.Amount.Value.Equal(dec("1250")), "leave %s", leave.Amount.Value)
}

func TestCalculateSeverance_SeniorityPremiumTenureThreshold(t *testing.T) {
	// GIVEN: MX seniority premium requires 180 months on resignation
	// WHEN: Resigning at 14 years vs 16 years
	// THEN: Below the threshold it is zero; above, 12 days/year apply

	engine := newMexicoEngine(t)

	below := mexicoTermination(
		payroll.TerminationVoluntary,
		payroll.NewDate(2011, time.June, 1),
		payroll.NewDate(2025, time.June, 1), // 168 months
	)
	res, err := engine.CalculateSeverance(context.Background(), below)
	require.NoError(t, err)
	premium := severanceLine(t, res, payroll.ComponentSeniorityPremium)
	assert.False(t, premium.Applied)
	assert.Equal(t, "below minimum tenure", premium.Reason)

	above := mexicoTermination(
		payroll.TerminationVoluntary,
		payroll.NewDate(2009, time.June, 1),
		payroll.NewDate(2025, time.June, 1), // 192 months = 16 years
	)
	res, err = engine.CalculateSeverance(context.Background(), above)
	require.NoError(t, err)
	premium = severanceLine(t, res, payroll.ComponentSeniorityPremium)
	assert.True(t, premium.Applied)
	// 12 days x 16 years x 500
	assert.True(t, premium.Amount.Value.Equal(dec("96000")), "premium %s", premium.Amount.Value)
}

func TestCalculateSeverance_TotalIsExactSumOfComponents(t *testing.T) {
	// GIVEN: Dismissal without cause at a 20,000 MXN last salary, where the
	//        daily rate (20000/30) does not terminate in decimal form
	// THEN: The payout total equals the exact sum of the itemized lines

	engine := newMexicoEngine(t)
	facts := mexicoTermination(
		payroll.TerminationInvoluntaryWithoutCause,
		payroll.NewDate(2024, time.March, 1),
		payroll.NewDate(2025, time.April, 1),
	)
	facts.LastSalary = payroll.Money{Value: dec("20000"), Currency: payroll.CurrencyMXN}

	res, err := engine.CalculateSeverance(context.Background(), facts)
	require.NoError(t, err)

	indemnity := severanceLine(t, res, payroll.ComponentTenureIndemnity)
	assert.True(t, indemnity.Applied)
	assert.True(t, indemnity.Amount.Value.IsPositive())

	notice := severanceLine(t, res, payroll.ComponentNoticeInLieu)
	assert.True(t, notice.Applied)
	assert.True(t, notice.Amount.Value.IsPositive())

	sum := decimal.Zero
	for _, line := range res.Lines {
		sum = sum.Add(line.Amount.Value)
	}
	assert.True(t, res.Total.Value.Equal(sum), "total %s != line sum %s", res.Total.Value, sum)
}

func TestCalculateSeverance_NoSeveranceRulesYieldsEmptyPayout(t *testing.T) {
	// GIVEN: A committed RuleSet whose severance section is empty (a feed
	//        document may omit it entirely and still validate)
	// THEN: The payout is an empty itemization with a zero total, not an
	//       error and not a panic

	ctx := context.Background()
	st := memstore.NewMemory()

	rs := validRuleSet()
	rs.Severance = payroll.SeveranceRules{}
	rs.SourceChecksum = ""
	rs.Seal()
	require.NoError(t, rs.Validate())
	require.NoError(t, st.PutRuleSet(ctx, rs))

	engine := payroll.NewEngine(st, nil, zerolog.Nop())
	facts := mexicoTermination(
		payroll.TerminationVoluntary,
		payroll.NewDate(2024, time.March, 1),
		payroll.NewDate(2025, time.April, 1),
	)

	res, err := engine.CalculateSeverance(ctx, facts)
	require.NoError(t, err)
	assert.Empty(t, res.Lines)
	assert.True(t, res.Total.IsZero(), "total %s", res.Total.Value)
	assert.True(t, res.DailyRate.IsZero(), "daily rate %s", res.DailyRate.Value)
}

func TestCalculateSeverance_PersistedForAudit(t *testing.T) {
	engine := newMexicoEngine(t)
	facts := mexicoTermination(
		payroll.TerminationInvoluntaryWithoutCause,
		payroll.NewDate(2024, time.March, 1),
		payroll.NewDate(2025, time.April, 1),
	)

	res, err := engine.CalculateSeverance(context.Background(), facts)
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
	assert.NotZero(t, res.RuleSetVersion)
}

func TestCalculateSeverance_InvalidFacts(t *testing.T) {
	engine := newMexicoEngine(t)

	facts := mexicoTermination(
		payroll.TerminationVoluntary,
		payroll.NewDate(2025, time.June, 1),
		payroll.NewDate(2025, time.March, 1), // before hire
	)
	_, err := engine.CalculateSeverance(context.Background(), facts)
	require.Error(t, err)
	assert.ErrorIs(t, err, payroll.ErrInvalidTerminationFacts)

	facts = mexicoTermination("mutual_agreement",
		payroll.NewDate(2024, time.March, 1),
		payroll.NewDate(2025, time.April, 1),
	)
	_, err = engine.CalculateSeverance(context.Background(), facts)
	require.Error(t, err)
	assert.ErrorIs(t, err, payroll.ErrInvalidTerminationFacts)
}

// =============================================================================
// TENURE ARITHMETIC TESTS
// =============================================================================

func TestCompletedMonths_PartialMonthsDoNotCount(t *testing.T) {
	hire := payroll.NewDate(2024, time.March, 15)

	assert.Equal(t, 0, payroll.CompletedMonths(hire, payroll.NewDate(2024, time.April, 14)))
	assert.Equal(t, 1, payroll.CompletedMonths(hire, payroll.NewDate(2024, time.April, 15)))
	assert.Equal(t, 12, payroll.CompletedMonths(hire, payroll.NewDate(2025, time.March, 15)))
	assert.Equal(t, 0, payroll.CompletedMonths(hire, payroll.NewDate(2024, time.March, 1)))
}
