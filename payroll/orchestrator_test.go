package payroll_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/countries"
	"github.com/warp/payroll-engine/payroll"
	memstore "github.com/warp/payroll-engine/payroll/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type runFixture struct {
	store    *memstore.Memory
	orch     *payroll.Orchestrator
	notifier *recordingNotifier
}

// recordingNotifier captures run-completion events for assertions.
type recordingNotifier struct {
	mu   sync.Mutex
	runs []payroll.PayrollRun
}

func (n *recordingNotifier) RunCompleted(_ context.Context, run payroll.PayrollRun) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runs = append(n.runs, run)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.runs)
}

func newRunFixture(t *testing.T, employees ...payroll.Employee) *runFixture {
	t.Helper()
	ctx := context.Background()
	st := memstore.NewMemory()

	require.NoError(t, st.PutProfile(ctx, countries.MexicoProfile()))
	require.NoError(t, st.PutRuleSet(ctx, countries.MexicoRuleSet()))
	for _, e := range employees {
		require.NoError(t, st.SaveEmployee(ctx, e))
	}

	engine := payroll.NewEngine(st, nil, zerolog.Nop())
	notifier := &recordingNotifier{}
	orch := payroll.NewOrchestrator(engine, &payroll.StoreFactsSource{Store: st}, notifier, nil, zerolog.Nop(), 4)
	return &runFixture{store: st, orch: orch, notifier: notifier}
}

func mxEmployee(id string, salary string) payroll.Employee {
	return payroll.Employee{
		ID:         payroll.EmployeeID(id),
		CompanyID:  "acme",
		Name:       "Employee " + id,
		Country:    "MX",
		Currency:   payroll.CurrencyMXN,
		BaseSalary: payroll.Money{Value: dec(salary), Currency: payroll.CurrencyMXN},
		HireDate:   payroll.NewDate(2023, 1, 1),
	}
}

func june2025() payroll.PayPeriod {
	return payroll.MonthPeriod(2025, time.June)
}

// =============================================================================
// BATCH RUN TESTS
// =============================================================================

func TestRun_AllEmployeesSucceed(t *testing.T) {
	f := newRunFixture(t,
		mxEmployee("e1", "15000"),
		mxEmployee("e2", "22000"),
		mxEmployee("e3", "9000"),
	)

	run, err := f.orch.Run(context.Background(), "acme", june2025(),
		[]payroll.EmployeeID{"e1", "e2", "e3"})
	require.NoError(t, err)

	assert.Equal(t, payroll.RunCompleted, run.Status)
	ok, failed, skipped := run.Counts()
	assert.Equal(t, 3, ok)
	assert.Zero(t, failed)
	assert.Zero(t, skipped)

	// Every succeeded line points at a persisted result.
	results, err := f.store.ListResultsByRun(context.Background(), run.Key)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	assert.Equal(t, 1, f.notifier.count())
}

func TestRun_PartialFailureIsolation(t *testing.T) {
	// GIVEN: Three employees, one of which has no master record or facts
	// WHEN: Running the batch
	// THEN: The bad employee's line fails with the reason; the others pay

	f := newRunFixture(t,
		mxEmployee("e1", "15000"),
		mxEmployee("e3", "18000"),
	)

	run, err := f.orch.Run(context.Background(), "acme", june2025(),
		[]payroll.EmployeeID{"e1", "e2-missing", "e3"})
	require.Error(t, err)
	assert.ErrorIs(t, err, payroll.ErrPartialRun)
	require.NotNil(t, run)

	assert.Equal(t, payroll.RunFailedPartial, run.Status)
	ok, failed, _ := run.Counts()
	assert.Equal(t, 2, ok)
	assert.Equal(t, 1, failed)

	for _, li := range run.LineItems {
		if li.EmployeeID == "e2-missing" {
			assert.Equal(t, payroll.LineFailed, li.Status)
			assert.NotEmpty(t, li.Error)
		} else {
			assert.Equal(t, payroll.LineSucceeded, li.Status)
			assert.NotNil(t, li.ResultID)
		}
	}
}

func TestRun_IdempotentResubmission(t *testing.T) {
	// GIVEN: A completed run
	// WHEN: Submitting the identical request again
	// THEN: The existing run comes back unchanged; no results are recomputed

	f := newRunFixture(t, mxEmployee("e1", "15000"), mxEmployee("e2", "22000"))
	employees := []payroll.EmployeeID{"e1", "e2"}

	first, err := f.orch.Run(context.Background(), "acme", june2025(), employees)
	require.NoError(t, err)

	second, err := f.orch.Run(context.Background(), "acme", june2025(), employees)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Key, second.Key)
	assert.Equal(t, payroll.RunCompleted, second.Status)

	results, err := f.store.ListResultsByRun(context.Background(), first.Key)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, 1, f.notifier.count(), "second submission must not re-execute")
}

func TestRun_KeyIgnoresEmployeeOrder(t *testing.T) {
	f := newRunFixture(t, mxEmployee("e1", "15000"), mxEmployee("e2", "22000"))

	first, err := f.orch.Run(context.Background(), "acme", june2025(),
		[]payroll.EmployeeID{"e1", "e2"})
	require.NoError(t, err)

	second, err := f.orch.Run(context.Background(), "acme", june2025(),
		[]payroll.EmployeeID{"e2", "e1"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
}

func TestRun_FailedSubsetRerun(t *testing.T) {
	// GIVEN: A partial run where one employee failed
	// WHEN: The data is fixed and only the failed subset is re-run
	// THEN: The retry completes and the first run's results are untouched

	f := newRunFixture(t, mxEmployee("e1", "15000"))

	run1, err := f.orch.Run(context.Background(), "acme", june2025(),
		[]payroll.EmployeeID{"e1", "e2"})
	require.Error(t, err)
	assert.Equal(t, payroll.RunFailedPartial, run1.Status)

	// Fix the missing employee, then run the failed subset only.
	require.NoError(t, f.store.SaveEmployee(context.Background(), mxEmployee("e2", "30000")))

	run2, err := f.orch.Run(context.Background(), "acme", june2025(),
		[]payroll.EmployeeID{"e2"})
	require.NoError(t, err)
	assert.Equal(t, payroll.RunCompleted, run2.Status)

	// e1 keeps exactly one result from the first run.
	results, err := f.store.ListResultsByRun(context.Background(), run1.Key)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestRun_CanceledBeforeProcessing_MarksSkipped(t *testing.T) {
	// GIVEN: A context canceled before execution starts
	// THEN: The run terminates as canceled with every line skipped,
	//       and the terminal state is still persisted

	f := newRunFixture(t, mxEmployee("e1", "15000"), mxEmployee("e2", "22000"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := f.orch.Run(ctx, "acme", june2025(), []payroll.EmployeeID{"e1", "e2"})
	require.NoError(t, err)

	assert.Equal(t, payroll.RunCanceled, run.Status)
	_, _, skipped := run.Counts()
	assert.Equal(t, 2, skipped)

	stored, err := f.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, payroll.RunCanceled, stored.Status)
}

func TestStartRun_AsyncReachesTerminalState(t *testing.T) {
	f := newRunFixture(t, mxEmployee("e1", "15000"))

	run, err := f.orch.StartRun(context.Background(), "acme", june2025(),
		[]payroll.EmployeeID{"e1"})
	require.NoError(t, err)
	assert.Equal(t, payroll.RunPending, run.Status)

	require.Eventually(t, func() bool {
		stored, err := f.store.GetRun(context.Background(), run.ID)
		if err != nil || stored == nil {
			return false
		}
		return stored.Status == payroll.RunCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRun_PushedFactsOverrideMaster(t *testing.T) {
	// GIVEN: Attendance pushed facts with overtime for the slot
	// THEN: The run pays from the pushed facts, not the master default

	f := newRunFixture(t, mxEmployee("e1", "24000"))

	facts := payroll.PayPeriodFacts{
		EmployeeID:    "e1",
		Country:       "MX",
		Period:        june2025(),
		BaseSalary:    payroll.Money{Value: dec("24000"), Currency: payroll.CurrencyMXN},
		OvertimeHours: dec("9"),
		Currency:      payroll.CurrencyMXN,
	}
	require.NoError(t, f.store.SaveFacts(context.Background(), facts))

	run, err := f.orch.Run(context.Background(), "acme", june2025(), []payroll.EmployeeID{"e1"})
	require.NoError(t, err)

	results, err := f.store.ListResultsByRun(context.Background(), run.Key)
	require.NoError(t, err)
	require.Len(t, results, 1)
	// 9 hours x (24000/240) x 2
	assert.True(t, results[0].Overtime.Value.Equal(dec("1800")), "overtime %s", results[0].Overtime.Value)
}

func TestRun_InvalidPeriodRejected(t *testing.T) {
	f := newRunFixture(t, mxEmployee("e1", "15000"))

	period := payroll.NewPayPeriod(payroll.NewDate(2025, 6, 30), payroll.NewDate(2025, 6, 1))
	_, err := f.orch.Run(context.Background(), "acme", period, []payroll.EmployeeID{"e1"})
	require.Error(t, err)
	assert.True(t, payroll.IsClientError(err))
}
