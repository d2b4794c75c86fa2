/*
Package notify publishes engine lifecycle events to NATS for downstream
consumers (payslip delivery, compliance dashboards, alerting).

SUBJECT CONVENTION:
  payroll.run.completed        - a batch run reached a terminal status
  payroll.rules.committed      - a new ruleset version was committed
  payroll.rules.refresh_failed - a country's refresh streak crossed the
                                 alert threshold

All publish operations are non-fatal: errors are logged but never
propagated, so a NATS outage can never interrupt a payroll run or a rule
commit.
*/
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/warp/payroll-engine/payroll"
)

const (
	subjectRunCompleted   = "payroll.run.completed"
	subjectRulesCommitted = "payroll.rules.committed"
	subjectRefreshFailed  = "payroll.rules.refresh_failed"
)

// Publisher implements payroll.Notifier and refresh.Alerter over a NATS
// connection. A nil Publisher is safe to call; every method no-ops.
type Publisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// Connect dials NATS and returns a publisher. The connection reconnects
// automatically; publishes during an outage are dropped and logged.
func Connect(url string, log zerolog.Logger) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn, log: log.With().Str("component", "notify").Logger()}, nil
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Drain()
}

// RunEvent is the JSON schema for run completion events.
type RunEvent struct {
	RunID     string `json:"run_id"`
	RunKey    string `json:"run_key"`
	CompanyID string `json:"company_id"`
	Period    string `json:"period"`
	Status    string `json:"status"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
}

// RulesEvent is the JSON schema for ruleset commit events.
type RulesEvent struct {
	Country       string `json:"country"`
	Version       int    `json:"version"`
	EffectiveFrom string `json:"effective_from"`
	Checksum      string `json:"checksum"`
}

// RefreshFailureEvent is the JSON schema for refresh alert events.
type RefreshFailureEvent struct {
	Country string `json:"country"`
	Streak  int    `json:"streak"`
	Error   string `json:"error"`
}

// RunCompleted publishes a terminal run status.
func (p *Publisher) RunCompleted(_ context.Context, run payroll.PayrollRun) {
	ok, failed, skipped := run.Counts()
	p.publish(subjectRunCompleted, RunEvent{
		RunID:     run.ID.String(),
		RunKey:    run.Key,
		CompanyID: string(run.CompanyID),
		Period:    run.Period.String(),
		Status:    string(run.Status),
		Succeeded: ok,
		Failed:    failed,
		Skipped:   skipped,
	})
}

// RulesCommitted publishes a new ruleset version.
func (p *Publisher) RulesCommitted(_ context.Context, rs payroll.RuleSet) {
	p.publish(subjectRulesCommitted, RulesEvent{
		Country:       string(rs.Country),
		Version:       rs.Version,
		EffectiveFrom: rs.EffectiveFrom.String(),
		Checksum:      rs.SourceChecksum,
	})
}

// RefreshFailed publishes a refresh alert.
func (p *Publisher) RefreshFailed(_ context.Context, country payroll.CountryCode, streak int, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	p.publish(subjectRefreshFailed, RefreshFailureEvent{
		Country: string(country),
		Streak:  streak,
		Error:   msg,
	})
}

func (p *Publisher) publish(subject string, event any) {
	if p == nil || p.conn == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("subject", subject).Msg("failed to marshal event")
		return
	}

	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).Str("subject", subject).Msg("failed to publish event (non-fatal)")
		return
	}

	p.log.Debug().Str("subject", subject).Msg("event published")
}
