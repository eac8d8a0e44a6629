package sagajournal

import (
	"context"
	"database/sql"

	"sagaflow/internal/saga"
)

// AuditObserver appends saga audit events to the saga_audit table.
// Insert failures are logged and swallowed: the audit trail must never
// fail the orchestrator.
type AuditObserver struct {
	db   *sql.DB
	logf func(format string, args ...any)
}

// NewAuditObserver constructs an AuditObserver.
func NewAuditObserver(db *sql.DB, logf func(format string, args ...any)) *AuditObserver {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &AuditObserver{db: db, logf: logf}
}

func (o *AuditObserver) Audit(e saga.AuditEvent) {
	detail := e.Detail
	if e.Outcome != nil && detail == "" {
		detail = string(e.Outcome.Status)
	}
	_, err := o.db.ExecContext(context.Background(), `
		INSERT INTO saga_audit (saga_id, order_id, kind, step, phase_from, phase_to, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.SagaID, e.OrderID, string(e.Kind), e.Step, string(e.From), string(e.To), detail,
	)
	if err != nil {
		o.logf("saga audit insert failed: %v", err)
	}
}
