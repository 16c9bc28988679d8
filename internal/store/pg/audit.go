package pg

import (
	"context"

	"authforge.dev/internal/audit"
)

type auditStore struct {
	q querier
}

// Append inserts one immutable row. There is no update or delete path
// for audit_log; failures bubble up so the enclosing transaction aborts.
func (s *auditStore) Append(ctx context.Context, entry *audit.Entry) error {
	_, err := s.q.ExecContext(ctx,
		`insert into audit_log(id, tenant_id, event_type, performed_by, target_id, details, source_ip, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		entry.ID, entry.TenantID, entry.EventType, entry.PerformedBy, entry.TargetID,
		[]byte(entry.Details), entry.SourceIP, entry.CreatedAt,
	)
	return err
}
