package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PGSink appends events to the audit_log table.
type PGSink struct {
	db *sql.DB
}

func NewPGSink(db *sql.DB) *PGSink {
	return &PGSink{db: db}
}

func (s *PGSink) Record(ctx context.Context, e Event) error {
	meta := []byte("{}")
	if len(e.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(e.Metadata); err != nil {
			return fmt.Errorf("audit: encode metadata: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`insert into audit_log(id, actor_id, action, entity_type, entity_id, metadata, ip_address, user_agent, request_id, occurred_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, nullString(e.ActorID), e.Action, e.EntityType, e.EntityID, meta,
		nullString(e.IPAddress), nullString(e.UserAgent), nullString(e.RequestID), e.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
