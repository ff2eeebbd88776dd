package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Tharunya07/EMEC-AMS/internal/ams/types"
)

const requestColumns = `request_id, credential_id, device_uid, machine_id, requested_at_ms,
  status, reviewed_by, reviewed_at_ms`

func scanRequest(row scanner) (types.AccessRequest, error) {
	var (
		r          types.AccessRequest
		uid        sql.NullString
		requested  int64
		status     string
		reviewedBy sql.NullString
		reviewedAt sql.NullInt64
	)
	if err := row.Scan(&r.RequestID, &r.CredentialID, &uid, &r.MachineID, &requested,
		&status, &reviewedBy, &reviewedAt); err != nil {
		return r, err
	}
	r.DeviceUID = uid.String
	r.RequestedAt = fromMs(requested)
	r.Status = types.RequestStatus(status)
	r.ReviewedBy = reviewedBy.String
	r.ReviewedAt = timePtr(reviewedAt)
	return r, nil
}

func (s *Store) EnsurePendingRequest(ctx context.Context, req types.AccessRequest) (types.AccessRequest, bool, error) {
	if req.RequestID == "" || req.CredentialID == "" || req.MachineID == "" {
		return types.AccessRequest{}, false, fmt.Errorf("EnsurePendingRequest: request, credential and machine ids are required")
	}
	req.Status = types.RequestPending

	var (
		out     types.AccessRequest
		created bool
	)
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		existing, err := scanRequest(tx.QueryRowContext(ctx, `
SELECT `+requestColumns+` FROM access_requests
WHERE credential_id = ? AND machine_id = ? AND status = 'pending';
`, req.CredentialID, req.MachineID))
		if err == nil {
			out, created = existing, false
			return nil
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("EnsurePendingRequest lookup: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO access_requests(request_id, credential_id, device_uid, machine_id, requested_at_ms, status)
VALUES (?, ?, ?, ?, ?, 'pending');
`, req.RequestID, req.CredentialID, nullString(req.DeviceUID), req.MachineID, toMs(req.RequestedAt)); err != nil {
			return fmt.Errorf("EnsurePendingRequest insert: %w", err)
		}
		out, created = req, true
		return nil
	})
	if err != nil {
		return types.AccessRequest{}, false, err
	}
	return out, created, nil
}

func (s *Store) UnsyncedPendingRequests(ctx context.Context, limit int) ([]types.AccessRequest, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+requestColumns+` FROM access_requests r
WHERE r.status = 'pending'
  AND NOT EXISTS (
    SELECT 1 FROM sync_markers m WHERE m.kind = 'request' AND m.row_id = r.request_id
  )
ORDER BY r.requested_at_ms
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("UnsyncedPendingRequests: %w", err)
	}
	defer rows.Close()

	var out []types.AccessRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("UnsyncedPendingRequests scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) MarkRequestSynced(ctx context.Context, requestID string, at time.Time) error {
	return s.mark(ctx, "request", requestID, at)
}

func (s *Store) SyncedRequestIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT r.request_id FROM access_requests r
JOIN sync_markers m ON m.kind = 'request' AND m.row_id = r.request_id
WHERE r.status = 'pending'
ORDER BY r.requested_at_ms
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("SyncedRequestIDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("SyncedRequestIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) ApplyReviews(ctx context.Context, reviews []types.AccessRequest) (int, error) {
	var applied int
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		applied = 0
		for _, r := range reviews {
			if r.Status != types.RequestGranted && r.Status != types.RequestRejected {
				continue
			}
			res, err := tx.ExecContext(ctx, `
UPDATE access_requests
SET status = ?, reviewed_by = ?, reviewed_at_ms = ?
WHERE request_id = ? AND status = 'pending';
`, string(r.Status), nullString(r.ReviewedBy), nullMs(r.ReviewedAt), r.RequestID)
			if err != nil {
				return fmt.Errorf("ApplyReviews %s: %w", r.RequestID, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				applied++
			}
		}
		return nil
	})
	return applied, err
}
