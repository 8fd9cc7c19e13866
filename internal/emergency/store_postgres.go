package emergency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	id "heirloom/pkg/domain"
	"heirloom/pkg/platform/sentinel"
)

type PostgresRequestStore struct {
	db *sql.DB
}

func NewPostgresRequestStore(db *sql.DB) *PostgresRequestStore {
	return &PostgresRequestStore{db: db}
}

func (s *PostgresRequestStore) Create(ctx context.Context, req Request) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO emergency_requests
			(id, requester_id, target_owner_id, relationship_claim, state,
			 evidence_ref, scope_all, scope_items, allow_edit, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		req.ID.String(), req.RequesterID.String(), req.TargetOwnerID.String(),
		req.RelationshipClaim, string(req.State), req.EvidenceRef,
		req.Scope.All, req.Scope.itemsString(), req.Scope.AllowEdit, req.SubmittedAt,
	)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert emergency request: %w", err)
	}
	return nil
}

func (s *PostgresRequestStore) Find(ctx context.Context, requestID id.RequestID) (Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, requester_id, target_owner_id, relationship_claim, state,
		       evidence_ref, scope_all, scope_items, allow_edit,
		       submitted_at, approved_at, resolved_at
		FROM emergency_requests WHERE id = $1`, requestID.String())
	return scanRequest(row)
}

func (s *PostgresRequestStore) ListInState(ctx context.Context, state RequestState) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, requester_id, target_owner_id, relationship_claim, state,
		       evidence_ref, scope_all, scope_items, allow_edit,
		       submitted_at, approved_at, resolved_at
		FROM emergency_requests WHERE state = $1
		ORDER BY submitted_at`, string(state))
	if err != nil {
		return nil, fmt.Errorf("list emergency requests: %w", err)
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *PostgresRequestStore) Transition(ctx context.Context, requestID id.RequestID, from, to RequestState, at time.Time) (bool, error) {
	query := `UPDATE emergency_requests SET state = $3`
	if to == StateWaitingPeriod {
		query += `, approved_at = $4`
	} else if to.IsTerminal() {
		query += `, resolved_at = $4`
	}
	query += ` WHERE id = $1 AND state = $2`

	args := []any{requestID.String(), string(from), string(to)}
	if to == StateWaitingPeriod || to.IsTerminal() {
		args = append(args, at)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transition emergency request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition emergency request: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresRequestStore) SetScope(ctx context.Context, requestID id.RequestID, scope GrantScope) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE emergency_requests
		SET scope_all = $2, scope_items = $3, allow_edit = $4
		WHERE id = $1`,
		requestID.String(), scope.All, scope.itemsString(), scope.AllowEdit,
	)
	if err != nil {
		return fmt.Errorf("set request scope: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set request scope: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (Request, error) {
	var (
		req                    Request
		rawID, requester       string
		owner, state, items    string
		evidence               sql.NullString
		approvedAt, resolvedAt sql.NullTime
	)
	err := row.Scan(&rawID, &requester, &owner, &req.RelationshipClaim, &state,
		&evidence, &req.Scope.All, &items, &req.Scope.AllowEdit,
		&req.SubmittedAt, &approvedAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Request{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Request{}, fmt.Errorf("scan emergency request: %w", err)
	}
	if req.ID, err = id.ParseRequestID(rawID); err != nil {
		return Request{}, err
	}
	if req.RequesterID, err = id.ParseUserID(requester); err != nil {
		return Request{}, err
	}
	if req.TargetOwnerID, err = id.ParseUserID(owner); err != nil {
		return Request{}, err
	}
	req.State = RequestState(state)
	req.EvidenceRef = evidence.String
	req.Scope.Items = scopeItemsFromString(items)
	if approvedAt.Valid {
		t := approvedAt.Time
		req.ApprovedAt = &t
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		req.ResolvedAt = &t
	}
	return req, nil
}

type PostgresGrantStore struct {
	db *sql.DB
}

func NewPostgresGrantStore(db *sql.DB) *PostgresGrantStore {
	return &PostgresGrantStore{db: db}
}

// CreateIfAbsent relies on the unique request_id constraint: the losing
// writer's insert is a no-op and both callers read back the same row.
func (s *PostgresGrantStore) CreateIfAbsent(ctx context.Context, grant Grant) (Grant, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_grants
			(id, request_id, grantee_id, target_owner_id,
			 scope_all, scope_items, allow_edit, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (request_id) DO NOTHING`,
		grant.ID.String(), grant.RequestID.String(), grant.GranteeID.String(),
		grant.TargetOwnerID.String(), grant.Scope.All, grant.Scope.itemsString(),
		grant.Scope.AllowEdit, grant.IssuedAt, grant.ExpiresAt,
	)
	if err != nil {
		return Grant{}, fmt.Errorf("insert grant: %w", err)
	}
	return s.FindByRequest(ctx, grant.RequestID)
}

func (s *PostgresGrantStore) Find(ctx context.Context, grantID id.GrantID) (Grant, error) {
	row := s.db.QueryRowContext(ctx, grantSelect+` WHERE id = $1`, grantID.String())
	return scanGrant(row)
}

func (s *PostgresGrantStore) FindByRequest(ctx context.Context, requestID id.RequestID) (Grant, error) {
	row := s.db.QueryRowContext(ctx, grantSelect+` WHERE request_id = $1`, requestID.String())
	return scanGrant(row)
}

func (s *PostgresGrantStore) ListByGrantee(ctx context.Context, granteeID id.UserID) ([]Grant, error) {
	rows, err := s.db.QueryContext(ctx, grantSelect+` WHERE grantee_id = $1 ORDER BY issued_at`, granteeID.String())
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	var out []Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *PostgresGrantStore) Revoke(ctx context.Context, grantID id.GrantID, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE access_grants SET revoked = TRUE, revoked_at = $2
		WHERE id = $1 AND revoked = FALSE`,
		grantID.String(), at,
	)
	if err != nil {
		return false, fmt.Errorf("revoke grant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke grant: %w", err)
	}
	return n > 0, nil
}

const grantSelect = `
	SELECT id, request_id, grantee_id, target_owner_id,
	       scope_all, scope_items, allow_edit,
	       issued_at, expires_at, revoked, revoked_at
	FROM access_grants`

func scanGrant(row rowScanner) (Grant, error) {
	var (
		g                          Grant
		rawID, reqID, grantee      string
		owner, items               string
		expiresAt, revokedAt       sql.NullTime
	)
	err := row.Scan(&rawID, &reqID, &grantee, &owner,
		&g.Scope.All, &items, &g.Scope.AllowEdit,
		&g.IssuedAt, &expiresAt, &g.Revoked, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Grant{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Grant{}, fmt.Errorf("scan grant: %w", err)
	}
	if g.ID, err = id.ParseGrantID(rawID); err != nil {
		return Grant{}, err
	}
	if g.RequestID, err = id.ParseRequestID(reqID); err != nil {
		return Grant{}, err
	}
	if g.GranteeID, err = id.ParseUserID(grantee); err != nil {
		return Grant{}, err
	}
	if g.TargetOwnerID, err = id.ParseUserID(owner); err != nil {
		return Grant{}, err
	}
	g.Scope.Items = scopeItemsFromString(items)
	if expiresAt.Valid {
		t := expiresAt.Time
		g.ExpiresAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		g.RevokedAt = &t
	}
	return g, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
