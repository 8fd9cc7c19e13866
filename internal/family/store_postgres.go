package family

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	id "heirloom/pkg/domain"
	"heirloom/pkg/platform/sentinel"
)

// PostgresStore persists family groups in PostgreSQL. Pure I/O; membership
// policy (who may change roles) belongs in the service.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateFamily(ctx context.Context, f Family) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO families (id, name, created_at) VALUES ($1, $2, $3)`,
		f.ID.String(), f.Name, f.CreatedAt,
	)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create family: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindFamily(ctx context.Context, familyID id.FamilyID) (Family, error) {
	var f Family
	var rawID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM families WHERE id = $1`, familyID.String(),
	).Scan(&rawID, &f.Name, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Family{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Family{}, fmt.Errorf("find family: %w", err)
	}
	f.ID = familyID
	return f, nil
}

// AddMember relies on the primary key on user_id for the one-family-per-user
// invariant; a losing concurrent insert surfaces as ErrConflict.
func (s *PostgresStore) AddMember(ctx context.Context, m Member) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO family_members (user_id, family_id, role, added_at) VALUES ($1, $2, $3, $4)`,
		m.UserID.String(), m.FamilyID.String(), m.Role.String(), m.AddedAt,
	)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if isForeignKeyViolation(err) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveMember(ctx context.Context, userID id.UserID) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM family_members WHERE user_id = $1`, userID.String(),
	)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove member rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindMember(ctx context.Context, userID id.UserID) (Member, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, family_id, role, added_at FROM family_members WHERE user_id = $1`,
		userID.String(),
	)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Member{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Member{}, fmt.Errorf("find member: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) ListByFamily(ctx context.Context, familyID id.FamilyID) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, family_id, role, added_at FROM family_members WHERE family_id = $1`,
		familyID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateRole(ctx context.Context, userID id.UserID, role id.Role) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE family_members SET role = $2 WHERE user_id = $1`,
		userID.String(), role.String(),
	)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update role rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (Member, error) {
	var m Member
	var userID, familyID, role string
	if err := row.Scan(&userID, &familyID, &role, &m.AddedAt); err != nil {
		return Member{}, err
	}
	if parsed, err := id.ParseUserID(userID); err == nil {
		m.UserID = parsed
	}
	if parsed, err := id.ParseFamilyID(familyID); err == nil {
		m.FamilyID = parsed
	}
	m.Role = id.Role(role)
	return m, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
