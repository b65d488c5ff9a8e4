package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. Each organization owns a schema,
// each unit a subscriber table inside it, so membership traffic on one unit
// never contends with another's.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const uniqueViolation = "23505"

func isDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Registry -----------------------------------------------------------------

func (s *PGStore) AddOrganization(ctx context.Context, slug, name string) (int64, error) {
	schema := NamespaceFor(slug)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx,
		`insert into organizations(slug, name, schema_name) values($1,$2,$3) returning id`,
		slug, name, schema,
	).Scan(&id)
	if isDuplicate(err) {
		var existing int64
		if qerr := s.db.QueryRowContext(ctx,
			`select id from organizations where slug=$1`, slug).Scan(&existing); qerr == nil {
			return existing, ErrAlreadyExists
		}
		return 0, ErrAlreadyExists
	}
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`create schema %s`, schema)); err != nil {
		return 0, fmt.Errorf("add organization %q: create namespace: %w", slug, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *PGStore) AddUnit(ctx context.Context, orgID int64, slug, name string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var schema string
	err = tx.QueryRowContext(ctx,
		`select schema_name from organizations where id=$1`, orgID).Scan(&schema)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrOrgNotFound
	}
	if err != nil {
		return 0, err
	}

	var id int64
	err = tx.QueryRowContext(ctx,
		`insert into units(org_id, slug, name) values($1,$2,$3) returning id`,
		orgID, slug, name,
	).Scan(&id)
	if isDuplicate(err) {
		var existing int64
		if qerr := s.db.QueryRowContext(ctx,
			`select id from units where org_id=$1 and slug=$2`, orgID, slug).Scan(&existing); qerr == nil {
			return existing, ErrAlreadyExists
		}
		return 0, ErrAlreadyExists
	}
	if err != nil {
		return 0, err
	}

	table := SubscriberTableFor(id)
	if _, err := tx.ExecContext(ctx,
		`update units set subs_table=$1 where id=$2`, table, id); err != nil {
		return 0, err
	}
	// Provisioning the table is what makes the unit a valid subscription
	// target; it happens in the same transaction as the directory record.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`create table %s.%s (user_id text primary key, created_at timestamptz not null default now())`,
		schema, table)); err != nil {
		return 0, fmt.Errorf("add unit %q: provision subscriber set: %w", slug, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *PGStore) RemoveOrganization(ctx context.Context, orgID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var schema string
	err = tx.QueryRowContext(ctx,
		`select schema_name from organizations where id=$1`, orgID).Scan(&schema)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrOrgNotFound
	}
	if err != nil {
		return err
	}

	// Clear every member's index entry before the namespace goes away.
	if _, err := tx.ExecContext(ctx,
		`delete from subscriptions where org_id=$1`, orgID); err != nil {
		return fmt.Errorf("remove organization %d: clear subscription index: %w", orgID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`delete from units where org_id=$1`, orgID); err != nil {
		return fmt.Errorf("remove organization %d: drop unit records: %w", orgID, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`drop schema if exists %s cascade`, schema)); err != nil {
		return fmt.Errorf("remove organization %d: drop namespace: %w", orgID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`delete from organizations where id=$1`, orgID); err != nil {
		return fmt.Errorf("remove organization %d: drop record: %w", orgID, err)
	}
	return tx.Commit()
}

func (s *PGStore) RemoveUnit(ctx context.Context, orgID, unitID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema, table, err := resolveUnit(ctx, tx, orgID, unitID)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`delete from subscriptions where org_id=$1 and unit_id=$2`, orgID, unitID); err != nil {
		return fmt.Errorf("remove unit %d/%d: clear subscription index: %w", orgID, unitID, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`drop table if exists %s.%s`, schema, table)); err != nil {
		return fmt.Errorf("remove unit %d/%d: drop subscriber set: %w", orgID, unitID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`delete from units where org_id=$1 and id=$2`, orgID, unitID); err != nil {
		return fmt.Errorf("remove unit %d/%d: drop record: %w", orgID, unitID, err)
	}
	return tx.Commit()
}

func (s *PGStore) Subscribers(ctx context.Context, orgID, unitID int64) ([]string, error) {
	var schema, table string
	err := s.db.QueryRowContext(ctx,
		`select o.schema_name, u.subs_table from units u
		 join organizations o on o.id=u.org_id
		 where u.org_id=$1 and u.id=$2`, orgID, unitID,
	).Scan(&schema, &table)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnitNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`select user_id from %s.%s order by created_at`, schema, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PGStore) ListOrganizations(ctx context.Context) ([]Organization, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, slug, name, created_at from organizations order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Organization
	for rows.Next() {
		var org Organization
		if err := rows.Scan(&org.ID, &org.Slug, &org.Name, &org.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, org)
	}
	return res, rows.Err()
}

func (s *PGStore) ListUnits(ctx context.Context, orgID int64) ([]Unit, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from organizations where id=$1)`, orgID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrOrgNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`select id, org_id, slug, name, created_at from units where org_id=$1 order by created_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []Unit
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.ID, &u.OrgID, &u.Slug, &u.Name, &u.CreatedAt); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// Index --------------------------------------------------------------------

func (s *PGStore) Apply(ctx context.Context, userID string, ops []SubscriptionOp) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for i, op := range ops {
		schema, table, err := resolveUnit(ctx, tx, op.OrgID, op.UnitID)
		if err != nil {
			return fmt.Errorf("apply op %d (%d/%d): %w", i, op.OrgID, op.UnitID, err)
		}
		switch op.Kind {
		case Subscribe:
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(
				`insert into %s.%s(user_id) values($1) on conflict (user_id) do nothing`,
				schema, table), userID); err != nil {
				return fmt.Errorf("apply op %d (%d/%d): subscriber set: %w", i, op.OrgID, op.UnitID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`insert into subscriptions(user_id, org_id, unit_id) values($1,$2,$3)
				 on conflict (user_id, org_id, unit_id) do nothing`,
				userID, op.OrgID, op.UnitID); err != nil {
				return fmt.Errorf("apply op %d (%d/%d): index: %w", i, op.OrgID, op.UnitID, err)
			}
		case Unsubscribe:
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(
				`delete from %s.%s where user_id=$1`, schema, table), userID); err != nil {
				return fmt.Errorf("apply op %d (%d/%d): subscriber set: %w", i, op.OrgID, op.UnitID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`delete from subscriptions where user_id=$1 and org_id=$2 and unit_id=$3`,
				userID, op.OrgID, op.UnitID); err != nil {
				return fmt.Errorf("apply op %d (%d/%d): index: %w", i, op.OrgID, op.UnitID, err)
			}
		default:
			return fmt.Errorf("apply op %d: unknown kind %d", i, op.Kind)
		}
	}
	return tx.Commit()
}

func (s *PGStore) SubscriptionsOf(ctx context.Context, userID string) (map[int64][]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`select org_id, unit_id from subscriptions where user_id=$1 order by org_id, unit_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make(map[int64][]int64)
	for rows.Next() {
		var orgID, unitID int64
		if err := rows.Scan(&orgID, &unitID); err != nil {
			return nil, err
		}
		res[orgID] = append(res[orgID], unitID)
	}
	return res, rows.Err()
}

func (s *PGStore) Retire(ctx context.Context, orgID, unitID int64, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema, table, err := resolveUnit(ctx, tx, orgID, unitID)
	if errors.Is(err, ErrUnitNotFound) {
		// Unit removed while the dispatch was in flight; both sides are
		// already gone, nothing to retire.
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`delete from %s.%s where user_id=$1`, schema, table), userID); err != nil {
		return fmt.Errorf("retire %s from %d/%d: subscriber set: %w", userID, orgID, unitID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`delete from subscriptions where user_id=$1 and org_id=$2 and unit_id=$3`,
		userID, orgID, unitID); err != nil {
		return fmt.Errorf("retire %s from %d/%d: index: %w", userID, orgID, unitID, err)
	}
	return tx.Commit()
}

// querier lets resolveUnit run against either the pool or a transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func resolveUnit(ctx context.Context, q querier, orgID, unitID int64) (schema, table string, err error) {
	err = q.QueryRowContext(ctx,
		`select o.schema_name, u.subs_table from units u
		 join organizations o on o.id=u.org_id
		 where u.org_id=$1 and u.id=$2`, orgID, unitID,
	).Scan(&schema, &table)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrUnitNotFound
	}
	return schema, table, err
}
