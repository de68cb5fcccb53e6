package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"taskdeck.org/internal/audit"
	"taskdeck.org/internal/auth"
	"taskdeck.org/internal/task"
)

// Store persists tasks, organizations, users, and the audit trail in
// Postgres behind database/sql over the pgx driver.
type Store struct {
	db *sql.DB
}

var (
	_ task.Store     = (*Store)(nil)
	_ audit.Sink     = (*Store)(nil)
	_ auth.UserStore = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle. Used by tests with sqlmock.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// --- tasks ---

func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	_, err := s.db.ExecContext(ctx, `
		insert into tasks(id, title, description, category, status, order_index, organization_id, created_by, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, t.ID, t.Title, t.Description, t.Category, t.Status, t.OrderIndex, t.OrganizationID, t.CreatedBy, t.CreatedAt, t.UpdatedAt)
	return err
}

func (s *Store) GetTask(ctx context.Context, id string) (task.Task, error) {
	var t task.Task
	err := s.db.QueryRowContext(ctx, `
		select id, title, description, category, status, order_index, organization_id, created_by, created_at, updated_at
		from tasks where id=$1
	`, id).Scan(&t.ID, &t.Title, &t.Description, &t.Category, &t.Status, &t.OrderIndex, &t.OrganizationID, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, task.ErrNotFound
	}
	if err != nil {
		return task.Task{}, err
	}
	return t, nil
}

func (s *Store) UpdateTask(ctx context.Context, t *task.Task) error {
	res, err := s.db.ExecContext(ctx, `
		update tasks
		set title=$2, description=$3, category=$4, status=$5, order_index=$6, updated_at=$7
		where id=$1
	`, t.ID, t.Title, t.Description, t.Category, t.Status, t.OrderIndex, t.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return task.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from tasks where id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return task.ErrNotFound
	}
	return nil
}

func (s *Store) ListTasksByOrgs(ctx context.Context, orgIDs []string) ([]task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, title, description, category, status, order_index, organization_id, created_by, created_at, updated_at
		from tasks
		where organization_id = any($1)
		order by order_index asc, created_at desc
	`, orgIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]task.Task, 0)
	for rows.Next() {
		var t task.Task
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.Category, &t.Status, &t.OrderIndex, &t.OrganizationID, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// --- organizations ---

func (s *Store) CreateOrganization(ctx context.Context, org *task.Organization) error {
	_, err := s.db.ExecContext(ctx, `
		insert into organizations(id, name, parent_id, created_at)
		values ($1,$2,nullif($3,''),$4)
	`, org.ID, org.Name, org.ParentID, org.CreatedAt)
	return err
}

func (s *Store) GetOrganization(ctx context.Context, id string) (task.Organization, error) {
	var org task.Organization
	var parent sql.NullString
	err := s.db.QueryRowContext(ctx, `
		select id, name, parent_id, created_at from organizations where id=$1
	`, id).Scan(&org.ID, &org.Name, &parent, &org.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Organization{}, task.ErrNotFound
	}
	if err != nil {
		return task.Organization{}, err
	}
	if parent.Valid {
		org.ParentID = parent.String
	}
	return org, nil
}

func (s *Store) ListChildOrganizations(ctx context.Context, parentID string) ([]task.Organization, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, parent_id, created_at from organizations
		where parent_id=$1
		order by id asc
	`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]task.Organization, 0)
	for rows.Next() {
		var org task.Organization
		var parent sql.NullString
		if err := rows.Scan(&org.ID, &org.Name, &parent, &org.CreatedAt); err != nil {
			return nil, err
		}
		if parent.Valid {
			org.ParentID = parent.String
		}
		res = append(res, org)
	}
	return res, rows.Err()
}

// --- users ---

func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users(id, email, password_hash, role, organization_id, created_at)
		values ($1,$2,$3,$4,$5,$6)
	`, u.ID, u.Email, u.PasswordHash, u.Role, u.OrganizationID, u.CreatedAt)
	return err
}

func (s *Store) GetUser(ctx context.Context, id string) (auth.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		select id, email, password_hash, role, organization_id, created_at from users where id=$1
	`, id))
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (auth.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		select id, email, password_hash, role, organization_id, created_at from users where lower(email)=lower($1)
	`, email))
}

func (s *Store) scanUser(row *sql.Row) (auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.OrganizationID, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrUserNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	return u, nil
}

// --- audit ---

func (s *Store) Append(ctx context.Context, entry *audit.Entry) error {
	var metadata []byte
	if len(entry.Metadata) > 0 {
		data, err := json.Marshal(entry.Metadata)
		if err != nil {
			return err
		}
		metadata = data
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log(id, ts, user_id, action, resource, result, metadata)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, entry.ID, entry.Timestamp, entry.UserID, entry.Action, entry.Resource, entry.Result, metadata)
	return err
}

func (s *Store) Recent(ctx context.Context, limit int) ([]audit.Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, ts, user_id, action, resource, result, metadata
		from audit_log
		order by ts desc, id desc
		limit $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]audit.Entry, 0, limit)
	for rows.Next() {
		var e audit.Entry
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.UserID, &e.Action, &e.Resource, &e.Result, &metadata); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, err
			}
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
