package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// AdminUserListItem is a projection for admin user listing (no password hash).
type AdminUserListItem struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserRepository is the credential store. Email uniqueness is enforced by the
// users_email_key index; Create reports a violation as a KindConflict error.
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	Create(ctx context.Context, email, passwordHash, name, role string) (*User, error)
	HasAdmin(ctx context.Context) (bool, error)
	List(ctx context.Context, page, perPage int) ([]AdminUserListItem, int, error)
}

// PgUserRepository implements UserRepository using pgx.
type PgUserRepository struct {
	db DBTX
}

func NewPgUserRepository(db DBTX) *PgUserRepository {
	return &PgUserRepository{db: db}
}

const userColumns = `id, email, password_hash, name, role, created_at`

func (r *PgUserRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE email=$1`
	return r.findOne(ctx, q, email)
}

func (r *PgUserRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	return r.findOne(ctx, q, id)
}

func (r *PgUserRepository) findOne(ctx context.Context, q string, arg any) (*User, error) {
	var u User
	if err := r.db.QueryRow(ctx, q, arg).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Role, &u.CreatedAt); err != nil {
		return nil, classifyStoreError(err, "user")
	}
	return &u, nil
}

func (r *PgUserRepository) Create(ctx context.Context, email, passwordHash, name, role string) (*User, error) {
	const q = `INSERT INTO users (email, password_hash, name, role) VALUES ($1,$2,$3,$4) RETURNING id, created_at`
	u := User{Email: email, PasswordHash: passwordHash, Name: name, Role: role}
	if err := r.db.QueryRow(ctx, q, email, passwordHash, name, role).Scan(&u.ID, &u.CreatedAt); err != nil {
		return nil, classifyStoreError(err, "user")
	}
	return &u, nil
}

func (r *PgUserRepository) HasAdmin(ctx context.Context) (bool, error) {
	const q = `SELECT 1 FROM users WHERE role='admin' LIMIT 1`
	var one int
	if err := r.db.QueryRow(ctx, q).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, classifyStoreError(err, "user")
	}
	return true, nil
}

// List returns paginated users without password hash.
func (r *PgUserRepository) List(ctx context.Context, page, perPage int) ([]AdminUserListItem, int, error) {
	if page <= 0 || perPage <= 0 {
		return nil, 0, validationError("invalid pagination")
	}
	const countQ = `SELECT COUNT(*) FROM users`
	var total int
	if err := r.db.QueryRow(ctx, countQ).Scan(&total); err != nil {
		return nil, 0, classifyStoreError(err, "user")
	}
	rows, err := r.db.Query(ctx, `SELECT id, email, name, role, created_at FROM users ORDER BY id LIMIT $1 OFFSET $2`, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, classifyStoreError(err, "user")
	}
	defer rows.Close()
	items := make([]AdminUserListItem, 0, perPage)
	for rows.Next() {
		var u AdminUserListItem
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.CreatedAt); err != nil {
			return nil, 0, classifyStoreError(err, "user")
		}
		items = append(items, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classifyStoreError(err, "user")
	}
	return items, total, nil
}
