package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

// memUserRepo is an in-memory UserRepository that enforces email uniqueness
// like the users_email_key index does.
type memUserRepo struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*User
	err    error // returned by every call when set
	finds  int
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: map[int64]*User{}}
}

func (r *memUserRepo) FindByEmail(_ context.Context, email string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, notFoundError("user")
}

func (r *memUserRepo) FindByID(_ context.Context, id int64) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finds++
	if r.err != nil {
		return nil, r.err
	}
	u, ok := r.users[id]
	if !ok {
		return nil, notFoundError("user")
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) Create(_ context.Context, email, hash, name, role string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	for _, u := range r.users {
		if u.Email == email {
			return nil, &AppError{Kind: KindConflict, Message: "user already exists"}
		}
	}
	r.nextID++
	u := &User{ID: r.nextID, Email: email, PasswordHash: hash, Name: name, Role: role, CreatedAt: time.Now()}
	r.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) HasAdmin(context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Role == RoleAdmin {
			return true, nil
		}
	}
	return false, nil
}

func (r *memUserRepo) List(_ context.Context, page, perPage int) ([]AdminUserListItem, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := []AdminUserListItem{}
	for id := int64(1); id <= r.nextID; id++ {
		if u, ok := r.users[id]; ok {
			items = append(items, AdminUserListItem{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role, CreatedAt: u.CreatedAt})
		}
	}
	total := len(items)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return items[start:end], total, nil
}

// setRole flips a stored user's role, standing in for an admin promotion.
func (r *memUserRepo) setRole(id int64, role string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[id].Role = role
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func newTestCache(t *testing.T, metrics *Metrics) (*miniredis.Miniredis, *Cache) {
	t.Helper()
	mr, client := newTestRedis(t)
	return mr, NewCache(NewRedisCacheBackend(client, "test:"), time.Minute, metrics, nil)
}

func newTestAuthService(t *testing.T, repo UserRepository, cache *Cache, metrics *Metrics) *RepositoryAuthService {
	t.Helper()
	return NewRepositoryAuthService(repo, NewPasswordHasher(bcrypt.MinCost),
		NewTokenCodec([]byte("test-secret"), time.Hour), cache, metrics, nil)
}
