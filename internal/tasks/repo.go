package tasks

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var ErrNotFound = errors.New("task not found")

// Repository is the set of row-level operations a request may perform.
// Callers validate descriptions; implementations store what they are given.
type Repository interface {
	List(ctx context.Context) ([]Task, error)
	Create(ctx context.Context, description string) (Task, error)
	Get(ctx context.Context, id int64) (Task, error)
	ToggleDone(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
}

// Session is a Repository bound to one request. Close must be called on
// every exit path and is safe to call more than once.
type Session interface {
	Repository
	Close() error
}

type Store interface {
	Session() Session
	Ping(ctx context.Context) error
}

type InMemoryRepo struct {
	mu       sync.Mutex
	seq      int64
	store    map[int64]Task
	sessions int
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		store: make(map[int64]Task),
	}
}

func (r *InMemoryRepo) Session() Session {
	r.mu.Lock()
	r.sessions++
	r.mu.Unlock()
	return &memSession{repo: r}
}

func (r *InMemoryRepo) Ping(context.Context) error { return nil }

// OpenSessions reports sessions handed out and not yet closed.
func (r *InMemoryRepo) OpenSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions
}

func (r *InMemoryRepo) Create(_ context.Context, description string) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	t := Task{
		ID:          r.seq,
		Description: description,
		Done:        false,
	}
	r.store[t.ID] = t
	return t, nil
}

func (r *InMemoryRepo) List(context.Context) ([]Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Task, 0, len(r.store))
	for _, t := range r.store {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *InMemoryRepo) Get(_ context.Context, id int64) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.store[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return t, nil
}

func (r *InMemoryRepo) ToggleDone(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.store[id]
	if !ok {
		return ErrNotFound
	}
	t.Done = !t.Done
	r.store[id] = t
	return nil
}

func (r *InMemoryRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.store, id)
	return nil
}

type memSession struct {
	repo   *InMemoryRepo
	closed bool
}

func (s *memSession) List(ctx context.Context) ([]Task, error) { return s.repo.List(ctx) }

func (s *memSession) Create(ctx context.Context, description string) (Task, error) {
	return s.repo.Create(ctx, description)
}

func (s *memSession) Get(ctx context.Context, id int64) (Task, error) { return s.repo.Get(ctx, id) }

func (s *memSession) ToggleDone(ctx context.Context, id int64) error {
	return s.repo.ToggleDone(ctx, id)
}

func (s *memSession) Delete(ctx context.Context, id int64) error { return s.repo.Delete(ctx, id) }

func (s *memSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.repo.mu.Lock()
	s.repo.sessions--
	s.repo.mu.Unlock()
	return nil
}
