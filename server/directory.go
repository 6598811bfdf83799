package server

import (
	"fmt"
	"sync"
	"time"
)

// UpdatePolicy controls what a repeat login does to an existing record.
type UpdatePolicy string

const (
	// UpdateReplace overwrites the stored record wholesale. Default.
	UpdateReplace UpdatePolicy = "replace"
	// UpdateMerge keeps stored fields that the incoming assertion left empty.
	UpdateMerge UpdatePolicy = "merge"
)

// Directory is the user store consulted by the auth gate. The in-memory
// implementation below is the reference; anything satisfying this interface
// (a SQL table, a KV store) can be substituted without touching the gate.
type Directory interface {
	Upsert(u User) error
	Lookup(subject string) (User, error)
}

// InMemoryDirectory keeps user records in a mutex-guarded map. Records live
// for the process lifetime only; durability is explicitly out of scope.
type InMemoryDirectory struct {
	mu     sync.RWMutex
	users  map[string]User
	policy UpdatePolicy
	now    func() time.Time
}

// NewInMemoryDirectory constructs the directory with the given update policy.
func NewInMemoryDirectory(policy UpdatePolicy) *InMemoryDirectory {
	if policy == "" {
		policy = UpdateReplace
	}
	return &InMemoryDirectory{
		users:  make(map[string]User),
		policy: policy,
		now:    time.Now,
	}
}

// Upsert creates or replaces the record for u.Subject and stamps UpdatedAt.
// Concurrent upserts to the same key serialize on the lock; the last writer
// wins and is what subsequent lookups observe.
func (d *InMemoryDirectory) Upsert(u User) error {
	if u.Subject == "" {
		return fmt.Errorf("%w: empty subject", ErrInvalidRecord)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.policy == UpdateMerge {
		if prev, ok := d.users[u.Subject]; ok {
			u = mergeUser(prev, u)
		}
	}
	u.UpdatedAt = d.now()
	d.users[u.Subject] = u
	return nil
}

// Lookup returns the record for a subject. Pure read, no mutation.
func (d *InMemoryDirectory) Lookup(subject string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[subject]
	if !ok {
		return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, subject)
	}
	return u, nil
}

// Len reports the number of stored records.
func (d *InMemoryDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}

func mergeUser(prev, next User) User {
	if next.Email == "" {
		next.Email = prev.Email
		next.EmailVerified = prev.EmailVerified
	}
	if next.Name == "" {
		next.Name = prev.Name
	}
	if next.Picture == "" {
		next.Picture = prev.Picture
	}
	return next
}
