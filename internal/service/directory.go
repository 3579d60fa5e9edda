package service

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/xiaot623/teamdesk/internal/domain"
	"github.com/xiaot623/teamdesk/internal/repository"
)

const directoryCacheSize = 4096

// UserDirectory resolves user profiles through a short-lived cache so that
// hot paths (message fan-out, chat views) avoid a store round trip per
// sender. Authentication must not go through it.
type UserDirectory struct {
	store repository.Store
	cache *expirable.LRU[string, domain.User]
	sf    singleflight.Group
}

// NewUserDirectory creates a directory. A ttl <= 0 disables caching.
func NewUserDirectory(store repository.Store, ttl time.Duration) *UserDirectory {
	d := &UserDirectory{store: store}
	if ttl > 0 {
		d.cache = expirable.NewLRU[string, domain.User](directoryCacheSize, nil, ttl)
	}
	return d
}

// GetUser returns the user with userID or domain.ErrNotFound.
func (d *UserDirectory) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	if d.cache != nil {
		if u, ok := d.cache.Get(userID); ok {
			return &u, nil
		}
	}
	// The lookup is shared by every caller waiting on userID, so one
	// caller's cancellation must not fail the others.
	val, err, _ := d.sf.Do(userID, func() (any, error) {
		return d.store.GetUser(context.WithoutCancel(ctx), userID)
	})
	if err != nil {
		return nil, err
	}
	u := *val.(*domain.User)
	if d.cache != nil {
		d.cache.Add(userID, u)
	}
	return &u, nil
}

// Resolve returns the users found among ids keyed by id, plus the ids that
// do not exist, in input order.
func (d *UserDirectory) Resolve(ctx context.Context, ids []string) (map[string]domain.User, []string, error) {
	found := make(map[string]domain.User, len(ids))
	var pending []string
	for _, id := range ids {
		if _, ok := found[id]; ok {
			continue
		}
		if d.cache != nil {
			if u, ok := d.cache.Get(id); ok {
				found[id] = u
				continue
			}
		}
		pending = append(pending, id)
	}

	if len(pending) > 0 {
		users, err := d.store.GetUsers(ctx, pending)
		if err != nil {
			return nil, nil, err
		}
		for _, u := range users {
			found[u.ID] = u
			if d.cache != nil {
				d.cache.Add(u.ID, u)
			}
		}
	}

	var missing []string
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return found, missing, nil
}

// Invalidate drops userID from the cache.
func (d *UserDirectory) Invalidate(userID string) {
	if d.cache != nil {
		d.cache.Remove(userID)
	}
}

// ref returns the display projection for id, or a bare id when the user has
// since been removed.
func ref(users map[string]domain.User, id string) domain.UserRef {
	if u, ok := users[id]; ok {
		return u.Ref()
	}
	return domain.UserRef{ID: id}
}
