package tenancy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/pavitra93/go-tenant-isolation/shared/apperrors"
	"github.com/pavitra93/go-tenant-isolation/shared/metrics"
	"github.com/pavitra93/go-tenant-isolation/shared/models"
)

// Opener establishes a pooled handle to the database named by locator
type Opener func(ctx context.Context, locator string) (*gorm.DB, error)

// Store is a live handle bound to exactly one tenant's database
type Store struct {
	Org     string
	Domain  string
	Locator string
	DB      *gorm.DB
}

// Router resolves orgs to store handles, opening each tenant database at most
// once and sharing the handle across requests.
type Router struct {
	dir     Directory
	open    Opener
	metrics *metrics.Metrics

	mu     sync.RWMutex
	stores map[string]*Store
	group  singleflight.Group
}

// NewRouter creates a router over dir. mt may be nil.
func NewRouter(dir Directory, open Opener, mt *metrics.Metrics) *Router {
	if mt == nil {
		mt = metrics.Discard()
	}
	return &Router{
		dir:     dir,
		open:    open,
		metrics: mt,
		stores:  make(map[string]*Store),
	}
}

// StoreFor returns the cached handle for org, opening it on first use.
// Concurrent first calls for the same org share one open. An unknown org is
// NotFoundError; there is no fallback store.
func (r *Router) StoreFor(ctx context.Context, org string) (*Store, error) {
	key := models.NormalizeOrg(org)
	if key == "" {
		return nil, apperrors.NotFound("tenant", org)
	}
	if s := r.cached(key); s != nil {
		return s, nil
	}

	// the open is shared with every waiter, so one caller's cancellation must not end it
	shared := context.WithoutCancel(ctx)
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		if s := r.cached(key); s != nil {
			return s, nil
		}

		rec, err := r.dir.ResolveByOrg(shared, key)
		if err != nil {
			return nil, err
		}

		db, err := r.open(shared, rec.StoreLocator)
		if err != nil {
			r.metrics.StoreOpenFailures.Inc()
			logrus.WithFields(logrus.Fields{
				"org":   key,
				"error": err,
			}).Error("Failed to open tenant store")
			return nil, apperrors.Unavailable("tenant store", err)
		}

		s := &Store{Org: rec.Org, Domain: rec.Domain, Locator: rec.StoreLocator, DB: db}
		r.mu.Lock()
		r.stores[key] = s
		r.metrics.StoreHandles.Set(float64(len(r.stores)))
		r.mu.Unlock()

		logrus.WithField("org", key).Debug("Tenant store handle opened")
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Store), nil
}

func (r *Router) cached(key string) *Store {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stores[key]
}

// Len returns the number of cached handles
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stores)
}

// Close closes every cached handle and empties the cache
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for key, s := range r.stores {
		sqlDB, err := s.DB.DB()
		if err == nil {
			err = sqlDB.Close()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("close store %s: %w", key, err))
		}
		delete(r.stores, key)
	}
	r.metrics.StoreHandles.Set(0)
	return errors.Join(errs...)
}
