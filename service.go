package permissions

import (
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Config wires the service to its collaborators. DB is required; a nil
// Redis client disables caching regardless of the cache options.
type Config struct {
	DB      *gorm.DB
	Redis   *redis.Client
	Options Options
	Logger  *zap.Logger
	// Now supplies the clock used when evaluating grant expiry. Defaults
	// to time.Now.
	Now func() time.Time
	// AutoMigrate creates or updates the grant tables on startup.
	AutoMigrate bool
}

// Service is the assembled subsystem: read-side resolution and write-side
// mutation over one store and cache pair.
type Service struct {
	*Resolver
	*Mutator

	store *Store
	cache *Cache
	opts  Options
	log   *zap.Logger
}

// New builds a Service from the config. Options left at their zero value
// get the documented defaults filled in; use DefaultOptions or
// LoadOptions to start from the full default set.
func New(cfg Config) (*Service, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("%w: database handle is required", ErrConfiguration)
	}
	opts := cfg.Options
	opts.withDefaults()

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	cacheOpts := opts.Cache
	if cfg.Redis == nil {
		cacheOpts.Enabled = false
	}

	store := NewStore(cfg.DB, opts)
	if cfg.AutoMigrate {
		if err := store.AutoMigrate(); err != nil {
			return nil, fmt.Errorf("failed to migrate grant tables: %w", err)
		}
	}
	cache := NewCache(cfg.Redis, cacheOpts, log)

	resolver := NewResolver(store, cache, opts)
	resolver.now = now
	resolver.log = log

	mutator := NewMutator(store, cache, opts)
	mutator.log = log

	return &Service{
		Resolver: resolver,
		Mutator:  mutator,
		store:    store,
		cache:    cache,
		opts:     opts,
		log:      log,
	}, nil
}

// Store exposes the underlying grant store for advanced queries.
func (s *Service) Store() *Store { return s.store }

// Cache exposes the cache layer, mainly for manual flushes.
func (s *Service) Cache() *Cache { return s.cache }

// Options returns the effective configuration after defaulting.
func (s *Service) Options() Options { return s.opts }

// Gate returns the authorization pre-check hook bound to this service.
func (s *Service) Gate() GateFunc {
	return NewGateHook(s.Resolver, s.opts.Gate, s.log)
}

// Middleware returns a route-guard factory bound to this service.
func (s *Service) Middleware() *Middleware {
	return NewMiddleware(s.Resolver, s.opts.Middleware, s.log)
}

// IsNotFound reports whether err means a referenced role or permission
// does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err means a slug/guard pair already exists.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
