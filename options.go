package permissions

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Response types for middleware failure handling.
const (
	ResponseJSON     = "json"
	ResponseRedirect = "redirect"
	ResponseAbort    = "abort"
)

// Flush fallback scopes used when tag-scoped eviction is unavailable.
const (
	FlushFallbackPrefix = "prefix" // delete keys under this subsystem's prefix
	FlushFallbackStore  = "store"  // flush the whole cache database
)

// CacheOptions controls memoization of resolved role and permission sets.
type CacheOptions struct {
	Enabled          bool          `envconfig:"ENABLED" default:"true"`
	CacheRoles       bool          `envconfig:"ROLES" default:"true"`
	CachePermissions bool          `envconfig:"PERMISSIONS" default:"true"`
	TTL              time.Duration `envconfig:"EXPIRATION" default:"1h"`
	KeyPrefix        string        `envconfig:"KEY_PREFIX" default:"saeedvir_permissions"`
	UseTags          bool          `envconfig:"USE_TAGS" default:"true"`
	FlushFallback    string        `envconfig:"FLUSH_FALLBACK" default:"prefix"`
}

// GuardOptions controls slug namespacing per authentication context. When
// disabled all guards are treated as one.
type GuardOptions struct {
	Enabled bool   `envconfig:"ENABLED" default:"false"`
	Default string `envconfig:"DEFAULT" default:"web"`
}

// WildcardOptions enables glob matching of granted permission strings
// against requested ones, e.g. a granted "posts.*" matches "posts.create".
type WildcardOptions struct {
	Enabled bool `envconfig:"ENABLED" default:"false"`
}

// SuperAdminOptions configures the role whose holders pass every
// permission check without further lookup.
type SuperAdminOptions struct {
	Enabled  bool   `envconfig:"ENABLED" default:"false"`
	RoleSlug string `envconfig:"SLUG" default:"super-admin"`
}

// ExpirableOptions enables time-bounded grants for one grant kind.
type ExpirableOptions struct {
	Enabled bool `envconfig:"ENABLED" default:"false"`
}

// PerformanceOptions tunes resolution and mutation behavior.
type PerformanceOptions struct {
	// EagerLoading batch-fetches role permission sets in one query during
	// resolution. When false each role's set is fetched (and cached)
	// individually.
	EagerLoading bool `envconfig:"EAGER_LOADING" default:"true"`
	// ChunkSize bounds how many principals a bulk check loads per query.
	ChunkSize int `envconfig:"CHUNK_SIZE" default:"1000"`
	// UseTransactions wraps each mutation in a store transaction. Turning
	// it off trades atomicity for throughput.
	UseTransactions bool `envconfig:"USE_TRANSACTIONS" default:"true"`
}

// ResponseOptions describes how middleware renders one failure class.
type ResponseOptions struct {
	Type       string `envconfig:"TYPE"`
	RedirectTo string `envconfig:"REDIRECT_TO"`
	AbortCode  int    `envconfig:"ABORT_CODE"`
	Message    string `envconfig:"MESSAGE"`
}

// MiddlewareOptions configures unauthenticated vs unauthorized responses
// independently.
type MiddlewareOptions struct {
	Unauthenticated ResponseOptions `envconfig:"UNAUTHENTICATED"`
	Unauthorized    ResponseOptions `envconfig:"UNAUTHORIZED"`
}

// GateOptions controls the authorization-gate hook.
type GateOptions struct {
	Enabled        bool `envconfig:"ENABLED" default:"true"`
	BeforeCallback bool `envconfig:"BEFORE_CALLBACK" default:"true"`
}

// Options is the full configuration surface of the subsystem.
type Options struct {
	Cache                CacheOptions       `envconfig:"CACHE"`
	Guards               GuardOptions       `envconfig:"GUARDS"`
	Wildcard             WildcardOptions    `envconfig:"WILDCARD"`
	SuperAdmin           SuperAdminOptions  `envconfig:"SUPER_ADMIN"`
	ExpirablePermissions ExpirableOptions   `envconfig:"EXPIRABLE"`
	ExpirableRoles       ExpirableOptions   `envconfig:"EXPIRABLE_ROLES"`
	Performance          PerformanceOptions `envconfig:"PERFORMANCE"`
	Middleware           MiddlewareOptions  `envconfig:"MIDDLEWARE"`
	Gate                 GateOptions        `envconfig:"GATE"`
}

// DefaultOptions returns the options with every default applied.
func DefaultOptions() Options {
	opts := Options{
		Cache: CacheOptions{
			Enabled:          true,
			CacheRoles:       true,
			CachePermissions: true,
		},
		Performance: PerformanceOptions{
			EagerLoading:    true,
			UseTransactions: true,
		},
		Gate: GateOptions{
			Enabled:        true,
			BeforeCallback: true,
		},
	}
	opts.withDefaults()
	return opts
}

// LoadOptions reads PERMISSION_* environment variables on top of the
// defaults.
func LoadOptions() (Options, error) {
	var opts Options
	if err := envconfig.Process("permission", &opts); err != nil {
		return Options{}, err
	}
	opts.withDefaults()
	return opts, nil
}

// withDefaults fills gaps a zero value or partial env config leaves open.
func (o *Options) withDefaults() {
	if o.Cache.TTL <= 0 {
		o.Cache.TTL = time.Hour
	}
	if o.Cache.KeyPrefix == "" {
		o.Cache.KeyPrefix = "saeedvir_permissions"
	}
	if o.Cache.FlushFallback == "" {
		o.Cache.FlushFallback = FlushFallbackPrefix
	}
	if o.Guards.Default == "" {
		o.Guards.Default = "web"
	}
	if o.SuperAdmin.RoleSlug == "" {
		o.SuperAdmin.RoleSlug = "super-admin"
	}
	if o.Performance.ChunkSize <= 0 {
		o.Performance.ChunkSize = 1000
	}
	if o.Middleware.Unauthenticated.Type == "" {
		o.Middleware.Unauthenticated = ResponseOptions{
			Type:       ResponseRedirect,
			RedirectTo: "/login",
			AbortCode:  401,
			Message:    "Unauthenticated.",
		}
	}
	if o.Middleware.Unauthenticated.AbortCode == 0 {
		o.Middleware.Unauthenticated.AbortCode = 401
	}
	if o.Middleware.Unauthorized.Type == "" {
		o.Middleware.Unauthorized = ResponseOptions{
			Type:       ResponseJSON,
			RedirectTo: "/unauthorized",
			AbortCode:  403,
			Message:    "Unauthorized access.",
		}
	}
	if o.Middleware.Unauthorized.AbortCode == 0 {
		o.Middleware.Unauthorized.AbortCode = 403
	}
}

// guard returns the guard a lookup should use: the explicit one if given,
// the configured default otherwise. An empty string is returned when guard
// scoping is disabled, meaning all guards are treated as one.
func (o *Options) guard(explicit string) string {
	if !o.Guards.Enabled {
		return ""
	}
	if explicit != "" {
		return explicit
	}
	return o.Guards.Default
}
