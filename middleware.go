package permissions

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// PrincipalLocalKey is where the default extractor expects the
// authenticated principal in the request-scoped storage.
const PrincipalLocalKey = "principal"

// PrincipalFromLocals reads the principal an auth layer stored under
// PrincipalLocalKey.
func PrincipalFromLocals(c *fiber.Ctx) (Principal, bool) {
	p, ok := c.Locals(PrincipalLocalKey).(Principal)
	return p, ok && p != nil
}

// Middleware produces fiber handlers that guard routes by role or
// permission. Failures render per the configured response options, so the
// same handlers serve both API and browser-facing routes.
type Middleware struct {
	resolver *Resolver
	opts     MiddlewareOptions
	// PrincipalFrom extracts the acting principal from the request.
	// Defaults to PrincipalFromLocals; replace it to integrate with a
	// different auth layer.
	PrincipalFrom func(c *fiber.Ctx) (Principal, bool)
	log           *zap.Logger
}

// NewMiddleware builds a middleware factory over the resolver.
func NewMiddleware(r *Resolver, opts MiddlewareOptions, log *zap.Logger) *Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return &Middleware{
		resolver:      r,
		opts:          opts,
		PrincipalFrom: PrincipalFromLocals,
		log:           log,
	}
}

// RequireAuth passes any authenticated principal through and renders the
// unauthenticated response otherwise.
func (m *Middleware) RequireAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := m.PrincipalFrom(c); !ok {
			return m.respond(c, m.opts.Unauthenticated)
		}
		return c.Next()
	}
}

// RequireRole admits principals holding at least one of the named roles.
// Each argument may itself list alternatives separated by '|', so
// RequireRole("admin|editor") and RequireRole("admin", "editor") are
// equivalent.
func (m *Middleware) RequireRole(roles ...string) fiber.Handler {
	refs := splitAlternatives(roles)
	return func(c *fiber.Ctx) error {
		p, ok := m.PrincipalFrom(c)
		if !ok {
			return m.respond(c, m.opts.Unauthenticated)
		}
		allowed, err := m.resolver.HasAnyRole(c.UserContext(), p, refs...)
		if err != nil {
			m.log.Error("role check failed",
				zap.String("principal_id", p.PrincipalID()),
				zap.Error(err))
			return fiber.ErrInternalServerError
		}
		if !allowed {
			return m.respond(c, m.opts.Unauthorized)
		}
		return c.Next()
	}
}

// RequirePermission admits principals holding at least one of the named
// permissions, with the same '|' alternative syntax as RequireRole.
func (m *Middleware) RequirePermission(perms ...string) fiber.Handler {
	refs := splitAlternatives(perms)
	return func(c *fiber.Ctx) error {
		p, ok := m.PrincipalFrom(c)
		if !ok {
			return m.respond(c, m.opts.Unauthenticated)
		}
		allowed, err := m.resolver.HasAnyPermission(c.UserContext(), p, refs...)
		if err != nil {
			m.log.Error("permission check failed",
				zap.String("principal_id", p.PrincipalID()),
				zap.Error(err))
			return fiber.ErrInternalServerError
		}
		if !allowed {
			return m.respond(c, m.opts.Unauthorized)
		}
		return c.Next()
	}
}

func (m *Middleware) respond(c *fiber.Ctx, opts ResponseOptions) error {
	switch opts.Type {
	case ResponseRedirect:
		return c.Redirect(opts.RedirectTo, fiber.StatusFound)
	case ResponseAbort:
		return fiber.NewError(opts.AbortCode, opts.Message)
	default:
		return c.Status(opts.AbortCode).JSON(fiber.Map{
			"success": false,
			"message": opts.Message,
		})
	}
}

func splitAlternatives(values []string) []any {
	refs := make([]any, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, "|") {
			if part = strings.TrimSpace(part); part != "" {
				refs = append(refs, part)
			}
		}
	}
	return refs
}
