package routes

import (
	"github.com/gofiber/fiber/v2"

	permissions "github.com/saeedvir/go-permissions"
)

type roleRequest struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type permissionRequest struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type grantRequest struct {
	Slugs []string `json:"slugs"`
}

// Setup registers the demo API: admin endpoints for managing grants plus
// a pair of protected routes showing the middleware in use.
func Setup(app *fiber.App, svc *permissions.Service) {
	// Demo auth layer: trust the X-User-ID header. A real deployment
	// plugs its session or token middleware in here instead.
	app.Use(func(c *fiber.Ctx) error {
		if id := c.Get("X-User-ID"); id != "" {
			c.Locals(permissions.PrincipalLocalKey, permissions.Subject{ID: id, Type: "user"})
		}
		return c.Next()
	})

	mw := svc.Middleware()
	api := app.Group("/api/v1")

	admin := api.Group("/admin", mw.RequirePermission("permissions.manage"))

	admin.Post("/roles", func(c *fiber.Ctx) error {
		var req roleRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.ErrBadRequest
		}
		role, err := svc.CreateRole(c.UserContext(), req.Slug, req.Name, req.Description)
		if err != nil {
			if permissions.IsConflict(err) {
				return fiber.NewError(fiber.StatusConflict, "role already exists")
			}
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(role)
	})

	admin.Post("/permissions", func(c *fiber.Ctx) error {
		var req permissionRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.ErrBadRequest
		}
		perm, err := svc.CreatePermission(c.UserContext(), req.Slug, req.Name, req.Description)
		if err != nil {
			if permissions.IsConflict(err) {
				return fiber.NewError(fiber.StatusConflict, "permission already exists")
			}
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(perm)
	})

	admin.Put("/roles/:slug/permissions", func(c *fiber.Ctx) error {
		var req grantRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.ErrBadRequest
		}
		refs := make([]any, len(req.Slugs))
		for i, slug := range req.Slugs {
			refs[i] = slug
		}
		diff, err := svc.SyncRolePermissions(c.UserContext(), c.Params("slug"), refs)
		if err != nil {
			if permissions.IsNotFound(err) {
				return fiber.ErrNotFound
			}
			return err
		}
		return c.JSON(diff)
	})

	admin.Put("/users/:id/roles", func(c *fiber.Ctx) error {
		var req grantRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.ErrBadRequest
		}
		subject := permissions.Subject{ID: c.Params("id"), Type: "user"}
		refs := make([]any, len(req.Slugs))
		for i, slug := range req.Slugs {
			refs[i] = slug
		}
		diff, err := svc.SyncRoles(c.UserContext(), subject, refs)
		if err != nil {
			if permissions.IsNotFound(err) {
				return fiber.ErrNotFound
			}
			return err
		}
		return c.JSON(diff)
	})

	admin.Get("/users/:id/permissions", func(c *fiber.Ctx) error {
		subject := permissions.Subject{ID: c.Params("id"), Type: "user"}
		perms, err := svc.GetAllPermissions(c.UserContext(), subject)
		if err != nil {
			return err
		}
		return c.JSON(perms)
	})

	api.Get("/users", mw.RequirePermission("users.read"), func(c *fiber.Ctx) error {
		return c.SendString("User data")
	})

	api.Get("/reports", mw.RequireRole("admin|auditor"), func(c *fiber.Ctx) error {
		return c.SendString("Report data")
	})
}
