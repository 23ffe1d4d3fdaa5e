package handler

import (
	"database/sql"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/swagger"

	_ "peopleapi/docs"
	"peopleapi/internal/service"
)

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
func RegisterRoutes(app *fiber.App, db *sql.DB, people service.PersonService) {
	app.Get("/health", HealthCheck(db))
	app.Get("/healthz", Liveness())

	users := app.Group("/users")
	users.Get("/", ListPeople(people))
	users.Post("/", CreatePerson(people))
	users.Get("/:id", GetPerson(people))
	users.Delete("/:id", RemovePerson(people))
	users.Get("/:id/avatar", PersonAvatar(people))
}

// ServeUploads exposes files written by the local storage backend.
func ServeUploads(app *fiber.App, prefix, root string) {
	app.Static(prefix, root, fiber.Static{
		Browse: false,
		MaxAge: 3600,
	})
}

// RegisterDocs mounts the Swagger UI and its doc.json. The document is static
// after init, so concurrent requests only read it.
func RegisterDocs(app *fiber.App) {
	app.Get("/swagger/*", swagger.HandlerDefault)
}
