package server

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"colloquy/internal/models"
	"colloquy/internal/thread"

	"github.com/gofiber/fiber/v2"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper. Handlers must return nil (not this error) to avoid
// Fiber's ErrorHandler overwriting the response.
var errResponseWritten = errors.New("response already written")

const (
	maxPaginationLimit = 100
	maxContentLength   = 10000
)

// parseID extracts a route parameter by name as a positive uint.
// On failure it writes a 400 JSON response and returns errResponseWritten.
func parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := c.ParamsInt(param)
	if err != nil || id <= 0 {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid "+humanizeParam(param)))
		return 0, errResponseWritten
	}
	return uint(id), nil
}

// parseContent reads the comment body and returns its trimmed content. Empty
// and overlong content is rejected with a 400 and errResponseWritten.
func parseContent(c *fiber.Ctx) (string, error) {
	var req contentRequest
	if err := c.BodyParser(&req); err != nil {
		_ = models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body"))
		return "", errResponseWritten
	}

	content := strings.TrimSpace(req.Content)
	switch {
	case content == "":
		_ = models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Content is required"))
		return "", errResponseWritten
	case utf8.RuneCountInString(content) > maxContentLength:
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError(fmt.Sprintf("Comment too long (max %d characters)", maxContentLength)))
		return "", errResponseWritten
	}
	return content, nil
}

// parsePage reads the limit and cursor query parameters. ok is false when
// neither is given, so the engine's configured page size applies.
func parsePage(c *fiber.Ctx) (page models.Page, ok bool, err error) {
	rawCursor := c.Query("cursor")
	limit := c.QueryInt("limit", 0)
	if limit <= 0 && rawCursor == "" {
		return models.Page{}, false, nil
	}
	if limit > maxPaginationLimit {
		limit = maxPaginationLimit
	}

	cursor, cerr := models.DecodeCursor(rawCursor)
	if cerr != nil {
		_ = models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid cursor"))
		return models.Page{}, false, errResponseWritten
	}
	return models.Page{Limit: limit, After: cursor}, true, nil
}

// engineFor resolves the :kind route parameter to its engine, writing a 404
// for unknown kinds.
func (s *Server) engineFor(c *fiber.Ctx) (*thread.Engine, error) {
	scope, err := models.ParseScope(c.Params("kind"))
	if err != nil {
		_ = models.RespondWithError(c, fiber.StatusNotFound,
			models.NewNotFoundError("thread kind", c.Params("kind")))
		return nil, errResponseWritten
	}
	engine, ok := s.engines[scope.Kind]
	if !ok {
		_ = models.RespondWithError(c, fiber.StatusNotFound,
			models.NewNotFoundError("thread kind", scope.Kind))
		return nil, errResponseWritten
	}
	return engine, nil
}

// respondError writes err with the status its AppError code maps to.
func respondError(c *fiber.Ctx, err error) error {
	return models.RespondWithError(c, models.StatusFor(err), err)
}

// humanizeParam converts a route param name into a human-readable label.
// Examples: "id" -> "ID", "commentId" -> "comment ID".
func humanizeParam(param string) string {
	if param == "id" {
		return "ID"
	}
	if strings.HasSuffix(param, "Id") {
		prefix := param[:len(param)-2]
		words := splitCamel(prefix)
		return strings.ToLower(strings.Join(words, " ")) + " ID"
	}
	return param
}

// splitCamel splits a camelCase string into words.
func splitCamel(s string) []string {
	var words []string
	start := 0
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			words = append(words, s[start:i])
			start = i
		}
	}
	words = append(words, s[start:])
	return words
}
