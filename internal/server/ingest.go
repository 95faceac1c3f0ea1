package server

import (
	"errors"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"

	"github.com/hookrelay/hookrelay/internal/domain"
	"github.com/hookrelay/hookrelay/internal/store"
)

// ingestEvent accepts one inbound webhook. The body bytes are passed through
// untouched so provider signatures stay verifiable.
func (s *Server) ingestEvent(c *fiber.Ctx) error {
	destinationID := c.Params("destinationID")

	// fiber reuses the request buffer after the handler returns
	body := append([]byte(nil), c.Body()...)
	if len(body) == 0 {
		return badRequest(c, "empty body")
	}
	// the payload column is JSONB; reject non-JSON before it reaches the store
	if !json.Valid(body) {
		return badRequest(c, "body must be valid JSON")
	}

	headers := make(map[string]string)
	c.Request().Header.VisitAll(func(key, value []byte) {
		headers[string(key)] = string(value)
	})

	eventID, err := s.pipeline.Ingest(c.UserContext(), destinationID, body, headers, body)
	switch {
	case err == nil:
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"event_id": eventID})
	case errors.Is(err, domain.ErrInvalidSignature):
		return badRequest(c, "signature verification failed")
	case errors.Is(err, store.ErrNotFound):
		return notFound(c, "destination")
	default:
		return internalError(c, err)
	}
}
