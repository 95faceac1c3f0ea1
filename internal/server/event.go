package server

import (
	"bufio"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/hookrelay/hookrelay/internal/domain"
	"github.com/hookrelay/hookrelay/internal/events"
	"github.com/hookrelay/hookrelay/internal/store"
)

type eventResponse struct {
	ID            string            `json:"id"`
	DestinationID string            `json:"destination_id"`
	Payload       json.RawMessage   `json:"payload"`
	Headers       map[string]string `json:"headers,omitempty"`
	Status        string            `json:"status"`
	ReceivedAt    time.Time         `json:"received_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

func toEventResponse(e *domain.Event) eventResponse {
	return eventResponse{
		ID:            e.ID,
		DestinationID: e.DestinationID,
		Payload:       e.Payload,
		Headers:       e.Headers,
		Status:        string(e.Status),
		ReceivedAt:    e.ReceivedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

type attemptResponse struct {
	ID              string    `json:"id"`
	EventID         string    `json:"event_id"`
	StatusCode      *int      `json:"status_code"`
	ResponseSummary string    `json:"response_summary,omitempty"`
	Success         bool      `json:"success"`
	AttemptedAt     time.Time `json:"attempted_at"`
}

func (s *Server) getEvent(c *fiber.Ctx) error {
	event, err := s.eventStore.GetByID(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound(c, "event")
		}
		return internalError(c, err)
	}
	return c.JSON(toEventResponse(event))
}

func (s *Server) listEvents(c *fiber.Ctx) error {
	destinationID := c.Query("destination_id")
	if destinationID == "" {
		return badRequest(c, "destination_id is required")
	}
	status := domain.EventStatus(c.Query("status"))
	limit := c.QueryInt("limit", 100)
	if limit <= 0 || limit > 1000 {
		return badRequest(c, "limit must be between 1 and 1000")
	}

	list, err := s.eventStore.ListByDestination(c.UserContext(), destinationID, status, limit)
	if err != nil {
		return internalError(c, err)
	}
	out := make([]eventResponse, 0, len(list))
	for _, e := range list {
		out = append(out, toEventResponse(e))
	}
	return c.JSON(fiber.Map{"events": out})
}

func (s *Server) listAttempts(c *fiber.Ctx) error {
	eventID := c.Params("id")
	if _, err := s.eventStore.GetByID(c.UserContext(), eventID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound(c, "event")
		}
		return internalError(c, err)
	}

	attempts, err := s.attempts.ListByEvent(c.UserContext(), eventID)
	if err != nil {
		return internalError(c, err)
	}
	out := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, attemptResponse{
			ID:              a.ID,
			EventID:         a.EventID,
			StatusCode:      a.StatusCode,
			ResponseSummary: a.ResponseSummary,
			Success:         a.Success,
			AttemptedAt:     a.AttemptedAt,
		})
	}
	return c.JSON(fiber.Map{"attempts": out})
}

func (s *Server) replayEvent(c *fiber.Ctx) error {
	err := s.lifecycle.Replay(c.UserContext(), c.Params("id"))
	switch {
	case err == nil:
		return c.JSON(fiber.Map{"replayed": true})
	case errors.Is(err, store.ErrNotFound):
		return notFound(c, "event")
	case errors.Is(err, domain.ErrInvalidTransition):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "only FAILED events can be replayed"})
	default:
		return internalError(c, err)
	}
}

// watch streams delivery status updates as server-sent events, optionally
// filtered by event_id or destination_id.
func (s *Server) watch(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	sub := &events.Subscriber{
		ID:            uuid.New().String(),
		EventID:       c.Query("event_id"),
		DestinationID: c.Query("destination_id"),
		Events:        make(chan events.DeliveryEvent, 64),
	}
	hub := s.hub
	hub.Subscribe(sub)

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer hub.Unsubscribe(sub.ID)

		keepAlive := time.NewTicker(15 * time.Second)
		defer keepAlive.Stop()

		for {
			select {
			case ev, ok := <-sub.Events:
				if !ok {
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "data: %s\n\n", data)
				if err := w.Flush(); err != nil {
					return
				}
			case <-keepAlive.C:
				fmt.Fprint(w, ": keep-alive\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))
	return nil
}
