package server

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/hookrelay/hookrelay/internal/domain"
	"github.com/hookrelay/hookrelay/internal/security"
	"github.com/hookrelay/hookrelay/internal/store"
)

type createDestinationRequest struct {
	OwnerID   string `json:"owner_id"`
	URL       string `json:"url"`
	Provider  string `json:"provider"`
	Secret    string `json:"secret"`
	RateLimit int    `json:"rate_limit"`
}

type updateDestinationRequest struct {
	URL       *string `json:"url"`
	Provider  *string `json:"provider"`
	Secret    *string `json:"secret"`
	Active    *bool   `json:"active"`
	RateLimit *int    `json:"rate_limit"`
}

type destinationResponse struct {
	ID                   string    `json:"id"`
	OwnerID              string    `json:"owner_id"`
	URL                  string    `json:"url"`
	Provider             string    `json:"provider"`
	Secret               string    `json:"secret,omitempty"`
	Active               bool      `json:"active"`
	Paused               bool      `json:"paused"`
	RateLimit            int       `json:"rate_limit"`
	ArchivedSuccessCount int64     `json:"archived_success_count"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func toDestinationResponse(d *domain.Destination) destinationResponse {
	return destinationResponse{
		ID:                   d.ID,
		OwnerID:              d.OwnerID,
		URL:                  d.URL,
		Provider:             string(d.Provider),
		Secret:               d.Secret,
		Active:               d.Active,
		Paused:               d.Paused,
		RateLimit:            d.RateLimit,
		ArchivedSuccessCount: d.ArchivedSuccessCount,
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
	}
}

func parseProvider(raw string) (domain.Provider, bool) {
	switch domain.Provider(raw) {
	case "", domain.ProviderGeneric:
		return domain.ProviderGeneric, true
	case domain.ProviderStripe:
		return domain.ProviderStripe, true
	}
	return "", false
}

func (s *Server) createDestination(c *fiber.Ctx) error {
	var req createDestinationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.OwnerID == "" {
		return badRequest(c, "owner_id is required")
	}
	if req.URL == "" {
		return badRequest(c, "url is required")
	}
	provider, ok := parseProvider(req.Provider)
	if !ok {
		return badRequest(c, "unknown provider")
	}
	if req.RateLimit < 0 {
		return badRequest(c, "rate_limit must not be negative")
	}

	if !s.checker.IsSafe(c.UserContext(), req.URL) {
		return badRequest(c, "url resolves to a disallowed network")
	}

	secret := req.Secret
	if secret == "" && provider != domain.ProviderGeneric {
		generated, err := security.GenerateSecret()
		if err != nil {
			return internalError(c, err)
		}
		secret = generated
	}

	now := time.Now()
	dest := &domain.Destination{
		ID:        uuid.New().String(),
		OwnerID:   req.OwnerID,
		URL:       req.URL,
		Provider:  provider,
		Secret:    secret,
		Active:    true,
		RateLimit: req.RateLimit,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.destinations.Create(c.UserContext(), dest); err != nil {
		return internalError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(toDestinationResponse(dest))
}

func (s *Server) getDestination(c *fiber.Ctx) error {
	dest, err := s.destinations.GetByID(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound(c, "destination")
		}
		return internalError(c, err)
	}
	return c.JSON(toDestinationResponse(dest))
}

func (s *Server) listDestinations(c *fiber.Ctx) error {
	ownerID := c.Query("owner_id")
	if ownerID == "" {
		return badRequest(c, "owner_id is required")
	}
	dests, err := s.destinations.ListByOwner(c.UserContext(), ownerID)
	if err != nil {
		return internalError(c, err)
	}
	out := make([]destinationResponse, 0, len(dests))
	for _, d := range dests {
		out = append(out, toDestinationResponse(d))
	}
	return c.JSON(fiber.Map{"destinations": out})
}

func (s *Server) updateDestination(c *fiber.Ctx) error {
	var req updateDestinationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	dest, err := s.destinations.GetByID(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound(c, "destination")
		}
		return internalError(c, err)
	}

	if req.URL != nil && *req.URL != dest.URL {
		// edited URLs go through the same gate as new ones
		if !s.checker.IsSafe(c.UserContext(), *req.URL) {
			return badRequest(c, "url resolves to a disallowed network")
		}
		dest.URL = *req.URL
	}
	if req.Provider != nil {
		provider, ok := parseProvider(*req.Provider)
		if !ok {
			return badRequest(c, "unknown provider")
		}
		dest.Provider = provider
	}
	if req.Secret != nil {
		dest.Secret = *req.Secret
	}
	if req.Active != nil {
		dest.Active = *req.Active
	}
	if req.RateLimit != nil {
		if *req.RateLimit < 0 {
			return badRequest(c, "rate_limit must not be negative")
		}
		dest.RateLimit = *req.RateLimit
	}
	dest.UpdatedAt = time.Now()

	if err := s.destinations.Update(c.UserContext(), dest); err != nil {
		return internalError(c, err)
	}
	s.pipeline.InvalidateCache(c.UserContext(), dest.ID)
	return c.JSON(toDestinationResponse(dest))
}

func (s *Server) deleteDestination(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.destinations.Delete(c.UserContext(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound(c, "destination")
		}
		return internalError(c, err)
	}
	s.pipeline.InvalidateCache(c.UserContext(), id)
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) pauseDestination(c *fiber.Ctx) error {
	return s.setPaused(c, true)
}

func (s *Server) resumeDestination(c *fiber.Ctx) error {
	return s.setPaused(c, false)
}

func (s *Server) setPaused(c *fiber.Ctx, paused bool) error {
	flushed, err := s.lifecycle.SetPaused(c.UserContext(), c.Params("id"), paused)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound(c, "destination")
		}
		return internalError(c, err)
	}
	return c.JSON(fiber.Map{"paused": paused, "flushed": flushed})
}

func (s *Server) recoverDestination(c *fiber.Ctx) error {
	recovered, err := s.lifecycle.Recover(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound(c, "destination")
		}
		return internalError(c, err)
	}
	return c.JSON(fiber.Map{"recovered": recovered})
}
