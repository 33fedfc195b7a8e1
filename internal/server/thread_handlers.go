package server

import (
	"colloquy/internal/identity"
	"colloquy/internal/models"
	"colloquy/internal/thread"

	"github.com/gofiber/fiber/v2"
)

type contentRequest struct {
	Content string `json:"content"`
}

type reactionRequest struct {
	Like *bool `json:"like"`
}

// GetThread returns the assembled thread for the current viewer. Anonymous
// viewers get an unresolved snapshot rather than a 401.
func (s *Server) GetThread(c *fiber.Ctx) error {
	engine, err := s.engineFor(c)
	if err != nil {
		return nil
	}
	threadID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	page, paged, err := parsePage(c)
	if err != nil {
		return nil
	}

	var snap thread.Snapshot
	if paged {
		snap = engine.LoadThreadPage(c.UserContext(), threadID, page)
	} else {
		snap = engine.LoadThread(c.UserContext(), threadID)
	}

	if snap.State == thread.StateFailed {
		return respondError(c, snap.Err)
	}
	return c.JSON(snap)
}

// GetReplies returns the replies of one comment of the thread, oldest first.
func (s *Server) GetReplies(c *fiber.Ctx) error {
	engine, err := s.engineFor(c)
	if err != nil {
		return nil
	}
	threadID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	commentID, err := parseID(c, "commentId")
	if err != nil {
		return nil
	}

	replies, err := engine.LoadReplies(c.UserContext(), threadID, commentID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"comment_id": commentID,
		"replies":    replies,
	})
}

// CreateComment posts a top-level comment. The new comment is not returned;
// clients see it on their next reload.
func (s *Server) CreateComment(c *fiber.Ctx) error {
	engine, err := s.engineFor(c)
	if err != nil {
		return nil
	}
	threadID, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	content, err := parseContent(c)
	if err != nil {
		return nil
	}

	if err := engine.AddComment(c.UserContext(), threadID, content); err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
}

// CreateReply posts a reply to a top-level comment.
func (s *Server) CreateReply(c *fiber.Ctx) error {
	engine, err := s.engineFor(c)
	if err != nil {
		return nil
	}
	threadID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	parentID, err := parseID(c, "commentId")
	if err != nil {
		return nil
	}

	content, err := parseContent(c)
	if err != nil {
		return nil
	}

	if err := engine.AddReply(c.UserContext(), threadID, parentID, content); err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
}

// ToggleReaction applies a like (like=true) or dislike (like=false) toggle
// and returns the viewer's resulting reaction.
func (s *Server) ToggleReaction(c *fiber.Ctx) error {
	engine, err := s.engineFor(c)
	if err != nil {
		return nil
	}
	commentID, err := parseID(c, "commentId")
	if err != nil {
		return nil
	}

	var req reactionRequest
	if parseErr := c.BodyParser(&req); parseErr != nil || req.Like == nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Request body must contain a boolean \"like\""))
	}

	state, err := engine.ToggleReaction(c.UserContext(), commentID, *req.Like)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"comment_id": commentID,
		"reaction":   state,
	})
}

// GetMyFlags evaluates the feature flags for the current viewer.
func (s *Server) GetMyFlags(c *fiber.Ctx) error {
	var viewerID uint
	if v, ok := identity.FromContext(c.UserContext()); ok {
		viewerID = v.ID
	}
	return c.JSON(fiber.Map{"flags": s.flags.Snapshot(viewerID)})
}
