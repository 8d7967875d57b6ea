package server

import (
	"github.com/gofiber/fiber/v2"
)

// GetPresence reports whether a user is connected to this process and, when
// the presence mirror is enabled, when they were last seen.
func (s *Server) GetPresence(c *fiber.Ctx) error {
	userID := c.Params("userId")
	body := fiber.Map{
		"userId": userID,
		"online": s.registry.IsOnline(userID),
	}
	if seen, ok := s.registry.LastSeen(c.UserContext(), userID); ok {
		body["lastSeen"] = seen
	}
	return c.JSON(body)
}
