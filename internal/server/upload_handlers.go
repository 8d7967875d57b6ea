package server

import (
	"io"

	"lingochat/internal/models"
	"lingochat/internal/storage"

	"github.com/gofiber/fiber/v2"
)

// UploadAttachment handles POST /api/chat/uploads. The returned attachment is
// sent back with a chat message; the file itself is served from /uploads/chat.
// @Summary Upload a chat attachment
// @Tags Chat
// @Security BearerAuth
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Attachment"
// @Success 201 {object} map[string]interface{}
// @Router /chat/uploads [post]
func (s *Server) UploadAttachment(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return respondError(c, models.NewValidationError("No file uploaded"))
	}
	if file.Size > s.uploads.MaxBytes() {
		return respondError(c, models.NewValidationError("File too large"))
	}

	src, err := file.Open()
	if err != nil {
		return respondError(c, models.NewValidationError("Unable to read uploaded file"))
	}
	defer func() { _ = src.Close() }()

	content, err := io.ReadAll(io.LimitReader(src, s.uploads.MaxBytes()+1))
	if err != nil {
		return respondError(c, models.NewValidationError("Unable to read uploaded file"))
	}

	attachment, err := s.uploads.Save(c.UserContext(), storage.SaveInput{
		Filename:    file.Filename,
		ContentType: file.Header.Get(fiber.HeaderContentType),
		Content:     content,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"attachment": attachment})
}
