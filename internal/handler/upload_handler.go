package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/enrollment-api/internal/service"
	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
	"github.com/noah-isme/enrollment-api/pkg/response"
)

// multipartOverhead leaves room for boundaries and the student_id field.
const multipartOverhead = 64 << 10

// UploadHandler accepts profile picture uploads.
type UploadHandler struct {
	pictures *service.ProfilePictureService
}

// NewUploadHandler constructs an UploadHandler.
func NewUploadHandler(pictures *service.ProfilePictureService) *UploadHandler {
	return &UploadHandler{pictures: pictures}
}

// ProfilePicture godoc
// @Summary Upload a student profile picture
// @Description Replaces the current picture. JPEG, PNG, GIF and WebP are accepted; the type is detected from content.
// @Tags Uploads
// @Security BearerAuth
// @Accept multipart/form-data
// @Produce json
// @Param student_id formData string true "Student ID"
// @Param file formData file true "Image file"
// @Success 200 {object} response.Envelope{data=service.StudentView}
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Failure 415 {object} response.Envelope
// @Router /uploads/profile-picture [post]
func (h *UploadHandler) ProfilePicture(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.pictures.MaxBytes()+multipartOverhead)

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, appErrors.Clone(appErrors.ErrPayloadTooLarge, "file too large"))
			return
		}
		response.Error(c, invalidPayload(err, "file is required"))
		return
	}
	studentID := strings.TrimSpace(c.PostForm("student_id"))
	if studentID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "student_id is required"))
		return
	}

	file, err := header.Open()
	if err != nil {
		response.Error(c, invalidPayload(err, "failed to read file"))
		return
	}
	defer file.Close()

	view, err := h.pictures.Upload(c.Request.Context(), studentID, file)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view)
}
