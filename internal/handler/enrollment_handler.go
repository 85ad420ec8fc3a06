package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/enrollment-api/internal/service"
	"github.com/noah-isme/enrollment-api/pkg/response"
)

// EnrollmentHandler exposes enrollment endpoints.
type EnrollmentHandler struct {
	service *service.EnrollmentService
}

// NewEnrollmentHandler constructs an EnrollmentHandler.
func NewEnrollmentHandler(svc *service.EnrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{service: svc}
}

// List godoc
// @Summary List enrollments
// @Tags Enrollments
// @Security BearerAuth
// @Produce json
// @Param skip query int false "Records to skip"
// @Param limit query int false "Page size (max 1000)"
// @Success 200 {object} response.Envelope{data=[]models.EnrollmentDetail}
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	page, err := bindPage(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	items, total, page, err := h.service.List(c.Request.Context(), page)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, items, page, total)
}

// Create godoc
// @Summary Enroll a student
// @Tags Enrollments
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body service.EnrollmentRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope{data=models.Enrollment}
// @Failure 400 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Create(c *gin.Context) {
	var req service.EnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid payload"))
		return
	}
	enrollment, err := h.service.Enroll(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Delete godoc
// @Summary Unenroll a student
// @Tags Enrollments
// @Security BearerAuth
// @Param student_id query string true "Student ID"
// @Param course_id query string true "Course ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /enrollments [delete]
func (h *EnrollmentHandler) Delete(c *gin.Context) {
	var req service.EnrollmentRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid query"))
		return
	}
	if err := h.service.Unenroll(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
