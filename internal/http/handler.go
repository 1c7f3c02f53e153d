package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"risk-assessment-service/internal/config"
	"risk-assessment-service/internal/domain/assessment"
	"risk-assessment-service/internal/export"
	"risk-assessment-service/internal/http/middleware"
	"risk-assessment-service/internal/service"
	"risk-assessment-service/internal/utils"
)

type Handler struct {
	assessments *service.AssessmentService
	config      *config.Config
	log         zerolog.Logger
}

func NewHandler(
	assessments *service.AssessmentService,
	cfg *config.Config,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		assessments: assessments,
		config:      cfg,
		log:         log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	// Public endpoints
	public := r.Group("/api/v1")
	{
		public.POST("/assessments", h.createAssessment)
		public.GET("/assessments", h.listAssessments)
		public.GET("/assessments/:id", h.getAssessment)
		public.GET("/assessments/:id/image", h.getAssessmentImage)
		public.GET("/assessments/:id/export", h.exportAssessment)
		public.GET("/models", h.listModels)
	}

	// Protected endpoints
	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.DELETE("/assessments/:id", h.deleteAssessment)
	}
}

func (h *Handler) createAssessment(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.config.HTTP.MaxUploadBytes)

	fileHeader, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("image file is required"))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.log.Error().Err(err).Msg("failed to open uploaded image")
		c.JSON(http.StatusBadRequest, errorResponse("unreadable image upload"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to read uploaded image")
		c.JSON(http.StatusBadRequest, errorResponse("unreadable image upload"))
		return
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	upload := assessment.Upload{
		ImageName: utils.SanitizeFileName(fileHeader.Filename),
		MIMEType:  mimeType,
		Data:      data,
		ModelID:   strings.TrimSpace(c.PostForm("model")),
		Force:     parseBool(c.PostForm("force")),
	}

	h.log.Info().
		Str("image_name", upload.ImageName).
		Str("mime_type", upload.MIMEType).
		Int("image_bytes", len(upload.Data)).
		Bool("force", upload.Force).
		Msg("processing assessment upload")

	record, created, err := h.assessments.Analyze(c.Request.Context(), upload)
	if err != nil {
		h.handleError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"status":  "ok",
		"created": created,
		"data":    recordResponse(record, true),
	})
}

func (h *Handler) listAssessments(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	offset := 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	records, err := h.assessments.History(c.Request.Context(), limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}

	summaries := make([]gin.H, 0, len(records))
	for i := range records {
		summaries = append(summaries, recordResponse(&records[i], false))
	}
	c.JSON(http.StatusOK, successResponse(summaries))
}

func (h *Handler) getAssessment(c *gin.Context) {
	id, ok := h.recordID(c)
	if !ok {
		return
	}

	record, err := h.assessments.Get(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(recordResponse(record, true)))
}

func (h *Handler) getAssessmentImage(c *gin.Context) {
	id, ok := h.recordID(c)
	if !ok {
		return
	}

	record, err := h.assessments.Get(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", record.ImageName))
	c.Data(http.StatusOK, record.ImageMIME, record.ImageData)
}

func (h *Handler) exportAssessment(c *gin.Context) {
	id, ok := h.recordID(c)
	if !ok {
		return
	}

	record, err := h.assessments.Get(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	workbook, err := export.AssessmentWorkbook(record)
	if err != nil {
		h.log.Error().Err(err).Str("record_id", id.String()).Msg("failed to build export workbook")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}

	filename := fmt.Sprintf("risk-assessment-%s.xlsx", id)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", workbook)
}

func (h *Handler) deleteAssessment(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok || !principal.CanManageAssessments() {
		c.JSON(http.StatusForbidden, errorResponse("insufficient role"))
		return
	}

	id, idOK := h.recordID(c)
	if !idOK {
		return
	}

	if err := h.assessments.Delete(c.Request.Context(), id); err != nil {
		h.handleError(c, err)
		return
	}

	h.log.Info().
		Str("record_id", id.String()).
		Str("user_id", principal.UserID.String()).
		Msg("assessment deleted by user")

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) listModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"default": h.config.AI.DefaultModel,
		"models":  h.config.AI.AvailableModels,
	})
}

func (h *Handler) recordID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid assessment id"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotConfigured):
		c.JSON(http.StatusServiceUnavailable, errorResponse("analysis backend is not configured"))
	case errors.Is(err, service.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, errorResponse("analysis for this image is already running"))
	case errors.Is(err, service.ErrAnalysisFailed):
		h.log.Error().Err(err).Msg("analysis failed")
		c.JSON(http.StatusBadGateway, errorResponse("analysis failed"))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

// recordResponse shapes one record for JSON. List responses skip the hazard
// geometry to stay small; detail responses carry everything but the image
// bytes, which have their own endpoint.
func recordResponse(record *assessment.Record, includeHazards bool) gin.H {
	resp := gin.H{
		"id":            record.ID,
		"title":         record.Title,
		"image_name":    record.ImageName,
		"image_mime":    record.ImageMIME,
		"model_id":      record.ModelID,
		"hazard_count":  len(record.Hazards),
		"highest_level": record.HighestLevel(),
		"created_at":    record.CreatedAt,
	}
	if record.SnapshotURL != nil {
		resp["snapshot_url"] = *record.SnapshotURL
	}
	if includeHazards {
		resp["hazards"] = record.Hazards
	}
	return resp
}

func parseBool(value string) bool {
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	return err == nil && parsed
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}
