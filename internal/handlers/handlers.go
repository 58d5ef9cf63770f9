package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/aiscore/internal/auth"
	"github.com/example/aiscore/internal/repository"
	"github.com/example/aiscore/internal/usecase"
)

// MaxUploadSize bounds the JSON upload body when no limit is configured.
const MaxUploadSize = 10 << 20

// IntakeService is the upload side of the pipeline.
type IntakeService interface {
	Submit(ctx context.Context, filename string, data []byte) (uint, error)
}

// QueryService is the polling side of the pipeline.
type QueryService interface {
	Query(ctx context.Context, jobID uint) (*usecase.Snapshot, error)
	GetDuplicateReport(ctx context.Context, jobID uint) (*usecase.DuplicateReport, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// Routes collects what RegisterRoutes wires. Auth and Metrics are optional.
type Routes struct {
	Intake       IntakeService
	Query        QueryService
	Metrics      http.Handler
	Auth         gin.HandlerFunc
	MaxBodyBytes int64
	Logger       *zap.Logger
}

type uploadRequest struct {
	Filename string `json:"filename" binding:"required"`
	Data     string `json:"data" binding:"required"`
}

type snapshotResponse struct {
	FileName     string                      `json:"file_name"`
	ByteSize     int64                       `json:"byte_size"`
	TimeUploaded string                      `json:"time_uploaded"`
	Status       repository.PredictionStatus `json:"status"`
	Score        *float64                    `json:"score,omitempty"`
	ModelVersion string                      `json:"model_version,omitempty"`
	ErrorReason  string                      `json:"error_reason,omitempty"`
	AssetBytes   []byte                      `json:"asset_bytes,omitempty"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, r Routes) {
	if r.MaxBodyBytes <= 0 {
		r.MaxBodyBytes = MaxUploadSize
	}
	if r.Logger == nil {
		r.Logger = zap.NewNop()
	}
	logger := r.Logger.Named("http")

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if r.Metrics != nil {
		router.GET("/metrics", gin.WrapH(r.Metrics))
	}

	api := router.Group("/")
	if r.Auth != nil {
		api.Use(r.Auth)
	}

	api.POST("/upload", func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, r.MaxBodyBytes)

		var req uploadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "filename and data are required", "code": "validation_error"})
			return
		}

		data, err := base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "data must be base64 encoded", "code": "validation_error"})
			return
		}

		jobID, err := r.Intake.Submit(c.Request.Context(), req.Filename, data)
		if err != nil {
			writeError(c, err)
			return
		}

		fields := []zap.Field{zap.Uint("job_id", jobID)}
		if subject, ok := auth.GetUserID(c.Request.Context()); ok {
			fields = append(fields, zap.String("subject", subject))
		}
		logger.Info("upload accepted", fields...)
		c.JSON(http.StatusOK, gin.H{"imageID": jobID})
	})

	api.GET("/retrieve/:image_id", func(c *gin.Context) {
		jobID, ok := parseJobID(c)
		if !ok {
			return
		}

		snap, err := r.Query.Query(c.Request.Context(), jobID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, toResponse(snap))
	})

	api.GET("/retrieve/:image_id/duplicates", func(c *gin.Context) {
		jobID, ok := parseJobID(c)
		if !ok {
			return
		}

		report, err := r.Query.GetDuplicateReport(c.Request.Context(), jobID)
		if err != nil {
			writeError(c, err)
			return
		}

		duplicates := make([]gin.H, 0, len(report.Duplicates))
		for _, d := range report.Duplicates {
			duplicates = append(duplicates, gin.H{
				"imageID":       d.JobID,
				"file_name":     d.FileName,
				"status":        d.Status,
				"time_uploaded": d.TimeUploaded.Format(time.RFC3339),
			})
		}
		c.JSON(http.StatusOK, gin.H{
			"imageID":    report.Request.JobID,
			"duplicates": duplicates,
		})
	})

	api.GET("/stats", func(c *gin.Context) {
		summary, err := r.Query.GetMetricsSummary(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func parseJobID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("image_id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image_id must be a positive integer", "code": "validation_error"})
		return 0, false
	}
	return uint(id), true
}

func toResponse(snap *usecase.Snapshot) snapshotResponse {
	resp := snapshotResponse{
		FileName:     snap.FileName,
		ByteSize:     snap.ByteSize,
		TimeUploaded: snap.TimeUploaded.Format(time.RFC3339),
		Status:       snap.Status,
	}
	switch snap.Status {
	case repository.StatusComplete:
		resp.Score = snap.Score
		resp.ModelVersion = snap.ModelVersion
		resp.AssetBytes = snap.Asset
	case repository.StatusError:
		resp.ErrorReason = snap.ErrorReason
	}
	return resp
}

// writeError maps the error taxonomy onto the public contract, which
// reports every failure as 400 and distinguishes kinds in the body.
func writeError(c *gin.Context, err error) {
	code := "upstream_error"
	message := "request could not be completed"
	switch {
	case errors.Is(err, usecase.ErrValidation):
		code, message = "validation_error", err.Error()
	case errors.Is(err, usecase.ErrNotFound):
		code, message = "not_found", "no such image"
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": message, "code": code})
}
