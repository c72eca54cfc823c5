package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/castline/castline/internal/models"
	"github.com/castline/castline/internal/service"
)

type triggerRequest struct {
	CurrentTime *time.Time `json:"currentTime"`
	Source      string     `json:"source"`
}

type createPostRequest struct {
	Caption     string    `json:"caption"`
	MediaURL    string    `json:"mediaUrl" binding:"required"`
	MediaType   string    `json:"mediaType"`
	Platforms   []string  `json:"platforms" binding:"required,min=1"`
	ScheduledAt time.Time `json:"scheduledAt" binding:"required"`

	// Instagram options
	IsReel   bool     `json:"isReel"`
	Hashtags []string `json:"hashtags"`
	Mentions []string `json:"mentions"`

	// YouTube options
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Privacy      string   `json:"privacy"`
	IsShort      bool     `json:"isShort"`
	Tags         []string `json:"tags"`
	ThumbnailURL string   `json:"thumbnailUrl"`
}

func (s *Server) handleCronDispatch(c *gin.Context) {
	var req triggerRequest
	// Body is optional; a bare POST dispatches as of now
	_ = c.ShouldBindJSON(&req)

	now := time.Now()
	if req.CurrentTime != nil {
		now = *req.CurrentTime
	}

	report, err := s.Dispatcher.RunCycle(c.Request.Context(), now, s.Config.Dispatcher.MaxJobsPerCycle)
	if err != nil {
		s.Logger.Error("Dispatch cycle failed",
			zap.String("source", req.Source),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "dispatch cycle failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":              true,
		"processedCount":       report.ProcessedCount,
		"stillProcessingCount": report.StillProcessingCount,
		"failedCount":          report.FailedCount,
	})
}

func (s *Server) handleCronPoll(c *gin.Context) {
	var req triggerRequest
	_ = c.ShouldBindJSON(&req)

	now := time.Now()
	if req.CurrentTime != nil {
		now = *req.CurrentTime
	}

	report, err := s.Poller.RunPass(c.Request.Context(), now, s.Config.Dispatcher.MaxJobsPerCycle)
	if err != nil {
		s.Logger.Error("Poller pass failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "poller pass failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":              true,
		"finalizedCount":       report.FinalizedCount,
		"failedCount":          report.FailedCount,
		"stillProcessingCount": report.StillProcessingCount,
	})
}

func (s *Server) handleCronRefresh(c *gin.Context) {
	report, err := s.Refresher.RunPass(c.Request.Context())
	if err != nil {
		s.Logger.Error("Refresher pass failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "refresher pass failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"refreshedCount":   report.RefreshedCount,
		"deactivatedCount": report.DeactivatedCount,
		"skippedCount":     report.SkippedCount,
	})
}

// handleCreatePost schedules one job per requested platform so each platform
// can succeed, fail and be retried independently.
func (s *Server) handleCreatePost(c *gin.Context) {
	ownerID := c.GetString("owner_id")

	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mediaType := models.MediaType(req.MediaType)
	if mediaType == "" {
		mediaType = models.MediaTypeImage
	}

	created := make([]gin.H, 0, len(req.Platforms))
	for _, name := range req.Platforms {
		job := &models.ContentJob{
			OwnerID:     ownerID,
			Platform:    models.Platform(name),
			MediaURL:    req.MediaURL,
			MediaType:   mediaType,
			Caption:     req.Caption,
			ScheduledAt: req.ScheduledAt,
			Instagram: models.InstagramOptions{
				IsReel:   req.IsReel,
				Hashtags: req.Hashtags,
				Mentions: req.Mentions,
			},
			YouTube: models.YouTubeOptions{
				Tags:         req.Tags,
				Title:        req.Title,
				Description:  req.Description,
				Privacy:      req.Privacy,
				IsShort:      req.IsShort,
				ThumbnailURL: req.ThumbnailURL,
			},
		}

		if err := s.JobStore.Create(c.Request.Context(), job); err != nil {
			var verr *service.ValidationError
			if errors.As(err, &verr) {
				c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
				return
			}
			s.Logger.Error("Failed to create job", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to schedule post"})
			return
		}

		// Best-effort mirror into the fast queue; the store write above is
		// what counts.
		s.FastQueue.Enqueue(c.Request.Context(), service.QueueEntry{
			JobID:       job.ID,
			OwnerID:     job.OwnerID,
			Platform:    job.Platform,
			MediaURL:    job.MediaURL,
			Caption:     job.Caption,
			ScheduledAt: job.ScheduledAt,
		})

		created = append(created, gin.H{"id": job.ID, "platform": job.Platform})
	}

	c.JSON(http.StatusCreated, gin.H{"jobs": created})
}

func (s *Server) handleListPosts(c *gin.Context) {
	ownerID := c.GetString("owner_id")

	jobs, err := s.JobStore.ListByOwner(c.Request.Context(), ownerID, 100)
	if err != nil {
		s.Logger.Error("Failed to list jobs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list posts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *Server) handleGetPost(c *gin.Context) {
	ownerID := c.GetString("owner_id")

	job, err := s.JobStore.Get(c.Request.Context(), c.Param("id"), ownerID)
	if errors.Is(err, service.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}
	if err != nil {
		s.Logger.Error("Failed to load job", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load post"})
		return
	}

	c.JSON(http.StatusOK, job)
}

func (s *Server) handleCancelPost(c *gin.Context) {
	ownerID := c.GetString("owner_id")

	err := s.JobStore.Cancel(c.Request.Context(), c.Param("id"), ownerID)
	switch {
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
	case errors.Is(err, service.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": "post can only be cancelled while scheduled"})
	case err != nil:
		s.Logger.Error("Failed to cancel job", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel post"})
	default:
		c.JSON(http.StatusOK, gin.H{"cancelled": true})
	}
}

func (s *Server) handleRetryPost(c *gin.Context) {
	ownerID := c.GetString("owner_id")

	err := s.JobStore.Retry(c.Request.Context(), c.Param("id"), ownerID)
	switch {
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
	case errors.Is(err, service.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": "only failed or cancelled posts can be retried"})
	case err != nil:
		s.Logger.Error("Failed to retry job", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retry post"})
	default:
		c.JSON(http.StatusOK, gin.H{"retried": true})
	}
}

func (s *Server) handleGetStats(c *gin.Context) {
	if err := s.JobStore.UpdateDailyStats(c.Request.Context(), time.Now()); err != nil {
		s.Logger.Warn("Failed to refresh daily stats", zap.Error(err))
	}

	stats, err := s.JobStore.GetRecentStats(c.Request.Context(), 30)
	if err != nil {
		s.Logger.Error("Failed to load stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"stats": stats})
}
