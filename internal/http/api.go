package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"hls-offline/internal/domain"
	"hls-offline/internal/downloader"
	"hls-offline/internal/repository"
	"hls-offline/internal/service"
	"hls-offline/internal/storage"
)

const playlistURLTTL = time.Hour

// Deps are the collaborators of the REST API. Storage may be nil when uploads are disabled.
type Deps struct {
	Jobs     service.JobService
	Settings service.SettingsService
	Users    service.UserService
	Tokens   *service.TokenService
	Manager  downloader.Manager
	FS       storage.FileSystem
	Storage  storage.Service
	Bucket   string
	DataRoot string
	Logger   *logrus.Logger
}

// Handler wires HTTP routes to domain services.
type Handler struct {
	Deps
}

func NewHandler(deps Deps) *Handler {
	if deps.FS == nil {
		deps.FS = storage.NewLocalFS()
	}
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	return &Handler{Deps: deps}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": "ok"})
	})
	api.POST("/auth/register", h.register)
	api.POST("/auth/login", h.login)

	authed := api.Group("", h.authMiddleware())
	{
		authed.POST("/downloads", h.createDownload)
		authed.GET("/downloads", h.listDownloads)
		authed.GET("/downloads/:id", h.getDownload)
		authed.GET("/downloads/:id/manifest", h.getManifest)
		authed.GET("/downloads/:id/playlist-url", h.getPlaylistURL)
		authed.DELETE("/downloads/:id", h.deleteDownload)
		authed.GET("/settings/quality", h.getQuality)
		authed.PUT("/settings/quality", h.setQuality)
		authed.GET("/storage/objects", h.listObjects)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

type createDownloadRequest struct {
	URL     string            `json:"url" binding:"required"`
	Headers map[string]string `json:"headers"`
	Quality string            `json:"quality"`
}

func (h *Handler) createDownload(c *gin.Context) {
	var req createDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.Jobs.CreateJob(c.Request.Context(), service.CreateJobInput{
		SourceURL: req.URL,
		Headers:   req.Headers,
		Quality:   req.Quality,
		DataRoot:  h.DataRoot,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidSourceURL) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	handle, err := h.Manager.Enqueue(c.Request.Context(), job.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.Logger.WithField("job_id", job.ID).Infof("download queued: %s", job.SourceURL)
	c.JSON(http.StatusAccepted, jobToResponse(*job, handle))
}

func (h *Handler) listDownloads(c *gin.Context) {
	jobs, err := h.Jobs.ListJobs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]JobResponse, len(jobs))
	for i := range jobs {
		handle, _ := h.Manager.Handle(jobs[i].ID)
		resp[i] = jobToResponse(jobs[i], handle)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getDownload(c *gin.Context) {
	job, ok := h.lookupJob(c)
	if !ok {
		return
	}
	handle, _ := h.Manager.Handle(job.ID)
	c.JSON(http.StatusOK, jobToResponse(*job, handle))
}

func (h *Handler) getManifest(c *gin.Context) {
	job, ok := h.lookupJob(c)
	if !ok {
		return
	}

	manifestPath := filepath.Join(job.SavePath, downloader.ManifestFileName)
	exists, err := h.FS.Exists(manifestPath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("manifest not available, job is %s", job.State)})
		return
	}

	data, err := h.FS.ReadFile(manifestPath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

func (h *Handler) getPlaylistURL(c *gin.Context) {
	if !h.storageConfigured() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "storage service not configured"})
		return
	}
	job, ok := h.lookupJob(c)
	if !ok {
		return
	}
	if job.S3Location == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "job has not been uploaded"})
		return
	}

	_, prefix, err := storage.ParseLocation(job.S3Location, h.Bucket)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	key := path.Join(prefix, downloader.PlaylistFileName)
	url, err := h.Storage.GetObjectURL(c.Request.Context(), h.Bucket, key, playlistURLTTL)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"url":        url,
		"key":        key,
		"expires_at": time.Now().Add(playlistURLTTL).UTC().Format(time.RFC3339),
	})
}

func (h *Handler) deleteDownload(c *gin.Context) {
	deleteRemote, err := strconv.ParseBool(c.DefaultQuery("delete_remote", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid flag delete_remote"})
		return
	}
	job, ok := h.lookupJob(c)
	if !ok {
		return
	}

	var warnings []string
	cancelCtx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	if err := h.Manager.Cancel(cancelCtx, job.ID); err != nil {
		warnings = append(warnings, fmt.Sprintf("cancel job: %v", err))
	}

	if deleteRemote && job.S3Location != "" {
		if !h.storageConfigured() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "storage service not configured"})
			return
		}
		_, prefix, err := storage.ParseLocation(job.S3Location, h.Bucket)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		remoteCtx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()
		if err := h.Storage.DeletePrefix(remoteCtx, h.Bucket, prefix); err != nil {
			warnings = append(warnings, fmt.Sprintf("delete remote data: %v", err))
		}
	}

	if w := h.cleanupLocalData(job); w != "" {
		warnings = append(warnings, w)
	}

	if err := h.Jobs.DeleteJob(c.Request.Context(), job.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"deleted": job.ID}
	if len(warnings) > 0 {
		resp["warnings"] = warnings
	}
	c.JSON(http.StatusOK, resp)
}

// cleanupLocalData removes the job directory when it lies inside the data root.
func (h *Handler) cleanupLocalData(job *domain.DownloadJob) string {
	root := filepath.Clean(h.DataRoot)
	dir := filepath.Clean(job.SavePath)
	if rel, err := filepath.Rel(root, dir); err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Sprintf("skip removing %s: outside data dir", dir)
	}
	if err := h.FS.RemoveAll(dir); err != nil {
		return fmt.Sprintf("remove local data: %v", err)
	}
	return ""
}

type qualityRequest struct {
	Quality string `json:"quality" binding:"required"`
}

func (h *Handler) getQuality(c *gin.Context) {
	q, err := h.Settings.GetDownloadQuality(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"quality": q})
}

func (h *Handler) setQuality(c *gin.Context) {
	var req qualityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	q, err := h.Settings.SetDownloadQuality(c.Request.Context(), req.Quality)
	if err != nil {
		if errors.Is(err, service.ErrInvalidQuality) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"quality": q})
}

func (h *Handler) listObjects(c *gin.Context) {
	if !h.storageConfigured() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "storage service not configured"})
		return
	}

	objects, err := h.Storage.ListObjects(c.Request.Context(), h.Bucket, c.Query("prefix"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]StorageObjectResponse, len(objects))
	for i := range objects {
		resp[i] = objectToResponse(objects[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) storageConfigured() bool {
	return h.Storage != nil && h.Bucket != ""
}

// lookupJob loads the job named by the :id parameter and writes the error response itself.
func (h *Handler) lookupJob(c *gin.Context) (*domain.DownloadJob, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return nil, false
	}

	job, err := h.Jobs.GetJob(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("job %d not found", id)})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return job, true
}
