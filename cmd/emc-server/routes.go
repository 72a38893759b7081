package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"emc/internal/archive"
	"emc/internal/coordinator"
	"emc/internal/httpmw"
	"emc/internal/realtime"
	"emc/internal/status"
	"emc/internal/submission"
	appErr "emc/pkg/errors"
	"emc/pkg/utils/response"
)

type api struct {
	coord    *coordinator.Coordinator
	repo     submission.Repository
	statuses *status.Cache
	store    *archive.Store
	fetcher  *archive.Fetcher
}

func buildRouter(a *api, mux *realtime.Mux, registry *prometheus.Registry) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.TraceContext())
	router.Use(httpmw.RequestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	router.GET("/ws", mux.GinHandler())

	v1 := router.Group("/api/v1")
	v1.POST("/submissions", a.createSubmission)
	v1.GET("/submissions/:id/status", a.submissionStatus)
	return router
}

type taskPayload struct {
	TaskNumber int64  `json:"task_number" binding:"required"`
	Name       string `json:"name" binding:"required"`
	Command    string `json:"command" binding:"required"`
}

type createSubmissionPayload struct {
	ModuleID     int64         `json:"module_id" binding:"required"`
	AssignmentID int64         `json:"assignment_id" binding:"required"`
	UserID       int64         `json:"user_id" binding:"required"`
	IsPractice   bool          `json:"is_practice"`
	ObjectKey    string        `json:"object_key"`
	Tasks        []taskPayload `json:"tasks" binding:"required,dive"`
}

// createSubmission records the attempt, pulls the archive down from
// object storage and starts the grading run.
func (a *api) createSubmission(c *gin.Context) {
	var payload createSubmissionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()

	latest, err := a.repo.LatestAttempt(ctx, payload.AssignmentID, payload.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	attempt := latest + 1

	sub := &submission.Submission{
		ID:           uuid.NewString(),
		ModuleID:     payload.ModuleID,
		AssignmentID: payload.AssignmentID,
		UserID:       payload.UserID,
		Attempt:      attempt,
		IsPractice:   payload.IsPractice,
	}

	var archivePath string
	if payload.ObjectKey != "" {
		if a.fetcher == nil {
			response.BadRequest(c, "object storage is not configured")
			return
		}
		attemptDir := a.store.AttemptDir(payload.ModuleID, payload.AssignmentID, payload.UserID, attempt)
		archivePath = attemptDir + "/submission.zip"
		if err := a.fetcher.Fetch(ctx, payload.ObjectKey, archivePath); err != nil {
			response.Error(c, err)
			return
		}
		sub.ArchivePath = archivePath
	}

	if err := a.repo.Create(ctx, sub); err != nil {
		response.Error(c, err)
		return
	}

	tasks := make([]coordinator.Task, 0, len(payload.Tasks))
	for _, t := range payload.Tasks {
		tasks = append(tasks, coordinator.Task{
			TaskNumber: t.TaskNumber,
			Name:       t.Name,
			Command:    t.Command,
		})
	}
	_, err = a.coord.Start(ctx, coordinator.Request{
		SubmissionID: sub.ID,
		ModuleID:     payload.ModuleID,
		AssignmentID: payload.AssignmentID,
		UserID:       payload.UserID,
		Attempt:      attempt,
		ArchivePath:  archivePath,
		Tasks:        tasks,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, gin.H{"submission_id": sub.ID, "attempt": attempt})
}

func (a *api) submissionStatus(c *gin.Context) {
	id := c.Param("id")
	st, err := a.statuses.Get(c.Request.Context(), id)
	if err != nil {
		if appErr.GetCode(err) == appErr.CacheMiss {
			response.NotFound(c, "no active run for submission")
			return
		}
		response.Error(c, err)
		return
	}
	response.Success(c, st)
}
