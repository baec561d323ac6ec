package server

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"genie/internal/calendar"
	"genie/internal/config"
	"genie/internal/domain/task"
	genieerrors "genie/internal/errors"
)

// maxImportBytes bounds an uploaded user export.
const maxImportBytes = 4 << 20

type apiError struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

type apiResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, apiResponse{Success: true, Data: data})
}

func fail(c *gin.Context, err error) {
	c.JSON(genieerrors.HTTPStatus(err), apiResponse{Error: &apiError{
		Kind:    string(genieerrors.KindOf(err)),
		Message: genieerrors.UserMessage(err),
	}})
}

func failValidation(c *gin.Context, op, format string, args ...any) {
	fail(c, genieerrors.New(genieerrors.KindValidation, op, format, args...))
}

func (s *Server) handleUtterance(c *gin.Context) {
	var req struct {
		UserID    string `json:"user_id"`
		Utterance string `json:"utterance"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		failValidation(c, "server.handleUtterance", "request body must be JSON with user_id and utterance")
		return
	}

	begin := time.Now()
	outcome, err := s.deps.Pipeline.HandleUtterance(c.Request.Context(), req.UserID, req.Utterance)
	if s.deps.Metrics != nil {
		status := "ok"
		switch {
		case err != nil:
			status = "error"
		case outcome.TimedOut:
			status = "timeout"
		}
		s.deps.Metrics.RecordUtterance(c.Request.Context(), status, time.Since(begin))
		if outcome != nil {
			for _, r := range outcome.Applied {
				s.deps.Metrics.RecordAction(c.Request.Context(), string(r.Kind), r.OK)
			}
		}
	}
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, outcome)
}

func (s *Server) handleListTasks(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		failValidation(c, "server.handleListTasks", "user_id is required")
		return
	}

	var statuses []task.Status
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status, valid := task.ParseStatus(part)
			if !valid {
				failValidation(c, "server.handleListTasks", "unknown status %q", part)
				return
			}
			statuses = append(statuses, status)
		}
	}

	tasks, err := s.deps.Store.ListTasks(c.Request.Context(), userID, statuses...)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"tasks": tasks})
}

func (s *Server) handleRecommendation(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		failValidation(c, "server.handleRecommendation", "user_id is required")
		return
	}
	rec, err := s.deps.Pipeline.Recommend(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, rec)
}

func (s *Server) handleFeedback(c *gin.Context) {
	var req struct {
		UserID        string `json:"user_id"`
		Kind          string `json:"kind"`
		TaskID        string `json:"task_id"`
		SubtaskID     string `json:"subtask_id"`
		ActualMinutes int    `json:"actual_minutes"`
		Difficulty    int    `json:"difficulty"`
		Energy        int    `json:"energy"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		failValidation(c, "server.handleFeedback", "request body must be JSON feedback")
		return
	}

	fb := task.Feedback{
		Kind:          task.FeedbackKind(req.Kind),
		TaskID:        req.TaskID,
		SubtaskID:     req.SubtaskID,
		ActualMinutes: req.ActualMinutes,
		Difficulty:    req.Difficulty,
		Energy:        req.Energy,
	}
	if err := s.deps.Pipeline.RecordFeedback(c.Request.Context(), req.UserID, fb); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"recorded": true})
}

func (s *Server) handleAnalytics(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		failValidation(c, "server.handleAnalytics", "user_id is required")
		return
	}
	analytics, err := s.deps.Store.Analytics(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, analytics)
}

func (s *Server) handleHealth(c *gin.Context) {
	now := time.Now().UTC()
	window := calendar.Interval{Start: now, End: now.Add(time.Minute)}

	calendarStatus := "degraded"
	if s.deps.Calendar.FreeBusy(c.Request.Context(), window).Connected {
		calendarStatus = "connected"
	}
	llmStatus := "mock"
	if s.deps.Config.LLM.Provider != config.ProviderMock {
		llmStatus = s.deps.LLM.Model()
	}
	researchStatus := "disabled"
	if s.deps.Config.Research.APIKey != "" {
		researchStatus = "enabled"
	}

	ok(c, gin.H{
		"status":  "ok",
		"version": s.deps.Version,
		"uptime":  time.Since(s.start).Round(time.Second).String(),
		"components": gin.H{
			"store":    "ok",
			"llm":      llmStatus,
			"research": researchStatus,
			"calendar": calendarStatus,
		},
	})
}

func (s *Server) handleListBackups(c *gin.Context) {
	backups, err := s.deps.Store.ListBackups(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"backups": backups})
}

func (s *Server) handleCreateBackup(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	// An empty body means a manual backup.
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "manual"
	}

	name, err := s.deps.Store.CreateBackup(c.Request.Context(), req.Reason)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"name": name})
}

func (s *Server) handleRestoreBackup(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		failValidation(c, "server.handleRestoreBackup", "request body must name a backup")
		return
	}
	if err := s.deps.Store.RestoreBackup(c.Request.Context(), req.Name); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"restored": req.Name})
}

func (s *Server) handleExport(c *gin.Context) {
	data, err := s.deps.Store.ExportUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

func (s *Server) handleImport(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportBytes))
	if err != nil {
		failValidation(c, "server.handleImport", "could not read the export payload")
		return
	}
	userID, err := s.deps.Store.ImportUser(c.Request.Context(), data)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"user_id": userID})
}
