package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opengraphlabs/layerinfer/internal/inference"
	"github.com/opengraphlabs/layerinfer/internal/model"
	"github.com/opengraphlabs/layerinfer/internal/session"
	"github.com/opengraphlabs/layerinfer/pkg/errors"
)

type openSessionRequest struct {
	ModelID       string `json:"model_id" binding:"required"`
	ManualAdvance bool   `json:"manual_advance"`
}

type startRunRequest struct {
	Input string `json:"input" binding:"required"`
	Mode  string `json:"mode"`
}

type startRunResponse struct {
	SessionID  string `json:"session_id"`
	Generation uint64 `json:"generation"`
}

// modelSummary is the listing view of a model, without tensors.
type modelSummary struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	TaskType        string   `json:"task_type"`
	Scale           uint64   `json:"scale"`
	TotalLayers     int      `json:"total_layers"`
	LayerDimensions []uint64 `json:"layer_dimensions"`
}

func summarize(o *model.Object) modelSummary {
	return modelSummary{
		ID:              o.ID,
		Name:            o.Name,
		Description:     o.Description,
		TaskType:        o.TaskType,
		Scale:           uint64(o.Scale),
		TotalLayers:     len(o.Layers()),
		LayerDimensions: o.LayerDimensions(),
	}
}

// bindJSON decodes the body into req, turning binding failures into InputInvalid.
func bindJSON(c *gin.Context, req any) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}
	e := errors.InputInvalid.Explain("request body is invalid")
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			e = e.WithField(fe.Tag(), fe.Field(), "failed on "+strconv.Quote(fe.Tag()))
		}
	} else {
		e = e.Wrap(err)
	}
	_ = c.Error(e)
	return false
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.runs.Ping(c.Request.Context()); err != nil {
		s.logger.Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "store": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListModels(c *gin.Context) {
	objs, err := s.models.ListModels(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	out := make([]modelSummary, len(objs))
	for i := range objs {
		out[i] = summarize(&objs[i])
	}
	c.JSON(http.StatusOK, gin.H{"models": out})
}

func (s *Server) handleGetModel(c *gin.Context) {
	id := c.Param("id")
	if err := model.ValidateObjectID(id); err != nil {
		_ = c.Error(errors.InputInvalid.Explain("invalid model id %q", id).Wrap(err))
		return
	}
	obj, err := s.models.GetModel(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"model": summarize(obj), "layers": obj.Layers()})
}

func (s *Server) handleListModelRuns(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			_ = c.Error(errors.InputInvalid.Explain("limit must be a positive integer"))
			return
		}
		limit = n
	}
	runs, err := s.runs.ListByModel(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleOpenSession(c *gin.Context) {
	var req openSessionRequest
	if !bindJSON(c, &req) {
		return
	}
	info, err := s.sessions.Open(c.Request.Context(), req.ModelID, session.OpenOptions{ManualAdvance: req.ManualAdvance})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.Header("Location", "/api/v1/sessions/"+info.ID)
	c.JSON(http.StatusCreated, info)
}

func (s *Server) handleGetSession(c *gin.Context) {
	info, err := s.sessions.Info(c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleCloseSession(c *gin.Context) {
	if err := s.sessions.Close(c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleStartRun(c *gin.Context) {
	var req startRunRequest
	if !bindJSON(c, &req) {
		return
	}
	mode := s.cfg.DefaultMode
	if req.Mode != "" {
		m, err := inference.ParseMode(req.Mode)
		if err != nil {
			_ = c.Error(err)
			return
		}
		mode = m
	}

	id := c.Param("id")
	gen, err := s.sessions.Run(id, req.Input, mode)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, startRunResponse{SessionID: id, Generation: gen})
}

func (s *Server) handleStep(c *gin.Context) {
	snap, err := s.sessions.Step(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleStream(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.sessions.Info(id); err != nil {
		_ = c.Error(err)
		return
	}
	clientID := uuid.NewString()
	if err := s.stream.ServeWS(s.ctx, c.Writer, c.Request, clientID, session.Topic(id)); err != nil {
		s.logger.Warn("Websocket stream not established",
			zap.String("session_id", id), zap.String("client_id", clientID), zap.Error(err))
	}
}

func (s *Server) handleGetRun(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		_ = c.Error(errors.InputInvalid.Explain("invalid run id").Wrap(err))
		return
	}
	run, err := s.runs.Get(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, run)
}
