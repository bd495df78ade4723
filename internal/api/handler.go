package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"simwatch/internal/logger"
	"simwatch/pkg/errors"
)

type BaseHandler struct {
	Service Service
	Logger  logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	status := errors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	} else {
		h.Logger.DebugwCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
	}

	c.JSON(status, errors.ToErrorResponse(err))
}

func (h *BaseHandler) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
}

type Handler struct {
	BaseHandler
	feed http.Handler
}

func NewHandler(service Service, feed http.Handler, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler: BaseHandler{
			Service: service,
			Logger:  log,
		},
		feed: feed,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		simulations := v1.Group("/simulations")
		{
			simulations.GET("", h.ListSimulations)
			simulations.GET("/:uid", h.GetSimulation)
			simulations.GET("/:uid/jobs", h.ListJobs)
		}

		v1.GET("/alerts", h.ListAlerts)
		v1.GET("/agents", h.ListAgents)
	}

	if h.feed != nil {
		router.GET("/ws", gin.WrapH(h.feed))
	}
}

// ListSimulations godoc
// @Summary      List simulations
// @Description  List simulations, newest first, optionally filtered by centre, experiment, model and running state
// @Tags         simulations
// @Produce      json
// @Param        centre      query     string  false  "Compute centre"
// @Param        experiment  query     string  false  "Experiment"
// @Param        model       query     string  false  "Model"
// @Param        running     query     bool    false  "Only running (true) or only finished (false) simulations"
// @Param        limit       query     int     false  "Page size (1-1000)"
// @Param        offset      query     int     false  "Page offset"
// @Success      200  {object}  SimulationListResponse
// @Failure      400  {object}  map[string]interface{}
// @Failure      500  {object}  map[string]interface{}
// @Router       /simulations [get]
func (h *Handler) ListSimulations(c *gin.Context) {
	var q ListSimulationsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, err)
		return
	}

	resp, err := h.Service.ListSimulations(c.Request.Context(), q)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetSimulation godoc
// @Summary      Get a simulation
// @Tags         simulations
// @Produce      json
// @Param        uid  path      string  true  "Simulation UID"
// @Success      200  {object}  SimulationResponse
// @Failure      404  {object}  map[string]interface{}
// @Failure      500  {object}  map[string]interface{}
// @Router       /simulations/{uid} [get]
func (h *Handler) GetSimulation(c *gin.Context) {
	sim, err := h.Service.GetSimulation(c.Request.Context(), c.Param("uid"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, sim)
}

// ListJobs godoc
// @Summary      List the jobs of a simulation
// @Tags         simulations
// @Produce      json
// @Param        uid  path      string  true  "Simulation UID"
// @Success      200  {object}  JobListResponse
// @Failure      404  {object}  map[string]interface{}
// @Failure      500  {object}  map[string]interface{}
// @Router       /simulations/{uid}/jobs [get]
func (h *Handler) ListJobs(c *gin.Context) {
	jobs, err := h.Service.ListJobs(c.Request.Context(), c.Param("uid"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobs)
}

// ListAlerts godoc
// @Summary      List recent alerts
// @Tags         alerts
// @Produce      json
// @Param        limit  query     int  false  "Maximum number of alerts (1-1000)"
// @Success      200    {array}   AlertResponse
// @Failure      400    {object}  map[string]interface{}
// @Failure      500    {object}  map[string]interface{}
// @Router       /alerts [get]
func (h *Handler) ListAlerts(c *gin.Context) {
	var q ListAlertsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, err)
		return
	}

	alerts, err := h.Service.ListAlerts(c.Request.Context(), q.Limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, alerts)
}

// ListAgents godoc
// @Summary      List MQ agents and the message types they handle
// @Tags         agents
// @Produce      json
// @Success      200  {array}  AgentResponse
// @Router       /agents [get]
func (h *Handler) ListAgents(c *gin.Context) {
	c.JSON(http.StatusOK, h.Service.ListAgents(c.Request.Context()))
}
