package session

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

// API exposes the orchestration flow over REST. These are the entry points
// the staffing application calls; real-time delivery happens over /ws.
type API struct {
	orch  *Orchestrator
	sched *Scheduler
}

func NewAPI(orch *Orchestrator, sched *Scheduler) *API {
	return &API{orch: orch, sched: sched}
}

func (a *API) Register(r gin.IRoutes) {
	r.POST("/support-requests", a.handleSubmit)
	r.POST("/support-requests/:id/accept", a.handleAccept)
	r.POST("/sessions/:id/end", a.handleEnd)
	r.PUT("/consultants/:id/status", a.handleStatus)
	r.GET("/queue", a.handleQueue)
	r.POST("/scheduled-sessions", a.handleScheduleCreate)
	r.PUT("/scheduled-sessions/:id", a.handleScheduleUpdate)
}

type submitBody struct {
	StaffID               int64  `json:"staffId" binding:"required"`
	StaffName             string `json:"staffName"`
	HospitalID            int64  `json:"hospitalId" binding:"required"`
	Department            string `json:"department" binding:"required"`
	PreferredConsultantID int64  `json:"preferredConsultantId"`
}

func (a *API) handleSubmit(c *gin.Context) {
	var body submitBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := a.orch.SubmitRequest(c.Request.Context(), SubmitInput{
		StaffID:               body.StaffID,
		StaffName:             body.StaffName,
		HospitalID:            body.HospitalID,
		Department:            body.Department,
		PreferredConsultantID: body.PreferredConsultantID,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "submit failed"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"requestId":    out.RequestID,
		"matched":      out.Matched,
		"consultantId": out.ConsultantID,
		"reasons":      out.Reasons,
		"position":     out.Position,
	})
}

type acceptBody struct {
	ConsultantID int64 `json:"consultantId" binding:"required"`
}

func (a *API) handleAccept(c *gin.Context) {
	var body acceptBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := a.orch.AcceptRequest(c.Request.Context(), c.Param("id"), body.ConsultantID)
	switch {
	case errors.Is(err, ErrProposalNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "proposal not found or expired"})
	case errors.Is(err, ErrProposalMismatch):
		c.JSON(http.StatusConflict, gin.H{"error": "proposed to a different consultant"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "accept failed"})
	default:
		c.JSON(http.StatusOK, gin.H{
			"sessionId": sess.SessionID,
			"roomUrl":   sess.RoomURL,
			"startedAt": sess.StartedAt.Format(time.RFC3339),
		})
	}
}

type endBody struct {
	EndedBy int64 `json:"endedBy"`
}

func (a *API) handleEnd(c *gin.Context) {
	var body endBody
	_ = c.ShouldBindJSON(&body)
	err := a.orch.EndSession(c.Request.Context(), c.Param("id"), body.EndedBy)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "end failed"})
	default:
		c.Status(http.StatusNoContent)
	}
}

type statusBody struct {
	Available *bool `json:"available" binding:"required"`
}

func (a *API) handleStatus(c *gin.Context) {
	var body statusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := paramInt64(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad consultant id"})
		return
	}
	if err := a.orch.SetConsultantStatus(c.Request.Context(), id, *body.Available); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status update failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) handleQueue(c *gin.Context) {
	waiting, err := a.orch.store.Queue(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "queue read failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": waiting})
}

type scheduleBody struct {
	StaffID      int64  `json:"staffId" binding:"required"`
	ConsultantID int64  `json:"consultantId" binding:"required"`
	StartsAt     string `json:"startsAt" binding:"required"`
	Topic        string `json:"topic"`
}

func (b *scheduleBody) input() (ScheduleInput, error) {
	startsAt, err := time.Parse(time.RFC3339, b.StartsAt)
	if err != nil {
		return ScheduleInput{}, errors.Wrap(err, "parse startsAt")
	}
	return ScheduleInput{
		StaffID:      b.StaffID,
		ConsultantID: b.ConsultantID,
		StartsAt:     startsAt,
		Topic:        b.Topic,
	}, nil
}

func (a *API) handleScheduleCreate(c *gin.Context) {
	var body scheduleBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	in, err := body.input()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ss, err := a.sched.Create(c.Request.Context(), in)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "schedule failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"sessionId": ss.SessionID})
}

func (a *API) handleScheduleUpdate(c *gin.Context) {
	var body scheduleBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	in, err := body.input()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err = a.sched.Update(c.Request.Context(), c.Param("id"), in)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "scheduled session not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
	default:
		c.Status(http.StatusNoContent)
	}
}

func paramInt64(c *gin.Context, name string) (int64, error) {
	return strconv.ParseInt(c.Param(name), 10, 64)
}
