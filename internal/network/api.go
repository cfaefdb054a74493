package network

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/MRamiBalles/CrowdCombat/server/internal/engine"
	"github.com/MRamiBalles/CrowdCombat/server/internal/events"
	"github.com/MRamiBalles/CrowdCombat/server/internal/infra/storage"
	"github.com/MRamiBalles/CrowdCombat/server/internal/platform/config"
	"github.com/MRamiBalles/CrowdCombat/server/internal/platform/logger"
	"github.com/MRamiBalles/CrowdCombat/server/internal/tick"
)

// ActorOperator is the journal actor for changes made over HTTP.
const ActorOperator = "operator"

const commandTimeout = 2 * time.Second

// API serves the operator HTTP surface and the websocket endpoint.
type API struct {
	engine     *engine.Engine
	hub        *Hub
	repo       storage.EventRepository // nil disables ?source=db
	logger     *logger.Logger
	upgrader   websocket.Upgrader
	sendBuffer int
	started    time.Time
}

// NewAPI creates the handler set. repo may be nil.
func NewAPI(eng *engine.Engine, hub *Hub, repo storage.EventRepository, log *logger.Logger, sendBuffer int) *API {
	return &API{
		engine:     eng,
		hub:        hub,
		repo:       repo,
		logger:     log,
		sendBuffer: sendBuffer,
		started:    time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// SpawnRequest is the body of POST /api/pool/spawn.
type SpawnRequest struct {
	Count int `json:"count" binding:"required,min=1,max=1000"`
}

// ActiveRequest is the body of PUT /api/pool/monsters/:id.
type ActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

func (a *API) health(c *gin.Context) {
	stats := a.engine.LatestStats()
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"uptime":  time.Since(a.started).String(),
		"service": "crowd-server",
		"frame":   stats.Scheduler.Frame,
		"clients": a.hub.ClientCount(),
	})
}

func (a *API) stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"engine":  a.engine.LatestStats(),
		"metrics": a.engine.Metrics().Snapshot(),
		"hub":     a.hub.Stats(),
	})
}

func (a *API) getConfig(c *gin.Context) {
	stats := a.engine.LatestStats().Scheduler
	c.JSON(http.StatusOK, gin.H{
		"server":  a.engine.Config(),
		"active":  stats.Config,
		"pending": stats.PendingConfig,
	})
}

func (a *API) putConfig(c *gin.Context) {
	var cfg tick.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		a.jsonError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	err := a.do(c, func(e *engine.Engine) error {
		return e.Reconfigure(cfg, ActorOperator)
	})
	if err != nil {
		a.commandError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "pending", "pending": cfg})
}

func (a *API) spawn(c *gin.Context) {
	var req SpawnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.jsonError(c, http.StatusBadRequest, err.Error())
		return
	}
	var ids []string
	err := a.do(c, func(e *engine.Engine) error {
		for _, m := range e.Spawn(req.Count, ActorOperator) {
			ids = append(ids, m.ID)
		}
		return nil
	})
	if err != nil {
		a.commandError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"spawned": len(ids), "ids": ids})
}

func (a *API) setMonsterActive(c *gin.Context) {
	var req ActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.jsonError(c, http.StatusBadRequest, err.Error())
		return
	}
	id := c.Param("id")
	found := false
	err := a.do(c, func(e *engine.Engine) error {
		found = e.SetActive(id, *req.Active)
		return nil
	})
	if err != nil {
		a.commandError(c, err)
		return
	}
	if !found {
		a.jsonError(c, http.StatusNotFound, "unknown monster")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "active": *req.Active})
}

func (a *API) despawn(c *gin.Context) {
	id := c.Param("id")
	found := false
	err := a.do(c, func(e *engine.Engine) error {
		found = e.Despawn(id, ActorOperator)
		return nil
	})
	if err != nil {
		a.commandError(c, err)
		return
	}
	if !found {
		a.jsonError(c, http.StatusNotFound, "unknown monster")
		return
	}
	c.Status(http.StatusNoContent)
}

// poolAction wraps the body-less pool operations.
func (a *API) poolAction(fn func(e *engine.Engine)) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := a.do(c, func(e *engine.Engine) error {
			fn(e)
			return nil
		})
		if err != nil {
			a.commandError(c, err)
			return
		}
		c.JSON(http.StatusOK, a.engine.LatestStats())
	}
}

func (a *API) clear(c *gin.Context) {
	err := a.do(c, func(e *engine.Engine) error {
		e.Clear(ActorOperator)
		return nil
	})
	if err != nil {
		a.commandError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

// listEvents returns journal entries.
// GET /api/events?type=DISPATCH_FAILURE&actor=ID&since=N&limit=N&source=db
func (a *API) listEvents(c *gin.Context) {
	eventType := c.Query("type")
	actor := c.Query("actor")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 {
		limit = 100
	}

	if c.Query("source") == "db" {
		a.listStoredEvents(c, eventType, actor, limit)
		return
	}

	el := a.engine.EventLog()
	var list []events.GameEvent
	switch {
	case eventType != "":
		list = el.GetByType(events.EventType(eventType))
	case actor != "":
		list = el.GetByActor(actor)
	default:
		since, _ := strconv.Atoi(c.DefaultQuery("since", "0"))
		list = el.Since(since)
	}
	if eventType != "" && actor != "" {
		filtered := list[:0]
		for _, e := range list {
			if e.ActorID == actor {
				filtered = append(filtered, e)
			}
		}
		list = filtered
	}
	if len(list) > limit {
		list = list[len(list)-limit:]
	}

	c.JSON(http.StatusOK, gin.H{
		"total":  el.Len(),
		"count":  len(list),
		"events": list,
	})
}

func (a *API) listStoredEvents(c *gin.Context, eventType, actor string, limit int) {
	if a.repo == nil {
		a.jsonError(c, http.StatusServiceUnavailable, "journal storage is not configured")
		return
	}
	ctx := c.Request.Context()

	var (
		list []storage.JournalEvent
		err  error
	)
	switch {
	case eventType != "":
		list, err = a.repo.GetByEventType(ctx, eventType, limit)
	case actor != "":
		list, err = a.repo.GetByActorID(ctx, actor)
	default:
		counts, cerr := a.repo.CountByEventType(ctx)
		if cerr != nil {
			a.jsonError(c, http.StatusInternalServerError, cerr.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"counts": counts})
		return
	}
	if err != nil {
		a.jsonError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(list), "events": list})
}

func (a *API) recommendations(c *gin.Context) {
	cfg := a.engine.Config()
	snapshot := a.engine.Metrics().Snapshot()
	snapshot["hub"] = a.hub.Stats()
	rec := config.Analyze(&cfg, snapshot)

	proposed := config.ApplyRecommendations(&cfg, rec)
	c.JSON(http.StatusOK, gin.H{
		"recommendations": rec,
		"proposed":        proposed.Scheduler,
	})
}

// serveWS upgrades to a websocket. ?format=msgpack selects binary frames.
func (a *API) serveWS(c *gin.Context) {
	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.logger.Warn("WebSocket upgrade failed: " + err.Error())
		return
	}
	client := NewClient(a.hub, a.engine, conn, ParseFormat(c.Query("format")), a.sendBuffer)
	client.Register()

	go client.WritePump()
	go client.ReadPump()
}

func (a *API) do(c *gin.Context, fn func(*engine.Engine) error) error {
	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()
	return a.engine.Do(ctx, fn)
}

func (a *API) commandError(c *gin.Context, err error) {
	var cfgErr *tick.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "field": cfgErr.Field})
	case errors.Is(err, engine.ErrQueueFull), errors.Is(err, context.DeadlineExceeded):
		a.jsonError(c, http.StatusServiceUnavailable, err.Error())
	default:
		a.jsonError(c, http.StatusInternalServerError, err.Error())
	}
}

func (a *API) jsonError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
