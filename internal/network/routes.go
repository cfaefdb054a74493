package network

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/MRamiBalles/CrowdCombat/server/internal/engine"
)

// NewRouter builds the gin engine with logging, metrics and CORS middleware.
func NewRouter(api *API, corsOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(api.logger.Zerolog()))
	r.Use(RequestMetrics(api.engine.Metrics()))
	r.Use(cors.New(corsConfig(corsOrigins)))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", api.health)
	r.GET("/metrics", gin.WrapH(api.engine.Metrics().Handler()))
	r.GET("/ws", api.serveWS)

	v := r.Group("/api")
	v.GET("/stats", api.stats)
	v.GET("/config", api.getConfig)
	v.PUT("/config", api.putConfig)
	v.GET("/events", api.listEvents)
	v.GET("/recommendations", api.recommendations)
	v.POST("/scheduler/clear", api.clear)

	pool := v.Group("/pool")
	pool.POST("/spawn", api.spawn)
	pool.POST("/deactivate", api.poolAction(func(e *engine.Engine) { e.DeactivateAll(ActorOperator) }))
	pool.POST("/reactivate", api.poolAction(func(e *engine.Engine) { e.ReactivateAll(ActorOperator) }))
	pool.POST("/enable", api.poolAction(func(e *engine.Engine) { e.SetPoolEnabled(true, ActorOperator) }))
	pool.POST("/disable", api.poolAction(func(e *engine.Engine) { e.SetPoolEnabled(false, ActorOperator) }))
	pool.PUT("/monsters/:id", api.setMonsterActive)
	pool.DELETE("/monsters/:id", api.despawn)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}
