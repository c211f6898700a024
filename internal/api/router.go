package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/glamp/wingman-tunnel/internal/apperrors"
	"github.com/glamp/wingman-tunnel/internal/ingress"
	"github.com/glamp/wingman-tunnel/internal/logger"
	"github.com/glamp/wingman-tunnel/internal/middleware"
	"github.com/glamp/wingman-tunnel/internal/proxy"
	"github.com/glamp/wingman-tunnel/internal/session"
	"github.com/glamp/wingman-tunnel/internal/wsserver"
)

// RouterConfig bundles what NewRouter needs to wire the ingress path ahead
// of the management API.
type RouterConfig struct {
	Sessions    *session.Registry
	Proxy       *proxy.Engine
	WSServer    *wsserver.Server
	BaseDomain  string
	DevMode     bool
	CORSExtras  []string
}

// NewRouter builds the tunnel server's single gin.Engine: ingress routing
// runs first so a subdomain/path match short-circuits into the Proxy Engine
// before any /api/* route is considered.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.StructuredLogger())
	router.Use(middleware.CORS(cfg.DevMode, cfg.CORSExtras))
	router.Use(ingressMiddleware(cfg.Sessions, cfg.Proxy, cfg.BaseDomain))

	router.GET("/tunnel-ws", func(c *gin.Context) { cfg.WSServer.HandleConnect(c) })

	sessionHandler := NewSessionHandler(cfg.Sessions)
	sessionHandler.RegisterRoutes(router)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}

// ingressMiddleware resolves subdomain/path-prefix tunnel requests and hands
// them to the Proxy Engine, short-circuiting the rest of the chain.
func ingressMiddleware(sessions *session.Registry, proxyEngine *proxy.Engine, baseDomain string) gin.HandlerFunc {
	return func(c *gin.Context) {
		match, ok := ingress.Resolve(c.Request.Host, c.Request.URL.Path, baseDomain)
		if !ok {
			c.Next()
			return
		}

		if !match.ValidShape {
			logger.HTTP().Debug().Str("host", c.Request.Host).Msg("invalid tunnel session id shape")
			c.JSON(http.StatusNotFound, gin.H{"error": "Invalid Session ID"})
			c.Abort()
			return
		}

		sess := sessions.GetSession(match.SessionID)
		if sess == nil {
			writeJSONError(c, apperrors.SessionNotFound(match.SessionID))
			c.Abort()
			return
		}

		proxyEngine.HandleTunnelRequest(c, sess, match.RewrittenPath)
		c.Abort()
	}
}
