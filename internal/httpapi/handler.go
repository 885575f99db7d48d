package httpapi

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"BTCSpotGame/internal/broadcast"
	"BTCSpotGame/internal/feed"
	"BTCSpotGame/internal/game"
	"BTCSpotGame/internal/orderbook"
	"BTCSpotGame/internal/settlement"
	"BTCSpotGame/internal/wallet"
)

const (
	sessionCookie = "sid"
	sessionKey    = "session"
	// one year, the longest a browser keeps a cookie anyway
	sessionMaxAge = 365 * 24 * 60 * 60
)

var errMarketNotReady = errors.New("market not ready")

//go:embed templates/index.html
var templates embed.FS

// HealthSource reports feed health for /healthz.
type HealthSource interface {
	Stats() feed.Stats
}

type Handler struct {
	router *gin.Engine
	game   *game.Service
	book   *orderbook.Store
	hub    *broadcast.Hub
	feed   HealthSource
	symbol string
	log    logrus.FieldLogger
}

// NewHandler wires the routes. health may be nil.
func NewHandler(svc *game.Service, book *orderbook.Store, hub *broadcast.Hub, health HealthSource, symbol string, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	router := gin.New()
	router.Use(gin.Recovery())

	h := &Handler{
		router: router,
		game:   svc,
		book:   book,
		hub:    hub,
		feed:   health,
		symbol: symbol,
		log:    log.WithField("component", "http"),
	}
	router.Use(h.requestLogger())
	router.SetHTMLTemplate(template.Must(template.ParseFS(templates, "templates/index.html")))
	h.registerRoutes()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/healthz", h.health)
	h.router.GET("/api/market", h.market)

	player := h.router.Group("/")
	player.Use(h.sessionMiddleware())
	{
		player.GET("/", h.index)
		player.POST("/trade", h.trade)
		player.GET("/ws", h.serveWS)
	}
}

type tradeRequest struct {
	Side string `json:"side" binding:"required"`
}

type tradeResponse struct {
	Msg     string            `json:"msg"`
	Status  settlement.Status `json:"status"`
	Balance wallet.Balance    `json:"balance"`
}

func (h *Handler) index(c *gin.Context) {
	session := c.GetString(sessionKey)
	bal, err := h.game.EnsureBalance(c.Request.Context(), session)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.HTML(http.StatusOK, "index.html", gin.H{
		"Symbol":  h.symbol,
		"Balance": bal,
	})
}

func (h *Handler) trade(c *gin.Context) {
	var req tradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	side, err := settlement.ParseSide(req.Side)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}

	out, err := h.game.Trade(c.Request.Context(), c.GetString(sessionKey), side)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, tradeResponse{
		Msg:     out.Message(),
		Status:  out.Status,
		Balance: out.Balance,
	})
}

func (h *Handler) serveWS(c *gin.Context) {
	session := c.GetString(sessionKey)
	h.hub.ServeWS(c.Writer, c.Request, session, func(ctx context.Context) (wallet.Balance, error) {
		return h.game.Balance(ctx, session)
	})
}

func (h *Handler) market(c *gin.Context) {
	snap := h.book.Read()
	if snap.Empty() {
		writeError(c, http.StatusServiceUnavailable, errMarketNotReady)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) health(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if h.feed != nil {
		resp["feed"] = h.feed.Stats()
	}
	if h.hub != nil {
		viewers, drops := h.hub.Stats()
		resp["viewers"] = viewers
		resp["dropped_messages"] = drops
	}
	c.JSON(http.StatusOK, resp)
}

// sessionMiddleware makes sure every player request carries a session id,
// issuing a fresh one when the cookie is missing or not a UUID.
func (h *Handler) sessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(sessionCookie)
		if _, perr := uuid.Parse(id); err != nil || perr != nil {
			id = uuid.NewString()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(sessionCookie, id, sessionMaxAge, "/", "", false, true)
		}
		c.Set(sessionKey, id)
		c.Next()
	}
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("request")
	}
}

func writeError(c *gin.Context, status int, err error) {
	if err == nil {
		status = http.StatusInternalServerError
		err = errors.New("unknown error")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
