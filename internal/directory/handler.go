// Package directory exposes the aggregated directory and the admin
// reconciliation trigger over HTTP.
package directory

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"supporthub/internal/auth"
	"supporthub/internal/reconcile"
	"supporthub/pkg/models"
)

// Reader serves directories; *cache.Cache is one.
type Reader interface {
	Get(ctx context.Context, bypass bool) (*models.Directory, bool, error)
}

// Trigger starts reconciliation runs; *reconcile.Runner is one.
type Trigger interface {
	Trigger(ctx context.Context, force bool) error
	Run(ctx context.Context, force bool) (*reconcile.RunResult, error)
}

const (
	MsgInProgress = "Reconciliation already in progress"
	MsgStarted    = "Reconciliation started"
	MsgCompleted  = "Reconciliation completed"
)

type Handler struct {
	Reader  Reader
	Trigger Trigger
	Tokens  auth.TokenService

	log zerolog.Logger
}

func NewHandler(reader Reader, trigger Trigger, tokens auth.TokenService, log zerolog.Logger) *Handler {
	return &Handler{Reader: reader, Trigger: trigger, Tokens: tokens, log: log}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/directory", auth.OptionalAuth(h.Tokens), h.get)
	r.POST("/reconcile", auth.AuthMiddleware(h.Tokens), h.reconcile)
}

type response struct {
	Data    map[string][]models.CanonicalRecord `json:"data"`
	Sources []models.SourceRef                  `json:"sources"`
	Refresh bool                                `json:"refresh"`
}

func (h *Handler) get(c *gin.Context) {
	force := parseBool(c.Query("force"))
	bypass := parseBool(c.Query("noCache"))
	if !auth.IsAdmin(c) {
		// only operators may skip the cache or the schedule gate
		force, bypass = false, false
	}

	dir, refreshed, err := h.Reader.Get(c.Request.Context(), bypass)
	if err != nil {
		h.log.Error().Err(err).Msg("directory build failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "directory unavailable"})
		return
	}

	if (refreshed || force) && h.Trigger != nil {
		if err := h.Trigger.Trigger(c.Request.Context(), force); err != nil && !errors.Is(err, reconcile.ErrBusy) {
			h.log.Warn().Err(err).Msg("background reconciliation not started")
		}
	}

	c.JSON(http.StatusOK, response{
		Data:    dir.Data,
		Sources: dir.Sources,
		Refresh: refreshed,
	})
}

func (h *Handler) reconcile(c *gin.Context) {
	force := parseBool(c.Query("force"))

	if parseBool(c.Query("wait")) {
		res, err := h.Trigger.Run(c.Request.Context(), force)
		switch {
		case errors.Is(err, reconcile.ErrBusy):
			c.JSON(http.StatusOK, gin.H{"message": MsgInProgress})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		default:
			c.JSON(http.StatusOK, gin.H{"message": MsgCompleted, "run": res})
		}
		return
	}

	if err := h.Trigger.Trigger(c.Request.Context(), force); err != nil {
		if errors.Is(err, reconcile.ErrBusy) {
			c.JSON(http.StatusOK, gin.H{"message": MsgInProgress})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": MsgStarted})
}

func parseBool(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		// any other non-empty value, e.g. ?noCache=yes
		return s != "0"
	}
	return b
}
