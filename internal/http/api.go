package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/juju/errors"
	"github.com/sirupsen/logrus"

	"userhub/internal/domain"
	"userhub/internal/service"
	"userhub/internal/storage"
)

// SnapshotExporter publishes copies of the user collection.
type SnapshotExporter interface {
	Export(ctx context.Context, users []domain.User) (string, error)
	Snapshots(ctx context.Context) ([]storage.ObjectInfo, error)
}

// Handler wires HTTP routes to domain services.
type Handler struct {
	users     service.UserService
	snapshots SnapshotExporter
	logger    logrus.FieldLogger
}

// NewHandler builds the API handler. snapshots may be nil when export is
// not configured; the snapshot routes then answer 503.
func NewHandler(users service.UserService, snapshots SnapshotExporter, logger logrus.FieldLogger) *Handler {
	return &Handler{
		users:     users,
		snapshots: snapshots,
		logger:    logger,
	}
}

var bindingOnce sync.Once

// useJSONFieldNames makes gin's binding validator report fields by their
// json names, matching the domain validator.
func useJSONFieldNames() {
	bindingOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			v.RegisterTagNameFunc(domain.JSONFieldName)
		}
	})
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	useJSONFieldNames()
	router.Use(corsMiddleware())

	api := router.Group("/api")
	{
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})

		api.GET("/users", h.listUsers)
		api.POST("/users", h.createUser)
		api.GET("/users/active", h.listActiveUsers)
		api.GET("/users/stats", h.userStatistics)
		api.GET("/users/lookup", h.lookupUser)
		api.GET("/users/:id", h.getUser)
		api.PATCH("/users/:id", h.updateUser)
		api.DELETE("/users/:id", h.deleteUser)

		api.GET("/snapshots", h.listSnapshots)
		api.POST("/snapshots", h.exportSnapshot)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errors.NotValid):
		return http.StatusBadRequest
	case errors.Is(err, errors.NotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.AlreadyExists):
		return http.StatusConflict
	case errors.Is(err, errors.Forbidden):
		return http.StatusForbidden
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}

	resp := gin.H{"error": err.Error()}
	if details := domain.ValidationDetails(err); len(details) > 0 {
		resp["details"] = details
	}
	c.JSON(status, resp)
}

// writeBindError reports a request body that could not be bound.
func writeBindError(c *gin.Context, err error) {
	resp := gin.H{"error": "invalid request body"}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.As(err, &syntaxErr):
		resp["details"] = map[string]string{"payload": "invalid json"}
	case errors.As(err, &typeErr):
		field := typeErr.Field
		if field == "" {
			field = "payload"
		}
		resp["details"] = map[string]string{field: "must be of type " + typeErr.Type.String()}
	default:
		if details := domain.ValidationDetails(err); len(details) > 0 {
			resp["details"] = details
		} else {
			resp["error"] = strings.TrimSpace("invalid request body: " + err.Error())
		}
	}
	c.JSON(http.StatusBadRequest, resp)
}
