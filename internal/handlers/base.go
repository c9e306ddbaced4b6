package handlers

import (
	"chaguasmart/internal/middleware"
	"chaguasmart/internal/services"
	"chaguasmart/internal/utils"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

// Render helper to inject common variables like 'current user'
func Render(c *gin.Context, code int, name string, obj gin.H) {
	if obj == nil {
		obj = gin.H{}
	}

	// Inject Current User
	if user := middleware.CurrentUser(c); user != nil {
		obj["CurrentUser"] = user
	}
	obj["CurrentPath"] = c.Request.URL.Path

	c.HTML(code, name, obj)
}

// RenderError renders the HTML error page for err.
func RenderError(c *gin.Context, err error) {
	status, message := describe(c, err)
	Render(c, status, "error.html", gin.H{"Error": message, "Status": status})
}

// RespondError writes the JSON error body for err.
func RespondError(c *gin.Context, err error) {
	status, message := describe(c, err)
	body := gin.H{"code": string(services.KindOf(err)), "message": message}

	var verr *services.ValidationError
	if errors.As(err, &verr) {
		body["fields"] = verr.Fields
	}
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

func describe(c *gin.Context, err error) (int, string) {
	kind := services.KindOf(err)
	status := statusFor(kind)
	if kind == services.KindInternal {
		slog.Error("request failed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"request_id", c.GetString(middleware.RequestIDKey),
			"error", err,
		)
		return status, "internal server error"
	}
	return status, err.Error()
}

func statusFor(kind services.Kind) int {
	switch kind {
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindInvalidState, services.KindValidation:
		return http.StatusBadRequest
	case services.KindConflict:
		return http.StatusConflict
	case services.KindForbidden:
		return http.StatusForbidden
	case services.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// badRequest reports a body or query that could not be decoded.
func badRequest(c *gin.Context, field string, err error) {
	RespondError(c, &services.ValidationError{Fields: map[string]string{field: err.Error()}})
}

// pollIDParam parses :id, writing a 404 when it is not a positive integer.
func pollIDParam(c *gin.Context) (uint, bool) {
	id, ok := utils.ParseID(c.Param("id"))
	if !ok {
		RespondError(c, services.ErrPollNotFound)
	}
	return id, ok
}
