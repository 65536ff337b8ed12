package api

import (
	apperrors "notification-service/internal/common/errors"

	"github.com/gin-gonic/gin"
)

// envelope is the body of every API response.
type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, envelope{Success: true, Message: message, Data: data})
}

// respondError writes err using the status of its error code and aborts the chain.
func (s *Server) respondError(c *gin.Context, err error) {
	s.respondErrorWith(c, err, nil)
}

// respondErrorWith adds extra fields next to the error code in the response data.
func (s *Server) respondErrorWith(c *gin.Context, err error, extra gin.H) {
	stdErr := apperrors.AsStandard(err)
	status := apperrors.HTTPStatus(err)

	if status >= 500 {
		s.logger.Error("request failed", map[string]interface{}{
			"method":    c.Request.Method,
			"path":      c.FullPath(),
			"errorCode": string(stdErr.Code),
			"error":     err,
		})
	}

	data := gin.H{
		"error_code": stdErr.Code,
		"details":    stdErr.Details,
	}
	for k, v := range extra {
		data[k] = v
	}
	c.AbortWithStatusJSON(status, envelope{
		Success: false,
		Message: stdErr.Message,
		Data:    data,
	})
}
