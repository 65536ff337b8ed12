// internal/common/errors/handler.go
package errors

// ErrorHandler settles failed bus deliveries with standardized error handling.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HandleDeliveryError logs err and reports whether the delivery should be requeued.
// Only dispatcher refusals are requeued; anything else is a poison message and is dropped.
func (h *ErrorHandler) HandleDeliveryError(fields map[string]interface{}, err error) (requeue bool) {
	stdErr := AsStandard(err)
	requeue = stdErr.Code == ErrCodeDispatchRejected

	h.logError(fields, stdErr, requeue)
	return requeue
}

func (h *ErrorHandler) logError(fields map[string]interface{}, stdErr *StandardError, requeue bool) {
	logFields := map[string]interface{}{
		"errorCode":     string(stdErr.Code),
		"message":       stdErr.Message,
		"details":       stdErr.Details,
		"retryable":     stdErr.Retryable,
		"requeue":       requeue,
		"errorCategory": GetErrorCategory(stdErr.Code),
	}
	for k, v := range fields {
		logFields[k] = v
	}
	h.logger.Error("delivery rejected", logFields)
}
