package apperrors

import (
	"github.com/gin-gonic/gin"
)

type errorBody struct {
	Type       Type   `json:"type"`
	Message    string `json:"message"`
	Code       string `json:"code"`
	RequestID  string `json:"requestId"`
	RetryAfter int64  `json:"retryAfter,omitempty"`
}

// Respond writes the typed error as the uniform JSON error envelope and
// aborts the request.
func Respond(c *gin.Context, err error) {
	RespondWithPayload(c, err, nil)
}

// RespondWithPayload writes the same envelope with extra top-level fields
// alongside "error", for denials that still carry partial results.
func RespondWithPayload(c *gin.Context, err error, payload map[string]interface{}) {
	appErr := AsError(err)

	body := errorBody{
		Type:      appErr.Type,
		Message:   appErr.Message,
		Code:      appErr.Code,
		RequestID: c.GetString("request_id"),
	}
	if appErr.RetryAfter > 0 {
		body.RetryAfter = int64(appErr.RetryAfter.Seconds())
	}

	response := gin.H{"error": body}
	for k, v := range payload {
		if k == "error" {
			continue
		}
		response[k] = v
	}
	c.AbortWithStatusJSON(appErr.Status, response)
}
