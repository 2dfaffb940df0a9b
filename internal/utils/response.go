package utils

import (
	"time"

	"github.com/gin-gonic/gin"
)

func SuccessResponse(message string, data interface{}) gin.H {
	return gin.H{
		"success":   true,
		"message":   message,
		"data":      data,
		"timestamp": time.Now().UTC(),
	}
}

func ErrorResponse(message, detail string) gin.H {
	return gin.H{
		"success":   false,
		"message":   message,
		"error":     detail,
		"timestamp": time.Now().UTC(),
	}
}

// CodedErrorResponse adds the machine readable error code and context.
func CodedErrorResponse(message, detail, code string, details map[string]any) gin.H {
	resp := ErrorResponse(message, detail)
	resp["code"] = code
	if len(details) > 0 {
		resp["details"] = details
	}
	return resp
}
