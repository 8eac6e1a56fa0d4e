package common

import "github.com/gin-gonic/gin"

// OK writes the success envelope the portal clients consume.
func OK(c *gin.Context, data any) {
	c.JSON(200, gin.H{
		"status": "success",
		"data":   data,
	})
}

// Fail writes the error envelope with an app-level numeric code.
func Fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.JSON(httpStatus, gin.H{
		"status":  "error",
		"code":    code,
		"message": msg,
		"data":    nil,
	})
}
