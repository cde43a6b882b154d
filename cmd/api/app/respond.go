package app

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Fail writes the standard error envelope. Handlers never let raw errors
// cross the HTTP boundary; storage errors are logged and summarized.
func Fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}

// FailErr logs err server-side and responds with the envelope only.
func FailErr(c *gin.Context, status int, message string, err error) {
	log.Ctx(c.Request.Context()).Error().Err(err).Msg(message)
	Fail(c, status, message)
}
