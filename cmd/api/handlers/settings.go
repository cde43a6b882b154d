// Package handlers holds the admin configuration endpoints: the chat
// settings key/value store and dashboard feature flags.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	apppkg "github.com/storekit/support-go/cmd/api/app"
)

// HiddenValue is returned in place of stored secrets. A PUT carrying it
// back means "keep the current value".
const HiddenValue = "***hidden***"

const (
	keyChatAPIKey      = "openai_api_key"
	keyChatAssistantID = "openai_assistant_id"
	keyChatModel       = "chat_model"
	keyChatEnabled     = "chat_enabled"

	defaultChatModel = "gpt-4o-mini"
)

func getSetting(ctx context.Context, db apppkg.DB, key string) string {
	var v string
	_ = db.QueryRow(ctx, `select value from settings where key=$1`, key).Scan(&v)
	return v
}

func setSetting(ctx context.Context, db apppkg.DB, key, value string) error {
	_, err := db.Exec(ctx, `insert into settings (key, value, updated_at)
values ($1, $2, now())
on conflict (key) do update set value = excluded.value, updated_at = now()`, key, value)
	return err
}

// ChatSettings reports the assistant configuration for the admin panel.
// The API key never leaves the server; a set key reads back as the
// hidden marker.
func ChatSettings(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.DB == nil {
			apppkg.Fail(c, http.StatusInternalServerError, "Database not available")
			return
		}
		ctx := c.Request.Context()
		apiKey := ""
		if getSetting(ctx, a.DB, keyChatAPIKey) != "" {
			apiKey = HiddenValue
		}
		model := getSetting(ctx, a.DB, keyChatModel)
		if model == "" {
			model = defaultChatModel
		}
		enabled := getSetting(ctx, a.DB, keyChatEnabled)
		c.JSON(http.StatusOK, gin.H{
			"success":      true,
			"openaiApiKey": apiKey,
			"assistantId":  getSetting(ctx, a.DB, keyChatAssistantID),
			"chatModel":    model,
			"enabled":      enabled == "" || enabled == "true",
		})
	}
}

type chatSettingsReq struct {
	OpenAIAPIKey string  `json:"openaiApiKey"`
	AssistantID  *string `json:"assistantId"`
	ChatModel    string  `json:"chatModel"`
	Enabled      *bool   `json:"enabled"`
}

// UpdateChatSettings applies a partial settings update. Absent fields
// and a hidden-marker API key leave the stored values alone.
func UpdateChatSettings(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.DB == nil {
			apppkg.Fail(c, http.StatusInternalServerError, "Database not available")
			return
		}
		var in chatSettingsReq
		if err := c.ShouldBindJSON(&in); err != nil {
			apppkg.Fail(c, http.StatusBadRequest, "Invalid request body")
			return
		}
		ctx := c.Request.Context()
		if k := strings.TrimSpace(in.OpenAIAPIKey); k != "" && k != HiddenValue {
			if err := setSetting(ctx, a.DB, keyChatAPIKey, k); err != nil {
				apppkg.FailErr(c, http.StatusInternalServerError, "Failed to update chat settings", err)
				return
			}
		}
		if in.AssistantID != nil {
			if err := setSetting(ctx, a.DB, keyChatAssistantID, *in.AssistantID); err != nil {
				apppkg.FailErr(c, http.StatusInternalServerError, "Failed to update chat settings", err)
				return
			}
		}
		if m := strings.TrimSpace(in.ChatModel); m != "" {
			if err := setSetting(ctx, a.DB, keyChatModel, m); err != nil {
				apppkg.FailErr(c, http.StatusInternalServerError, "Failed to update chat settings", err)
				return
			}
		}
		if in.Enabled != nil {
			if err := setSetting(ctx, a.DB, keyChatEnabled, strconv.FormatBool(*in.Enabled)); err != nil {
				apppkg.FailErr(c, http.StatusInternalServerError, "Failed to update chat settings", err)
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Chat settings updated successfully"})
	}
}
