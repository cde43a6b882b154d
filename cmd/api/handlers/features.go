package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	apppkg "github.com/storekit/support-go/cmd/api/app"
)

// featureInfo describes a toggleable dashboard section.
type featureInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsEnabled   bool   `json:"isEnabled"`
	Category    string `json:"category"`
}

// defaultFeatures is the known flag set; rows in dashboard_features
// override the enabled state, everything defaults to on.
var defaultFeatures = []featureInfo{
	{ID: "affiliate-program", Name: "Affiliate Program", Description: "Controls visibility of referral system and commission tracking", IsEnabled: true, Category: "monetization"},
	{ID: "analytics", Name: "Analytics", Description: "Controls visibility of usage statistics and performance metrics", IsEnabled: true, Category: "insights"},
	{ID: "billing", Name: "Billing", Description: "Controls visibility of payment history and subscription management", IsEnabled: true, Category: "payments"},
}

func featureStates(ctx context.Context, db apppkg.DB) map[string]bool {
	states := map[string]bool{}
	if db == nil {
		return states
	}
	rows, err := db.Query(ctx, `select feature_name, is_enabled from dashboard_features`)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("load dashboard features")
		return states
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var enabled bool
		if err := rows.Scan(&name, &enabled); err != nil {
			continue
		}
		states[name] = enabled
	}
	return states
}

// DashboardFeatures lists the flags with stored overrides applied.
// Storage trouble degrades to the defaults rather than a 500; the
// dashboard must render either way.
func DashboardFeatures(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		states := featureStates(c.Request.Context(), a.DB)
		out := make([]featureInfo, len(defaultFeatures))
		copy(out, defaultFeatures)
		for i := range out {
			if v, ok := states[out[i].ID]; ok {
				out[i].IsEnabled = v
			}
		}
		c.JSON(http.StatusOK, out)
	}
}

type featureUpdateReq struct {
	FeatureName string `json:"featureName"`
	IsEnabled   *bool  `json:"isEnabled"`
}

// UpdateDashboardFeature upserts a single flag.
func UpdateDashboardFeature(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in featureUpdateReq
		if err := c.ShouldBindJSON(&in); err != nil || in.FeatureName == "" || in.IsEnabled == nil {
			apppkg.Fail(c, http.StatusBadRequest, "featureName and isEnabled are required")
			return
		}
		if a.DB == nil {
			apppkg.Fail(c, http.StatusInternalServerError, "Database not available")
			return
		}
		_, err := a.DB.Exec(c.Request.Context(), `insert into dashboard_features (feature_name, is_enabled, updated_at)
values ($1, $2, now())
on conflict (feature_name) do update set is_enabled = excluded.is_enabled, updated_at = now()`,
			in.FeatureName, *in.IsEnabled)
		if err != nil {
			apppkg.FailErr(c, http.StatusInternalServerError, "Failed to update feature", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Feature " + in.FeatureName + " updated successfully",
			"feature": gin.H{"id": in.FeatureName, "isEnabled": *in.IsEnabled},
		})
	}
}
