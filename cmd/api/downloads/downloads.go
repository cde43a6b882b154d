// Package downloads serves the browser-extension bundles (trial and
// premium) out of the object store and records who fetched them.
package downloads

import (
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog/log"

	app "github.com/storekit/support-go/cmd/api/app"
	authpkg "github.com/storekit/support-go/cmd/api/auth"
)

// BundleVersion is stamped into download filenames and the audit log.
const BundleVersion = "v2.1.9"

func validType(t string) bool { return t == "trial" || t == "premium" }

func bundleKey(t string) string { return "extension-" + t + ".zip" }

func bundleFilename(t string) string {
	return "support-helper-" + t + "-" + BundleVersion + ".zip"
}

// Get streams a bundle. The trial build is public; premium requires the
// caller's account to carry the premium flag.
func Get(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		typ := c.Param("type")
		if !validType(typ) {
			app.Fail(c, http.StatusBadRequest, "Invalid download type")
			return
		}
		u, _ := authpkg.CurrentUser(c)
		if typ == "premium" {
			if a.DB == nil {
				app.Fail(c, http.StatusForbidden, "Premium access required")
				return
			}
			var premium bool
			err := a.DB.QueryRow(c.Request.Context(),
				`select coalesce(is_premium, false) from users where id=$1`, u.ID).Scan(&premium)
			if err != nil || !premium {
				app.Fail(c, http.StatusForbidden, "Premium access required")
				return
			}
		}
		logDownload(a, c, u.ID, typ)

		fs, ok := a.M.(*app.FsObjectStore)
		if !ok {
			// MinIO deployments front bundles with a CDN; the API only
			// serves them when the filesystem store is configured.
			app.Fail(c, http.StatusNotImplemented, "Download not available")
			return
		}
		root := filepath.Join(fs.Base, a.Cfg.MinIOBucket)
		path := filepath.Clean(filepath.Join(root, bundleKey(typ)))
		if rel, err := filepath.Rel(root, path); err != nil || strings.HasPrefix(rel, "..") {
			app.Fail(c, http.StatusBadRequest, "Invalid path")
			return
		}
		b, err := os.ReadFile(path)
		if err != nil {
			app.Fail(c, http.StatusNotFound, "Bundle not found")
			return
		}
		c.Writer.Header().Set("Content-Type", "application/zip")
		c.Writer.Header().Set("Content-Disposition", `attachment; filename="`+bundleFilename(typ)+`"`)
		c.Status(http.StatusOK)
		_, _ = c.Writer.Write(b)
	}
}

// logDownload is best effort; a failed audit row never blocks the download.
func logDownload(a *app.App, c *gin.Context, userID int64, typ string) {
	if a.DB == nil {
		return
	}
	ip := c.ClientIP()
	ua := c.Request.UserAgent()
	_, err := a.DB.Exec(c.Request.Context(),
		`insert into user_downloads (user_id, download_type, version, ip_address, user_agent) values ($1, $2, $3, $4, $5)`,
		userID, typ, BundleVersion, ip, ua)
	if err != nil {
		log.Ctx(c.Request.Context()).Warn().Err(err).Str("type", typ).Msg("record download")
	}
}

// Upload replaces a bundle in the object store. Admin only; wired with
// RequireRole at route registration.
func Upload(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		typ := c.Param("type")
		if !validType(typ) {
			app.Fail(c, http.StatusBadRequest, "Invalid download type")
			return
		}
		if a.M == nil {
			app.Fail(c, http.StatusInternalServerError, "Object store not configured")
			return
		}
		f, header, err := c.Request.FormFile("file")
		if err != nil {
			app.Fail(c, http.StatusBadRequest, "file is required")
			return
		}
		defer func(f multipart.File) { _ = f.Close() }(f)
		_, err = a.M.PutObject(c.Request.Context(), a.Cfg.MinIOBucket, bundleKey(typ),
			f, header.Size, minio.PutObjectOptions{ContentType: "application/zip"})
		if err != nil {
			app.FailErr(c, http.StatusInternalServerError, "Failed to store bundle", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "key": bundleKey(typ), "version": BundleVersion})
	}
}
