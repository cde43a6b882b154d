package auth

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	app "github.com/storekit/support-go/cmd/api/app"
)

// AuthUser represents the authenticated caller.
type AuthUser struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func (u AuthUser) IsAdmin() bool { return u.Role == "admin" }

// Middleware validates the bearer token. Tokens are always verified by
// signature: HS256 with the local secret, or the configured JWKS keyfunc
// in oidc mode. There is no string-parsed pseudo-token path.
func Middleware(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.Cfg.TestBypassAuth {
			c.Set("user", AuthUser{ID: 1, Email: "test@example.com", Name: "Test User", Role: "admin"})
			c.Next()
			return
		}
		tokenStr := bearerToken(c)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "missing bearer token"})
			return
		}
		keyf := a.Keyf
		if a.Cfg.AuthMode == "local" {
			keyf = localKeyfunc(a.Cfg.AuthLocalSecret)
		}
		if keyf == nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "message": "auth not configured"})
			return
		}
		token, err := jwt.Parse(tokenStr, keyf)
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid token"})
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid token"})
			return
		}
		u := AuthUser{
			Email: stringClaim(claims, "email"),
			Name:  stringClaim(claims, "name"),
			Role:  stringClaim(claims, "role"),
		}
		if u.Role == "" {
			u.Role = "customer"
		}
		if sub := stringClaim(claims, "sub"); sub != "" {
			if id, err := strconv.ParseInt(sub, 10, 64); err == nil {
				u.ID = id
			}
		}
		c.Set("user", u)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	// Dashboard sessions carry the token in a cookie instead.
	if v, err := c.Cookie("auth"); err == nil {
		return v
	}
	return ""
}

func localKeyfunc(secret string) jwt.Keyfunc {
	if secret == "" {
		return nil
	}
	return func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}
}

func stringClaim(c jwt.MapClaims, key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

// CurrentUser returns the authenticated user stored by Middleware.
func CurrentUser(c *gin.Context) (AuthUser, bool) {
	v, ok := c.Get("user")
	if !ok {
		return AuthUser{}, false
	}
	u, ok := v.(AuthUser)
	return u, ok
}

// SignToken issues a 24h HS256 token for the given user.
func SignToken(secret string, u AuthUser) (string, error) {
	claims := jwt.MapClaims{
		"sub":   strconv.FormatInt(u.ID, 10),
		"email": u.Email,
		"name":  u.Name,
		"role":  u.Role,
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(24 * time.Hour).Unix(),
		"mode":  "local",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

type loginReq struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login validates credentials against the users table and issues a
// signed token, returned in the body and as a session cookie.
func Login(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.Cfg.AuthMode != "local" {
			app.Fail(c, http.StatusBadRequest, "login disabled")
			return
		}
		var in loginReq
		if err := c.ShouldBindJSON(&in); err != nil {
			app.Fail(c, http.StatusBadRequest, "email and password are required")
			return
		}
		if a.DB == nil {
			app.Fail(c, http.StatusInternalServerError, "database not available")
			return
		}
		var u AuthUser
		var hash string
		err := a.DB.QueryRow(c.Request.Context(),
			`select id, email, coalesce(password_hash,''), name, role from users where lower(email)=lower($1)`,
			in.Email).Scan(&u.ID, &u.Email, &hash, &u.Name, &u.Role)
		if err != nil || hash == "" {
			app.Fail(c, http.StatusUnauthorized, "invalid credentials")
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(in.Password)) != nil {
			app.Fail(c, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s, err := SignToken(a.Cfg.AuthLocalSecret, u)
		if err != nil {
			app.FailErr(c, http.StatusInternalServerError, "failed to issue token", err)
			return
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie("auth", s, 86400, "/", "", false, true)
		c.JSON(http.StatusOK, gin.H{"success": true, "token": s, "user": u})
	}
}

// Logout clears the session cookie.
func Logout() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie("auth", "", -1, "/", "", false, true)
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// Me returns the authenticated user.
func Me(c *gin.Context) {
	u, ok := CurrentUser(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "unauthenticated"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": u})
}

// RequireRole ensures the user has the given role; admins pass any gate.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "unauthenticated"})
			return
		}
		if u.Role != role && !u.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "message": "forbidden"})
			return
		}
		c.Next()
	}
}
