package users

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	app "github.com/storekit/support-go/cmd/api/app"
	authpkg "github.com/storekit/support-go/cmd/api/auth"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// LookupNameByEmail resolves a display name for a customer email, used
// when a message or ticket arrives without one. Empty string when the
// user is unknown.
func LookupNameByEmail(ctx context.Context, db app.DB, email string) string {
	if db == nil || email == "" {
		return ""
	}
	var name string
	_ = db.QueryRow(ctx, `select name from users where lower(email)=lower($1)`, email).Scan(&name)
	return name
}

type registerReq struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Name     string `json:"name" binding:"required"`
}

// Register creates a customer account with a bcrypt-hashed password and
// issues a session token right away.
func Register(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in registerReq
		if err := c.ShouldBindJSON(&in); err != nil {
			app.Fail(c, http.StatusBadRequest, "email, password and name are required")
			return
		}
		if a.DB == nil {
			app.Fail(c, http.StatusInternalServerError, "database not available")
			return
		}
		ph, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			app.FailErr(c, http.StatusInternalServerError, "failed to create user", err)
			return
		}
		var u User
		const q = `insert into users (email, password_hash, name, role)
values (lower($1), $2, $3, 'customer')
returning id, email, name, role, created_at`
		err = a.DB.QueryRow(c.Request.Context(), q, in.Email, string(ph), in.Name).
			Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.CreatedAt)
		if err != nil {
			if strings.Contains(err.Error(), "duplicate key") {
				app.Fail(c, http.StatusConflict, "email already registered")
				return
			}
			app.FailErr(c, http.StatusInternalServerError, "failed to create user", err)
			return
		}
		token, err := authpkg.SignToken(a.Cfg.AuthLocalSecret, authpkg.AuthUser{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role})
		if err != nil {
			app.FailErr(c, http.StatusInternalServerError, "failed to issue token", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "user": u, "token": token})
	}
}

// Customers lists customer accounts for the admin dashboard, newest first.
func Customers(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.DB == nil {
			c.JSON(http.StatusOK, []User{})
			return
		}
		rows, err := a.DB.Query(c.Request.Context(),
			`select id, email, name, role, created_at from users where role='customer' order by created_at desc`)
		if err != nil {
			app.FailErr(c, http.StatusInternalServerError, "failed to list customers", err)
			return
		}
		defer rows.Close()
		out := []User{}
		for rows.Next() {
			var u User
			if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.CreatedAt); err != nil {
				app.FailErr(c, http.StatusInternalServerError, "failed to list customers", err)
				return
			}
			out = append(out, u)
		}
		c.JSON(http.StatusOK, out)
	}
}

// Get returns a single user by id.
func Get(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.DB == nil {
			app.Fail(c, http.StatusNotFound, "user not found")
			return
		}
		var u User
		err := a.DB.QueryRow(c.Request.Context(),
			`select id, email, name, role, created_at from users where id=$1`, c.Param("id")).
			Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.CreatedAt)
		if err != nil {
			app.Fail(c, http.StatusNotFound, "user not found")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "user": u})
	}
}

// ChangePassword updates the caller's password after verifying the old one.
func ChangePassword(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := authpkg.CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "unauthenticated"})
			return
		}
		var in struct {
			OldPassword string `json:"old_password" binding:"required"`
			NewPassword string `json:"new_password" binding:"required,min=6"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			app.Fail(c, http.StatusBadRequest, "old_password and new_password are required")
			return
		}
		var hash string
		if err := a.DB.QueryRow(c.Request.Context(), `select coalesce(password_hash,'') from users where id=$1`, u.ID).Scan(&hash); err != nil {
			app.Fail(c, http.StatusNotFound, "user not found")
			return
		}
		if hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(in.OldPassword)) != nil {
			app.Fail(c, http.StatusUnauthorized, "invalid old password")
			return
		}
		ph, err := bcrypt.GenerateFromPassword([]byte(in.NewPassword), bcrypt.DefaultCost)
		if err != nil {
			app.FailErr(c, http.StatusInternalServerError, "failed to update password", err)
			return
		}
		if _, err := a.DB.Exec(c.Request.Context(), `update users set password_hash=$1 where id=$2`, string(ph), u.ID); err != nil {
			app.FailErr(c, http.StatusInternalServerError, "failed to update password", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
