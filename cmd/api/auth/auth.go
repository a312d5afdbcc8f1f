package auth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	app "github.com/deskhive/deskhive-go/cmd/api/app"
)

// AuthUser represents the authenticated user.
type AuthUser struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name"`
	Roles       []string `json:"roles"`
}

func (u AuthUser) GetRoles() []string { return u.Roles }

// IsAgent reports whether the user is on the agent side of the desk. Only
// agent-side replies count as SLA first responses.
func (u AuthUser) IsAgent() bool {
	for _, r := range u.Roles {
		if r == "agent" || r == "manager" || r == "admin" {
			return true
		}
	}
	return false
}

// Middleware validates the auth cookie or applies the test bypass.
func Middleware(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.Cfg.TestBypassAuth {
			c.Set("user", AuthUser{
				ID:          "test-user",
				Email:       "test@example.com",
				DisplayName: "Test User",
				Roles:       []string{"agent"},
			})
			c.Next()
			return
		}
		tokenStr, err := c.Cookie("auth")
		if err != nil || tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing auth cookie"})
			return
		}
		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method")
			}
			return []byte(a.Cfg.AuthLocalSecret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
			return
		}
		uid, _ := claims["sub"].(string)
		ctx := c.Request.Context()
		var userID, mail, displayName string
		if err := a.DB.QueryRow(ctx, `select id::text, coalesce(email,''), coalesce(display_name,'') from users where id=$1`, uid).Scan(&userID, &mail, &displayName); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
			return
		}
		rows, err := a.DB.Query(ctx, `select r.name from user_roles ur join roles r on ur.role_id=r.id where ur.user_id=$1`, userID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "role lookup"})
			return
		}
		defer rows.Close()
		roles := []string{}
		for rows.Next() {
			var role string
			if err := rows.Scan(&role); err == nil {
				roles = append(roles, role)
			}
		}
		c.Set("user", AuthUser{ID: userID, Email: mail, DisplayName: displayName, Roles: roles})
		c.Next()
	}
}

// RequireRole ensures the user has one of the required roles. Admins pass.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		uVal, ok := c.Get("user")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		user, ok := uVal.(AuthUser)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid user"})
			return
		}
		for _, r := range user.Roles {
			if r == "admin" {
				c.Next()
				return
			}
		}
		for _, r := range user.Roles {
			for _, want := range roles {
				if r == want {
					c.Next()
					return
				}
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}

// Me returns the authenticated user.
func Me(c *gin.Context) {
	u, ok := c.Get("user")
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	c.JSON(http.StatusOK, u)
}

// Login checks the password against the stored bcrypt hash and issues an
// auth cookie.
func Login(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in struct {
			Email    string `json:"email" binding:"required,email"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		var id, hash string
		if err := a.DB.QueryRow(c.Request.Context(), `select id::text, coalesce(password_hash,'') from users where lower(email)=lower($1)`, in.Email).Scan(&id, &hash); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(in.Password)) != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		claims := jwt.MapClaims{
			"sub": id,
			"exp": time.Now().Add(12 * time.Hour).Unix(),
		}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signed, err := token.SignedString([]byte(a.Cfg.AuthLocalSecret))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token"})
			return
		}
		c.SetCookie("auth", signed, int(12*time.Hour/time.Second), "/", "", false, true)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// Logout clears the auth cookie.
func Logout() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.SetCookie("auth", "", -1, "/", "", false, true)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}
