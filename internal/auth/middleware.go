package auth

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	userIDKey = "user_id"
	walletKey = "wallet_address"
)

func reject(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}

// Middleware requires a valid bearer token and stores its user on the context
func (t *Tokens) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			reject(c, "Authorization header required")
			return
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			reject(c, "Invalid authorization header format. Expected: Bearer <token>")
			return
		}

		claims, err := t.Parse(raw)
		if err != nil {
			log.Printf("[Auth] rejected token from %s: %v", c.ClientIP(), err)
			reject(c, "Invalid or expired token")
			return
		}

		c.Set(userIDKey, claims.UserID)
		c.Set(walletKey, claims.WalletAddress)
		c.Next()
	}
}

// AdminMiddleware guards operator routes with a static API key. An empty key
// locks them entirely.
func AdminMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		given := c.GetHeader("X-Admin-Key")
		if apiKey == "" || subtle.ConstantTimeCompare([]byte(given), []byte(apiKey)) != 1 {
			reject(c, "admin key required")
			return
		}
		c.Next()
	}
}

// GetUserID returns the user set by Middleware
func GetUserID(c *gin.Context) (uint, bool) {
	id, ok := c.Get(userIDKey)
	if !ok {
		return 0, false
	}
	uid, ok := id.(uint)
	return uid, ok
}

// GetWalletAddress returns the wallet set by Middleware
func GetWalletAddress(c *gin.Context) (string, bool) {
	addr, ok := c.Get(walletKey)
	if !ok {
		return "", false
	}
	wallet, ok := addr.(string)
	return wallet, ok
}
