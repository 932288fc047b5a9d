package middleware

import (
	"crypto/subtle"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	// Ethereum address regex: 0x followed by 40 hex characters
	ethAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
)

// BasicAuth returns a middleware that implements HTTP Basic Authentication
// for the admin endpoints. Auth is skipped when no credentials are configured.
func BasicAuth() gin.HandlerFunc {
	username := os.Getenv("AUTH_USERNAME")
	password := os.Getenv("AUTH_PASSWORD")

	return func(c *gin.Context) {
		if username == "" || password == "" {
			c.Next()
			return
		}

		user, pass, hasAuth := c.Request.BasicAuth()
		if !hasAuth {
			c.Header("WWW-Authenticate", `Basic realm="Mirror Ledger"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		// Use constant-time comparison to prevent timing attacks
		usernameMatch := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
		passwordMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1

		if !usernameMatch || !passwordMatch {
			c.Header("WWW-Authenticate", `Basic realm="Mirror Ledger"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid credentials",
			})
			return
		}

		c.Next()
	}
}

// ValidateAddressParam validates that the named route parameter is a valid
// Ethereum address and stores the normalized form on the context.
func ValidateAddressParam(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Param(param)
		if raw == "" {
			c.Next()
			return
		}

		addr := strings.ToLower(strings.TrimSpace(raw))
		if !ethAddressRegex.MatchString(addr) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "Invalid " + param + " parameter. Must be a valid Ethereum address (0x + 40 hex characters)",
			})
			return
		}

		c.Set("validated_"+param, addr)
		c.Next()
	}
}

// ValidateQueryParams validates common query parameters shared by the
// read endpoints.
func ValidateQueryParams() gin.HandlerFunc {
	return func(c *gin.Context) {
		if limitStr := c.Query("limit"); limitStr != "" {
			limit, err := strconv.Atoi(limitStr)
			if err != nil || limit < 1 || limit > 10000 {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error": "Invalid limit parameter. Must be a positive integer between 1 and 10000",
				})
				return
			}
		}

		idParams := []string{"leader_id", "session_id", "trail_id"}
		for _, param := range idParams {
			if val := c.Query(param); val != "" {
				id, err := strconv.ParseUint(val, 10, 64)
				if err != nil || id == 0 {
					c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
						"error": "Invalid " + param + " parameter. Must be a positive integer",
					})
					return
				}
			}
		}

		c.Next()
	}
}

// IsValidEthAddress checks if a string is a valid Ethereum address
func IsValidEthAddress(addr string) bool {
	return ethAddressRegex.MatchString(strings.ToLower(strings.TrimSpace(addr)))
}
