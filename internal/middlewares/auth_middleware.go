package middlewares

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"dq-engine/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	PrincipalKey  = "principal"
	AuthMethodKey = "authMethod"
)

// KeyVerifier resolves a plaintext API key.
type KeyVerifier interface {
	VerifyAPIKey(plain string) (*auth.APIKey, error)
}

// AuthMiddleware accepts the access_token cookie, a bearer JWT or a bearer
// API key. keys may be nil, in which case only JWTs are accepted.
func AuthMiddleware(jwtSecret string, keys KeyVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential, fromHeader := bearer(c.GetHeader("Authorization"))
		if !fromHeader {
			cookie, err := c.Cookie("access_token")
			if err != nil || cookie == "" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing access token"})
				c.Abort()
				return
			}
			credential = cookie
		}

		if strings.HasPrefix(credential, auth.KeyPrefix) {
			if keys == nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid api key"})
				c.Abort()
				return
			}
			key, err := keys.VerifyAPIKey(credential)
			if err != nil {
				status := http.StatusUnauthorized
				msg := "Invalid api key"
				if !errors.Is(err, auth.ErrInvalidAPIKey) {
					status, msg = http.StatusInternalServerError, "api key lookup failed"
				}
				c.JSON(status, gin.H{"error": msg})
				c.Abort()
				return
			}
			c.Set(PrincipalKey, "apikey:"+key.Name)
			c.Set(AuthMethodKey, "apikey")
			c.Next()
			return
		}

		subject, err := verifyJWT(credential, jwtSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}
		c.Set(PrincipalKey, subject)
		c.Set(AuthMethodKey, "jwt")
		c.Next()
	}
}

func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// verifyJWT returns the token subject, falling back to the user_id claim.
func verifyJWT(raw, secret string) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret not configured")
	}
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	switch v := claims["user_id"].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
	return "", errors.New("token has no subject")
}
