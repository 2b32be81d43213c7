package middlewares

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dq-engine/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

type stubKeys struct {
	keys map[string]string
	err  error
}

func (s stubKeys) VerifyAPIKey(plain string) (*auth.APIKey, error) {
	if s.err != nil {
		return nil, s.err
	}
	name, ok := s.keys[plain]
	if !ok {
		return nil, auth.ErrInvalidAPIKey
	}
	return &auth.APIKey{Name: name}, nil
}

func newTestRouter(keys KeyVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(AuthMiddleware(testSecret, keys))
	r.GET("/ok", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"principal":    c.GetString(PrincipalKey),
			"method":       c.GetString(AuthMethodKey),
			"reached_next": true,
		})
	})
	return r
}

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func doReq(r *gin.Engine, cookie, authorization string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: "access_token", Value: cookie})
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json unmarshal: %v", err)
	}
	return body
}

func TestAuthMiddleware_MissingCredential_401(t *testing.T) {
	w := doReq(newTestRouter(nil), "", "")

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "Missing access token") {
		t.Fatalf("expected Missing access token, got %s", w.Body.String())
	}
}

func TestAuthMiddleware_InvalidTokens_401(t *testing.T) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"ops"}`))

	tests := map[string]string{
		"garbage":      "not-a-jwt",
		"wrong secret": signHS256(t, "other-secret", jwt.MapClaims{"sub": "ops", "exp": time.Now().Add(time.Hour).Unix()}),
		"expired":      signHS256(t, testSecret, jwt.MapClaims{"sub": "ops", "exp": time.Now().Add(-time.Hour).Unix()}),
		"no subject":   signHS256(t, testSecret, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}),
		"bad sig":      header + "." + payload + ".invalidsig",
	}
	r := newTestRouter(nil)
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			w := doReq(r, token, "")
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d body=%s", w.Code, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), "Invalid or expired token") {
				t.Fatalf("expected Invalid or expired token, got %s", w.Body.String())
			}
		})
	}
}

func TestAuthMiddleware_CookieJWT_OK(t *testing.T) {
	token := signHS256(t, testSecret, jwt.MapClaims{"sub": "ops@example.com", "exp": time.Now().Add(time.Hour).Unix()})

	w := doReq(newTestRouter(nil), token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["principal"] != "ops@example.com" || body["method"] != "jwt" || body["reached_next"] != true {
		t.Fatalf("unexpected body %#v", body)
	}
}

func TestAuthMiddleware_BearerJWT_UserIDFallback(t *testing.T) {
	token := signHS256(t, testSecret, jwt.MapClaims{"user_id": float64(42), "exp": time.Now().Add(time.Hour).Unix()})

	w := doReq(newTestRouter(nil), "", "Bearer "+token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	if got := decode(t, w)["principal"]; got != "42" {
		t.Fatalf("expected principal 42, got %#v", got)
	}
}

func TestAuthMiddleware_BearerAPIKey(t *testing.T) {
	r := newTestRouter(stubKeys{keys: map[string]string{"dq_abc.secret": "nightly"}})

	w := doReq(r, "", "Bearer dq_abc.secret")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["principal"] != "apikey:nightly" || body["method"] != "apikey" {
		t.Fatalf("unexpected body %#v", body)
	}

	w = doReq(r, "", "Bearer dq_abc.wrong")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	// the header wins over the cookie
	cookie := signHS256(t, testSecret, jwt.MapClaims{"sub": "ops", "exp": time.Now().Add(time.Hour).Unix()})
	w = doReq(r, cookie, "Bearer dq_abc.wrong")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAuthMiddleware_APIKeyLookupFailure_500(t *testing.T) {
	r := newTestRouter(stubKeys{err: errors.New("db down")})
	w := doReq(r, "", "Bearer dq_abc.secret")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestAuthMiddleware_APIKeyWithoutVerifier_401(t *testing.T) {
	w := doReq(newTestRouter(nil), "", "Bearer dq_abc.secret")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
