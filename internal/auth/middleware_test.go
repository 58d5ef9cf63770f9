package auth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/aiscore/internal/auth"
)

const secret = "test-secret"

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.RegisteredClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func validClaims() jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   "user-1",
		Audience:  jwt.ClaimStrings{"aiscore"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
}

func newRouter(secret, audience string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(auth.JWTMiddleware(secret, audience))
	router.GET("/whoami", func(c *gin.Context) {
		subject, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"subject": subject})
	})
	return router
}

func call(router *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestJWTMiddlewareAcceptsValidToken(t *testing.T) {
	router := newRouter(secret, "aiscore")
	resp := call(router, "Bearer "+sign(t, jwt.SigningMethodHS256, []byte(secret), validClaims()))

	require.Equal(t, http.StatusOK, resp.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "user-1", body["subject"])
}

func TestJWTMiddlewareRejections(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noSubject := validClaims()
	noSubject.Subject = ""
	noExpiry := validClaims()
	noExpiry.ExpiresAt = nil
	otherAudience := validClaims()
	otherAudience.Audience = jwt.ClaimStrings{"someone-else"}

	cases := []struct {
		name    string
		header  string
		message string
	}{
		{"missing header", "", "authorization header required"},
		{"wrong scheme", "Basic abc", "invalid authorization header"},
		{"empty token", "Bearer  ", "invalid authorization header"},
		{"wrong key", "Bearer " + sign(t, jwt.SigningMethodHS256, []byte("other"), validClaims()), "invalid token"},
		{"expired", "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(secret), expired), "invalid token"},
		{"no expiry", "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(secret), noExpiry), "invalid token"},
		{"no subject", "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(secret), noSubject), "missing subject"},
		{"audience", "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(secret), otherAudience), "invalid audience"},
		{"none alg", "Bearer " + sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, validClaims()), "invalid token"},
	}

	router := newRouter(secret, "aiscore")
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := call(router, tc.header)
			require.Equal(t, http.StatusUnauthorized, resp.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
			assert.Equal(t, tc.message, body["error"])
			assert.Equal(t, "unauthorized", body["code"])
		})
	}
}

func TestJWTMiddlewareWithoutSecretRejectsEverything(t *testing.T) {
	router := newRouter("  ", "")
	resp := call(router, "Bearer "+sign(t, jwt.SigningMethodHS256, []byte(secret), validClaims()))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}
