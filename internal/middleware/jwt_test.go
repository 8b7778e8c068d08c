package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stockwatch/internal/common"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signedToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func runJWT(t *testing.T, authHeader string) (string, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/local/alerts", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	c := e.NewContext(req, httptest.NewRecorder())

	var subject string
	err := JWTMiddleware(testSecret)(func(c echo.Context) error {
		subject, _ = common.SubjectFromContext(c.Request().Context())
		return nil
	})(c)
	return subject, err
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	token := signedToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
		"sub": "pantry-app",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	subject, err := runJWT(t, "Bearer "+token)
	require.NoError(t, err)
	assert.Equal(t, "pantry-app", subject)
}

func TestJWTMiddleware_Rejects(t *testing.T) {
	expired := signedToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
		"sub": "pantry-app",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	wrongKey := signedToken(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "pantry-app"})
	noSubject := signedToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"scope": "all"})
	wrongAlg := signedToken(t, jwt.SigningMethodHS512, []byte(testSecret), jwt.MapClaims{"sub": "pantry-app"})

	for name, header := range map[string]string{
		"missing":    "",
		"not bearer": "Token abc",
		"expired":    "Bearer " + expired,
		"wrong key":  "Bearer " + wrongKey,
		"no subject": "Bearer " + noSubject,
		"wrong alg":  "Bearer " + wrongAlg,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := runJWT(t, header)
			var httpErr *echo.HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
		})
	}
}
