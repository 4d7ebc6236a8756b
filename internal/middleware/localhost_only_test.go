package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func serve(handler gin.HandlerFunc, req *http.Request) int {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", handler, func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRequireToken(t *testing.T) {
	mw := RequireToken(testLogger(), "X-Keeper-Token", "s3cret")

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(mw, req))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Keeper-Token", "wrong")
	assert.Equal(t, http.StatusUnauthorized, serve(mw, req))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Keeper-Token", "s3cret")
	assert.Equal(t, http.StatusOK, serve(mw, req))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, serve(mw, req))
}

func TestRequireTokenUnconfiguredRejectsAll(t *testing.T) {
	mw := RequireToken(testLogger(), "X-Oracle-Token", "")
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(mw, req))
}

func TestLocalhostOnly(t *testing.T) {
	mw := NewLocalhostOnly(testLogger(), []string{"10.1.0.0/16", "192.0.2.7"}).Restrict()

	for addr, want := range map[string]int{
		"127.0.0.1:4000":  http.StatusOK,
		"10.1.2.3:4000":   http.StatusOK,
		"192.0.2.7:4000":  http.StatusOK,
		"192.0.2.8:4000":  http.StatusForbidden,
		"203.0.113.5:443": http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.RemoteAddr = addr
		assert.Equal(t, want, serve(mw, req), addr)
	}
}
