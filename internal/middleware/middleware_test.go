package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/filescope/internal/domain/submission"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(GetClientFromContext(r.Context())))
}

func TestAPIKeyAuth(t *testing.T) {
	h := APIKeyAuth(map[string]string{"ops": "k-123"})(http.HandlerFunc(okHandler))

	tests := []struct {
		name   string
		path   string
		header string
		code   int
		body   string
	}{
		{"health is public", "/health", "", http.StatusOK, ""},
		{"missing header", "/v1/submissions/current", "", http.StatusUnauthorized, ""},
		{"bearer key", "/v1/submissions/current", "Bearer k-123", http.StatusOK, "ops"},
		{"bare key", "/v1/submissions/current", "k-123", http.StatusOK, "ops"},
		{"wrong key", "/v1/submissions/current", "Bearer nope", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusOK {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestAPIKeyAuthDisabledWithoutKeys(t *testing.T) {
	h := APIKeyAuth(nil)(http.HandlerFunc(okHandler))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/records/latest", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	stop := make(chan struct{})
	defer close(stop)
	h := RateLimitMiddleware(2, 1, stop)(http.HandlerFunc(okHandler))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/records/latest", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterSweep(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.Allow("a")
	assert.Zero(t, rl.Sweep(time.Now()))
	assert.Equal(t, 1, rl.Sweep(time.Now().Add(11*time.Minute)))
}

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Get("/v1/analyses/{cid}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })

	before := testutil.ToFloat64(requestsTotal.WithLabelValues("GET", "/v1/analyses/{cid}", "418"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/analyses/bafyabc", nil))
	after := testutil.ToFloat64(requestsTotal.WithLabelValues("GET", "/v1/analyses/{cid}", "418"))
	assert.Equal(t, before+1, after)
}

func TestValidators(t *testing.T) {
	v, err := ValidateVisibility(" Private ")
	require.NoError(t, err)
	assert.Equal(t, submission.VisibilityPrivate, v)
	v, err = ValidateVisibility("")
	require.NoError(t, err)
	assert.Equal(t, submission.VisibilityPublic, v)
	_, err = ValidateVisibility("secret")
	assert.ErrorIs(t, err, submission.ErrValidation)

	_, err = ValidateCID("")
	assert.Error(t, err)
	_, err = ValidateCID("not-a-cid")
	assert.Error(t, err)

	assert.Equal(t, "poll.csv", SanitizeFileName(`..\..\poll.csv`))
	assert.Equal(t, "poll.csv", SanitizeFileName("/tmp/poll\x00.csv"))
	assert.Equal(t, "", SanitizeFileName("/"))

	assert.Equal(t, 20, ValidateLimit(0))
	assert.Equal(t, 100, ValidateLimit(1000))

	q, err := ParseQualityMin("80.5")
	require.NoError(t, err)
	assert.Equal(t, 80.5, q)
	_, err = ParseQualityMin("120")
	assert.Error(t, err)

	b, err := ParseBiasMax("")
	require.NoError(t, err)
	assert.Nil(t, b)
	b, err = ParseBiasMax("0")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Zero(t, *b)
	_, err = ParseBiasMax("101")
	assert.Error(t, err)
}
