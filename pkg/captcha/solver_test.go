package captcha

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robbine/financial-data-collection/pkg/config"
	"github.com/robbine/financial-data-collection/pkg/utils"
)

func testEntry() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// fakeService mimics the submit/poll protocol, returning the token after
// notReadyPolls poll attempts.
func fakeService(t *testing.T, notReadyPolls int) *httptest.Server {
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/in.php", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "test-key", r.PostFormValue("key"))
		assert.Equal(t, "userrecaptcha", r.PostFormValue("method"))
		assert.Equal(t, "sk-123", r.PostFormValue("sitekey"))
		io.WriteString(w, "OK|42")
	})
	mux.HandleFunc("/res.php", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "42", r.URL.Query().Get("id"))
		if int(atomic.AddInt32(&polls, 1)) <= notReadyPolls {
			io.WriteString(w, "CAPCHA_NOT_READY")
			return
		}
		io.WriteString(w, "OK|solved-token")
	})
	return httptest.NewServer(mux)
}

func newTestSolver(endpoint string, solveTimeout time.Duration) *HTTPSolver {
	return NewHTTPSolver(config.CaptchaConfig{
		Enabled:      true,
		Endpoint:     endpoint,
		APIKey:       "test-key",
		PollInterval: 5 * time.Millisecond,
		SolveTimeout: solveTimeout,
	}, testEntry())
}

func TestHTTPSolver_Disabled(t *testing.T) {
	assert.Nil(t, NewHTTPSolver(config.CaptchaConfig{Enabled: false}, testEntry()))
}

func TestHTTPSolver_SolveAfterPolling(t *testing.T) {
	srv := fakeService(t, 2)
	defer srv.Close()

	s := newTestSolver(srv.URL, time.Second)
	token, err := s.Solve(context.Background(), Challenge{
		Kind: KindRecaptcha, SiteKey: "sk-123", PageURL: "https://data.example/quotes",
	})
	require.NoError(t, err)
	assert.Equal(t, "solved-token", token)
}

func TestHTTPSolver_Timeout(t *testing.T) {
	srv := fakeService(t, 1_000_000) // never ready
	defer srv.Close()

	s := newTestSolver(srv.URL, 40*time.Millisecond)
	_, err := s.Solve(context.Background(), Challenge{Kind: KindRecaptcha, SiteKey: "sk-123"})
	assert.ErrorIs(t, err, utils.ErrCaptchaUnsolved)
}

func TestHTTPSolver_SubmitRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ERROR_WRONG_USER_KEY")
	}))
	defer srv.Close()

	s := newTestSolver(srv.URL, time.Second)
	_, err := s.Solve(context.Background(), Challenge{Kind: KindRecaptcha})
	require.ErrorIs(t, err, utils.ErrCaptchaUnsolved)
	assert.Contains(t, err.Error(), "ERROR_WRONG_USER_KEY")
}

func TestHTTPSolver_ServiceError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/in.php", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "OK|42")
	})
	mux.HandleFunc("/res.php", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ERROR_CAPTCHA_UNSOLVABLE")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newTestSolver(srv.URL, time.Second)
	_, err := s.Solve(context.Background(), Challenge{Kind: KindHCaptcha})
	assert.ErrorIs(t, err, utils.ErrCaptchaUnsolved)
}
