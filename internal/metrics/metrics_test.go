package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/boost/internal/model"
	"github.com/pavelanni/boost/internal/session"
)

func TestRecordSubmission(t *testing.T) {
	before := testutil.ToFloat64(submissions.WithLabelValues("B1"))
	Recorder{}.RecordSubmission(model.LevelB1, 12)
	assert.Equal(t, before+1, testutil.ToFloat64(submissions.WithLabelValues("B1")))
}

func TestObserveAuthEvent(t *testing.T) {
	before := testutil.ToFloat64(authEvents.WithLabelValues(string(session.EventSignedIn)))
	ObserveAuthEvent(session.EventSignedIn, nil)
	assert.Equal(t, before+1, testutil.ToFloat64(authEvents.WithLabelValues(string(session.EventSignedIn))))
}

func TestHandlerExposesCounters(t *testing.T) {
	LoginFailed("credentials")
	AdviceRequested(true)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `boost_auth_login_failures_total{reason="credentials"}`)
	assert.Contains(t, string(body), `boost_advice_requests_total{status="ok"}`)
}
