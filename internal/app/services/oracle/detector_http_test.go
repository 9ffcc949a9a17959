package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/provenance_layer/internal/app/domain/oracle"
	"github.com/R3E-Network/provenance_layer/internal/app/domain/provenance"
	"github.com/R3E-Network/provenance_layer/internal/config"
	"github.com/R3E-Network/provenance_layer/pkg/logger"
)

func TestHTTPDetector(t *testing.T) {
	var got detectRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"result": {"label": "synthetic", "score": "91.5"}}`))
	}))
	defer server.Close()

	detector, err := NewHTTPDetector(server.Client(), config.DetectorConfig{
		URL:            server.URL,
		VerdictPath:    "$.result.label",
		ConfidencePath: "$.result.score",
	}, logger.Discard())
	require.NoError(t, err)

	verdict, err := detector.Detect(context.Background(),
		oracle.Detection{ID: "d1"},
		provenance.Record{ID: "c1", Fingerprint: "abcd", Algorithm: "sha256", BlobRef: "blob://x"})
	require.NoError(t, err)
	assert.True(t, verdict.IsAI)
	assert.Equal(t, 91.5, verdict.Confidence)
	assert.Equal(t, "d1", got.DetectionID)
	assert.Equal(t, "blob://x", got.BlobRef)
}

func TestHTTPDetectorDefaultsAndErrors(t *testing.T) {
	body := `{"is_ai": false, "confidence": 12}`
	status := http.StatusOK
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	defer server.Close()

	detector, err := NewHTTPDetector(server.Client(), config.DetectorConfig{URL: server.URL}, logger.Discard())
	require.NoError(t, err)

	verdict, err := detector.Detect(context.Background(), oracle.Detection{}, provenance.Record{})
	require.NoError(t, err)
	assert.False(t, verdict.IsAI)
	assert.Equal(t, 12.0, verdict.Confidence)

	body = `{"is_ai": true, "confidence": 140}`
	_, err = detector.Detect(context.Background(), oracle.Detection{}, provenance.Record{})
	assert.Error(t, err)

	body = `{"is_ai": "maybe", "confidence": 10}`
	_, err = detector.Detect(context.Background(), oracle.Detection{}, provenance.Record{})
	assert.Error(t, err)

	status = http.StatusBadGateway
	_, err = detector.Detect(context.Background(), oracle.Detection{}, provenance.Record{})
	assert.Error(t, err)

	_, err = NewHTTPDetector(nil, config.DetectorConfig{}, nil)
	assert.Error(t, err)
}

type stubDetector struct {
	verdict Verdict
	calls   int32
}

func (s *stubDetector) Detect(context.Context, oracle.Detection, provenance.Record) (Verdict, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.verdict, nil
}

func TestDispatcherSubmitsForBoundOracles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.openDetection(t)
	f.registerOracles(t, "o1", "o2", "o3")

	d := NewDispatcher(f.svc, f.content, logger.Discard())
	ai := &stubDetector{verdict: Verdict{IsAI: true, Confidence: 88}}
	human := &stubDetector{verdict: Verdict{IsAI: false, Confidence: 40}}
	d.WithDetector("o1", ai)
	d.WithDetector("o2", ai)
	d.WithDetector("o3", human)

	d.tick(ctx)

	det, err := f.svc.GetDetection(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, det.SubmissionCount)
	assert.True(t, det.Finalized)
	assert.True(t, det.Verdict)

	// finalized detections are no longer offered
	d.tick(ctx)
	assert.Equal(t, int32(2), atomic.LoadInt32(&ai.calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&human.calls))
}

func TestDispatcherLifecycle(t *testing.T) {
	f := newFixture(t)
	d := NewDispatcher(f.svc, f.content, logger.Discard())
	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Stop(context.Background()))

	d.WithDetector("o1", &stubDetector{})
	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, "oracle-dispatcher", d.Name())
}
