package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"

	"github.com/R3E-Network/provenance_layer/internal/app/domain/oracle"
	"github.com/R3E-Network/provenance_layer/internal/app/domain/provenance"
	"github.com/R3E-Network/provenance_layer/internal/config"
	"github.com/R3E-Network/provenance_layer/internal/httputil"
	"github.com/R3E-Network/provenance_layer/pkg/logger"
)

const (
	defaultVerdictPath    = "$.is_ai"
	defaultConfidencePath = "$.confidence"
)

// Verdict is a detector's answer for one content record.
type Verdict struct {
	IsAI       bool
	Confidence float64
}

// Detector classifies content as AI generated or not.
type Detector interface {
	Detect(ctx context.Context, det oracle.Detection, content provenance.Record) (Verdict, error)
}

// HTTPDetector asks a remote model over HTTP. The response shape is model
// specific, so the verdict and confidence are located with JSONPath
// expressions.
type HTTPDetector struct {
	client         *http.Client
	endpoint       *url.URL
	verdictPath    string
	confidencePath string
	log            *logger.Logger
}

// NewHTTPDetector constructs a detector from configuration.
func NewHTTPDetector(client *http.Client, cfg config.DetectorConfig, log *logger.Logger) (*HTTPDetector, error) {
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		return nil, fmt.Errorf("detector endpoint required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse detector endpoint: %w", err)
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if log == nil {
		log = logger.NewDefault("oracle-http-detector")
	}
	d := &HTTPDetector{
		client:         client,
		endpoint:       parsed,
		verdictPath:    strings.TrimSpace(cfg.VerdictPath),
		confidencePath: strings.TrimSpace(cfg.ConfidencePath),
		log:            log,
	}
	if d.verdictPath == "" {
		d.verdictPath = defaultVerdictPath
	}
	if d.confidencePath == "" {
		d.confidencePath = defaultConfidencePath
	}
	return d, nil
}

type detectRequest struct {
	DetectionID string            `json:"detection_id"`
	ContentID   string            `json:"content_id"`
	Fingerprint string            `json:"fingerprint"`
	Algorithm   string            `json:"algorithm"`
	BlobRef     string            `json:"blob_ref"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (d *HTTPDetector) Detect(ctx context.Context, det oracle.Detection, content provenance.Record) (Verdict, error) {
	body, err := json.Marshal(detectRequest{
		DetectionID: det.ID,
		ContentID:   content.ID,
		Fingerprint: content.Fingerprint,
		Algorithm:   content.Algorithm,
		BlobRef:     content.BlobRef,
		Metadata:    content.Metadata,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("encode detector request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("build detector request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("detector request: %w", err)
	}
	var doc interface{}
	if err := httputil.DecodeResponse(resp, &doc); err != nil {
		return Verdict{}, fmt.Errorf("detector %s: %w", d.endpoint.Host, err)
	}
	rawVerdict, err := jsonpath.Get(d.verdictPath, doc)
	if err != nil {
		return Verdict{}, fmt.Errorf("verdict path %s: %w", d.verdictPath, err)
	}
	isAI, err := asVerdict(rawVerdict)
	if err != nil {
		return Verdict{}, err
	}
	rawConfidence, err := jsonpath.Get(d.confidencePath, doc)
	if err != nil {
		return Verdict{}, fmt.Errorf("confidence path %s: %w", d.confidencePath, err)
	}
	confidence, err := asConfidence(rawConfidence)
	if err != nil {
		return Verdict{}, err
	}
	return Verdict{IsAI: isAI, Confidence: confidence}, nil
}

func asVerdict(v interface{}) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "ai", "synthetic", "generated", "true":
			return true, nil
		case "human", "authentic", "false":
			return false, nil
		}
	}
	return false, fmt.Errorf("unrecognised verdict %v", v)
}

func asConfidence(v interface{}) (float64, error) {
	var c float64
	switch t := v.(type) {
	case float64:
		c = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("parse confidence: %w", err)
		}
		c = parsed
	default:
		return 0, fmt.Errorf("unrecognised confidence %v", v)
	}
	if !validConfidence(c) {
		return 0, fmt.Errorf("confidence %.2f outside [0,100]", c)
	}
	return c, nil
}
