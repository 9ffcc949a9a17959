package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "github.com/R3E-Network/provenance_layer/internal/errors"
)

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, apperrors.ErrAlreadyVoted.WithDetails("task_id", "t1"))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != apperrors.CodeAlreadyVoted || body.Details["task_id"] != "t1" {
		t.Fatalf("unexpected body: %+v", body)
	}

	rec = httptest.NewRecorder()
	WriteError(rec, errStr("disk on fire"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "disk on fire") {
		t.Fatalf("internal cause leaked: %s", rec.Body.String())
	}
}

type errStr string

func (e errStr) Error() string { return string(e) }

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Stake uint64 `json:"stake"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"stake":1000}`))
	if err := DecodeJSON(req, &v); err != nil || v.Stake != 1000 {
		t.Fatalf("DecodeJSON() = %v, stake %d", err, v.Stake)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"stake":1,"extra":true}`))
	if err := DecodeJSON(req, &v); apperrors.ClassOf(err) != apperrors.ClassValidation {
		t.Fatalf("unknown field should be a validation error, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	if err := DecodeJSON(req, &v); err == nil {
		t.Fatal("empty body should fail")
	}
}

func TestDecodeResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "hello"})
	}))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var result map[string]string
	if err := DecodeResponse(resp, &result); err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if result["message"] != "hello" {
		t.Fatalf("message = %q", result["message"])
	}

	resp, err = http.Get(server.URL + "/bad")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	err = DecodeResponse(resp, nil)
	if err == nil || !strings.Contains(err.Error(), "upstream down") {
		t.Fatalf("expected status error with body, got %v", err)
	}
}

func TestReadAllLimits(t *testing.T) {
	body, truncated, err := ReadAllWithLimit(strings.NewReader("abcdef"), 4)
	if err != nil || !truncated || string(body) != "abcd" {
		t.Fatalf("ReadAllWithLimit = %q, %v, %v", body, truncated, err)
	}
	if _, err := ReadAllStrict(strings.NewReader("abcdef"), 4); err == nil {
		t.Fatal("ReadAllStrict should reject oversized body")
	}
	if b, err := ReadAllStrict(strings.NewReader("abc"), 4); err != nil || string(b) != "abc" {
		t.Fatalf("ReadAllStrict = %q, %v", b, err)
	}
}
