// Package httputil holds the JSON request and response helpers shared by the
// API handlers, the middleware and outbound detector calls.
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/R3E-Network/provenance_layer/internal/errors"
)

const (
	// MaxRequestBody bounds inbound JSON bodies.
	MaxRequestBody  = 1 << 20
	maxResponseBody = 8 << 20
	maxErrorBody    = 64 << 10
)

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Code    apperrors.Code  `json:"code"`
	Class   apperrors.Class `json:"class"`
	Message string          `json:"message"`
	Details map[string]any  `json:"details,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err onto its status and writes an ErrorResponse.
// Unclassified errors are reported as internal without leaking the cause.
func WriteError(w http.ResponseWriter, err error) {
	se := apperrors.GetServiceError(err)
	if se == nil {
		se = apperrors.ErrInternal
	}
	WriteJSON(w, apperrors.HTTPStatus(se), ErrorResponse{
		Code:    se.Code,
		Class:   se.Class,
		Message: se.Message,
		Details: se.Details,
	})
}

// DecodeJSON reads a bounded JSON request body into v. Unknown fields are
// rejected.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return apperrors.InvalidArgument("body", "required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.InvalidArgument("body", "required")
		}
		return apperrors.InvalidArgument("body", err.Error())
	}
	return nil
}

// DecodeResponse decodes a JSON response into target and closes the body.
// Non-2xx responses become errors carrying a truncated copy of the body.
func DecodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, truncated, err := ReadAllWithLimit(resp.Body, maxErrorBody)
		if err != nil {
			return fmt.Errorf("read error response body: %w", err)
		}
		msg := strings.TrimSpace(string(body))
		if truncated {
			msg += "...(truncated)"
		}
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, msg)
	}

	if target == nil {
		_, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		return err
	}

	body, err := ReadAllStrict(resp.Body, maxResponseBody)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ReadAllWithLimit reads at most limit bytes and reports whether more were
// available.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(body)) > limit {
		return body[:limit], true, nil
	}
	return body, false, nil
}

// ReadAllStrict reads the whole body or fails when it exceeds limit.
func ReadAllStrict(r io.Reader, limit int64) ([]byte, error) {
	body, truncated, err := ReadAllWithLimit(r, limit)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, fmt.Errorf("body exceeds %d bytes", limit)
	}
	return body, nil
}
