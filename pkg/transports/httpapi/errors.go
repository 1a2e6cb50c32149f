package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/saaskit/kitdeploy/pkg/engine"
)

// apiError is the error body returned by the remote API.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classify converts a non-2xx response into a classified engine error.
func classify(resp *http.Response, method, path string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var ae apiError
	if err := json.Unmarshal(body, &ae); err != nil || ae.Message == "" {
		ae.Message = http.StatusText(resp.StatusCode)
	}
	cause := fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, ae.Message)

	var e *engine.EngineError
	switch {
	case resp.StatusCode == http.StatusNotFound:
		e = engine.NewPermanentError("resource not found", cause).WithCode(engine.ErrCodeNotFound)
	case resp.StatusCode == http.StatusConflict:
		e = engine.NewConflictError("resource conflict", cause).WithCode(engine.ErrCodeConflict)
	case resp.StatusCode == http.StatusTooManyRequests:
		e = engine.NewThrottledError("rate limited by provider", cause).WithCode(engine.ErrCodeRateLimited)
		if d, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			e.WithDetail("retry_after", d)
		}
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		e = engine.NewPermanentError("access denied by provider", cause).WithCode(engine.ErrCodePermissionDenied)
	case resp.StatusCode >= 500:
		e = engine.NewTransientError("provider unavailable", cause).WithCode(engine.ErrCodeProviderFailed)
	default:
		e = engine.NewPermanentError("provider rejected the request", cause).WithCode(engine.ErrCodeValidation)
	}

	e.WithDetail("status", resp.StatusCode)
	if ae.Code != "" {
		e.WithDetail("provider_code", ae.Code)
	}
	return e
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d, true
		}
	}
	return 0, false
}
