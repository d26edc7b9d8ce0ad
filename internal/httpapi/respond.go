package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gatehouse.org/internal/admin"
	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/obs"
)

type successEnvelope struct {
	Success    bool   `json:"success"`
	Status     string `json:"status"`
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
}

type errorEnvelope struct {
	Success    bool              `json:"success"`
	Status     string            `json:"status"`
	StatusCode int               `json:"statusCode"`
	Message    string            `json:"message"`
	Path       string            `json:"path"`
	Timestamp  string            `json:"timestamp"`
	RequestID  string            `json:"requestId,omitempty"`
	Errors     []auth.FieldError `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, successEnvelope{Success: true, Status: "success", StatusCode: code, Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string, fields []auth.FieldError) {
	writeJSON(w, code, errorEnvelope{
		Status:     "error",
		StatusCode: code,
		Message:    msg,
		Path:       r.URL.Path,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		RequestID:  RequestIDFromContext(r.Context()),
		Errors:     fields,
	})
}

// writeFailure maps service errors onto status codes. Unknown errors become a
// generic 500 and are logged with their cause.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var (
		throttled   *admin.ThrottledError
		authErr     *auth.AuthError
		validation  *auth.ValidationError
		notFound    *auth.NotFoundError
		tooLarge    *http.MaxBytesError
		syntaxError *json.SyntaxError
	)
	switch {
	case errors.Is(err, admin.ErrTooManyAttempts):
		var wait time.Duration
		if errors.As(err, &throttled) {
			wait = throttled.RetryAfter
		}
		setRetryAfter(w, wait)
		writeError(w, r, http.StatusTooManyRequests, "Too many login attempts", nil)
	case errors.As(err, &authErr):
		writeError(w, r, http.StatusUnauthorized, authErr.Reason, nil)
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, "Unauthorized", nil)
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "Forbidden resource", nil)
	case errors.As(err, &validation):
		writeError(w, r, http.StatusBadRequest, validation.Error(), validation.Fields)
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusBadRequest, "Resource already exists", nil)
	case errors.As(err, &notFound):
		writeError(w, r, http.StatusNotFound, notFound.Message, nil)
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "Resource not found", nil)
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "Resource was modified concurrently, retry the request", nil)
	case errors.As(err, &tooLarge):
		writeError(w, r, http.StatusRequestEntityTooLarge, "Request body too large", nil)
	case errors.As(err, &syntaxError), errors.Is(err, io.ErrUnexpectedEOF):
		writeError(w, r, http.StatusBadRequest, "Malformed JSON body", nil)
	default:
		obs.Logger().Error("request_failed",
			"request_id", RequestIDFromContext(r.Context()),
			"method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, "Internal server error", nil)
	}
}

// decodeJSON reads exactly one JSON value from the body.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return auth.Invalid("body", "Request body is required")
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return auth.Invalid(typeErr.Field, "Invalid value for "+typeErr.Field)
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return auth.Invalid("body", "Unexpected data after JSON body")
	}
	return nil
}

// listQuery reads page, limit, search and order from the query string.
func listQuery(r *http.Request) (auth.Query, error) {
	v := r.URL.Query()
	page, err := parsePositiveInt(v.Get("page"), 1)
	if err != nil {
		return auth.Query{}, auth.Invalid("page", "Page must be a positive integer")
	}
	limit, err := parsePositiveInt(v.Get("limit"), auth.DefaultPageLimit)
	if err != nil {
		return auth.Query{}, auth.Invalid("limit", "Limit must be a positive integer")
	}
	q := auth.Query{Page: page, Limit: limit, Search: v.Get("search")}
	switch strings.ToUpper(strings.TrimSpace(v.Get("order"))) {
	case "", "ASC":
	case "DESC":
		q.Desc = true
	default:
		return auth.Query{}, auth.Invalid("order", "Order must be either ASC or DESC")
	}
	return q.Normalize(), nil
}

func parsePositiveInt(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("not a positive integer")
	}
	return n, nil
}
