package service

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// maxBodyBytes caps inbound API request bodies. Media uploads use a
// separate, larger limit.
const (
	maxBodyBytes      = 1 << 20  // 1 MiB
	maxMediaBodyBytes = 16 << 20 // 16 MiB
)

// writeJSON writes a success envelope with the given payload.
func writeJSON(w http.ResponseWriter, status int, data any) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to encode response", "")
			return
		}
		raw = b
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIResponse{OK: true, Data: raw}); err != nil {
		log.Printf("service: failed to write response: %v", err)
	}
}

// writeError writes an error envelope with the given code and message.
func writeError(w http.ResponseWriter, status int, code, message, hint string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := APIResponse{OK: false, Error: NewAPIError(code, message, hint)}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("service: failed to write error response: %v", err)
	}
}

// decodeAndValidate reads the request body into dst and runs struct
// validation. Returns false after writing the error response itself.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "failed to read request body", "")
		return false
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "request body is required", "")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON: "+err.Error(), "")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, validationMessage(err), "")
		return false
	}
	return true
}

// validationMessage renders validator errors as a compact field list.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, "missing required field "+strings.ToLower(fe.Field()))
		case "oneof":
			parts = append(parts, "field "+strings.ToLower(fe.Field())+" must be one of: "+fe.Param())
		default:
			parts = append(parts, "invalid field "+strings.ToLower(fe.Field()))
		}
	}
	return strings.Join(parts, "; ")
}

// clientIP extracts the caller's IP, preferring proxy-set headers over
// the socket address so the relay works behind its own front proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return rip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
