package service

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-appsec/relay/relayd/service/proxy"
)

// handleProxy handles every method on /proxy/{key}/{target...}. The
// target remainder names the upstream host and path; the query string
// passes through untouched.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	target := r.PathValue("target")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMediaBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeInvalidRequest, "request body too large", "")
			return
		}
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "failed to read request body", "")
		return
	}

	result, err := s.proxy.Forward(r.Context(), proxy.ForwardInput{
		Method:    r.Method,
		ClientKey: key,
		Target:    target,
		RawQuery:  r.URL.RawQuery,
		Header:    r.Header,
		Body:      body,
	})
	if err != nil {
		s.writeProxyError(w, err)
		return
	}

	// Raw passthrough: the upstream's status and filtered headers are
	// relayed verbatim, not wrapped in the API envelope.
	for name, values := range result.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(result.Status)
	if _, err := w.Write(result.Body); err != nil {
		log.Printf("proxy: failed to write response for key %s: %v", key, err)
	}
}

// writeProxyError maps proxy sentinel errors onto the error taxonomy.
func (s *Server) writeProxyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, proxy.ErrInvalidTarget):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidTarget, err.Error(), "target format is host/path")
	case errors.Is(err, proxy.ErrForbiddenDomain):
		writeError(w, http.StatusForbidden, ErrCodeForbiddenDomain, err.Error(), "")
	case errors.Is(err, proxy.ErrUpstreamTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeUpstreamTimeout, err.Error(), "")
	case errors.Is(err, proxy.ErrUpstreamUnavailable):
		writeError(w, http.StatusBadGateway, ErrCodeUpstreamUnavailable, err.Error(), "")
	default:
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error(), "")
	}
}
