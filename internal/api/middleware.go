package api

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
)

const headerRequestID = "X-Request-ID"

type requestIDKey struct{}

// requestIDFrom returns the id assigned by requestIDMiddleware, or "".
func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// requestIDMiddleware echoes the caller's X-Request-ID or assigns a UUID.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// loggingMiddleware writes one access line per request. Server errors log
// at error level; health polls only at debug.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		rw := &responseRecorder{ResponseWriter: w}
		next.ServeHTTP(rw, r)

		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.code(),
			"bytes", rw.written,
			"elapsed", time.Since(began),
			"request_id", requestIDFrom(r.Context()),
		}
		switch {
		case rw.hijacked:
			s.logger.Debug("connection upgraded", args...)
		case rw.code() >= http.StatusInternalServerError:
			s.logger.Error("request failed", args...)
		case r.URL.Path == "/api/v1/health":
			s.logger.Debug("request", args...)
		default:
			s.logger.Info("request", args...)
		}
	})
}

// recoveryMiddleware turns a handler panic into a 500 and logs the stack.
// http.ErrAbortHandler is re-raised so net/http can drop the connection.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(v)
			}
			s.logger.Error("handler panic",
				"panic", v,
				"path", r.URL.Path,
				"request_id", requestIDFrom(r.Context()),
				"stack", string(debug.Stack()),
			)
			writeInternalError(w, "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

const (
	corsAllowedMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsAllowedHeaders = "Content-Type, " + headerRequestID
	corsMaxAge         = "86400"
)

// corsMiddleware answers preflights and tags responses for allowed origins.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", corsAllowedMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
			h.Set("Access-Control-Max-Age", corsMaxAge)
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// originAllowed matches origin against api.cors.allowed_origins. No list
// means any origin; the daemon normally listens on loopback only.
func (s *Server) originAllowed(origin string) bool {
	allowed := s.cfg.CORS.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// maxRequestBodySize is generous: the largest body is a scanner name.
const maxRequestBodySize = 64 << 10

func (s *Server) bodySizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// responseRecorder notes the status and size of a response. It passes
// Hijack through so /ws upgrades work behind the access log.
type responseRecorder struct {
	http.ResponseWriter
	status   int
	written  int
	hijacked bool
}

func (rw *responseRecorder) WriteHeader(status int) {
	if rw.status == 0 {
		rw.status = status
	}
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *responseRecorder) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.written += n
	return n, err
}

func (rw *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer cannot be hijacked")
	}
	conn, buf, err := h.Hijack()
	if err == nil {
		rw.hijacked = true
	}
	return conn, buf, err
}

func (rw *responseRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (rw *responseRecorder) code() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}
