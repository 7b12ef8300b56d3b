package api

import (
	"net/http"

	"golang.org/x/time/rate"

	"github.com/okian/leadflow/pkg/logger"
)

// Option configures a Server.
type Option func(*Server)

// WithMaxLeaderboardLimit caps the leaderboard limit parameter.
func WithMaxLeaderboardLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxLimit = n
		}
	}
}

// WithIngestRateLimit throttles event ingestion to perSecond requests with
// the given burst. A non-positive rate disables throttling.
func WithIngestRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		if perSecond <= 0 {
			s.ingestLimiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.ingestLimiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithMaxUploadBytes caps the batch upload body size.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// WithCORSOrigins sets the allowed CORS origins.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.corsOrigins = origins
		}
	}
}

// WithNotifications mounts the websocket handler on /ws.
func WithNotifications(h http.Handler) Option {
	return func(s *Server) {
		s.notifications = h
	}
}

// WithDocs mounts the API documentation handler.
func WithDocs(h http.Handler) Option {
	return func(s *Server) {
		s.docs = h
	}
}

// WithLogger sets the logger used for server errors.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}
