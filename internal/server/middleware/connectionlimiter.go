package middleware

import (
	"log/slog"
	"net/http"
)

// ConnectionCounter reports the number of live local connections.
type ConnectionCounter func() int

// NewConnectionLimiter caps how many WebSocket connections this process will
// accept. A single process owns every socket it accepts, so the cap protects
// the registry and the broadcast loop from unbounded growth. maxConnections
// of zero disables the limiter.
func NewConnectionLimiter(
	logger *slog.Logger,
	counter ConnectionCounter,
	maxConnections int,
) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxConnections <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			count := counter()
			if count < maxConnections {
				next.ServeHTTP(w, r)
				return
			}

			reqMeta, _ := ReqMetadataFrom(r.Context())
			var ip string
			if reqMeta != nil {
				ip = reqMeta.IP
			}
			logger.Warn("Connection limit reached, rejecting upgrade",
				slog.Int("count", count),
				slog.Int("max", maxConnections),
				slog.String("ip", ip),
			)
			http.Error(w, "Too Many Active Connections", http.StatusServiceUnavailable)
		})
	}
}
