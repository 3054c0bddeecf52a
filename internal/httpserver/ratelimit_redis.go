package httpserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kelvinogodo/atlamarkets/internal/httputil"
)

// RedisRateLimit is a fixed-window limiter shared across instances. It is
// used instead of the in-process limiter when a Redis address is configured;
// on Redis errors it fails open.
func RedisRateLimit(client *redis.Client, perMinute int, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := fmt.Sprintf("ratelimit:%s:%d", clientIP(r), time.Now().Unix()/60)

			count, err := client.Incr(r.Context(), key).Result()
			if err != nil {
				log.Warn().Err(err).Msg("redis rate limit unavailable")
				next.ServeHTTP(w, r)
				return
			}
			if count == 1 {
				client.Expire(r.Context(), key, 2*time.Minute)
			}
			if count > int64(perMinute) {
				httputil.WriteJSON(w, http.StatusTooManyRequests, httputil.ErrorResponse{Error: "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
