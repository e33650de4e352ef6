package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayedHeader    = "Idempotent-Replayed"

	idempotencyTTL     = 24 * time.Hour
	idempotencyLockTTL = time.Minute
	inFlightMarker     = "in-flight"
)

// IdempotencyStore is the subset of redis.Cmdable used to remember responses.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        []byte `json:"body"`
}

type capturingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *capturingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency replays the stored response when a client retries a request with the same
// Idempotency-Key. Keys are scoped to the calling account, so it must run after
// ResolveAccount. A retry that arrives while the first request is still being served gets 409.
// Responses with a 5xx status are not remembered. When the store is unavailable requests are
// served without replay protection.
func Idempotency(store IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyHeader)
		acc, ok := GetAccount(c)
		if store == nil || key == "" || !ok {
			c.Next()
			return
		}
		logger := GetLogger(c)
		ctx := c.Request.Context()
		cacheKey := "idempotency:" + strconv.FormatInt(acc.ID, 10) + ":" + key

		data, err := store.Get(ctx, cacheKey).Bytes()
		switch {
		case err == nil && string(data) == inFlightMarker:
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"success": false,
				"code":    "Conflict",
				"message": "A request with this Idempotency-Key is still in progress",
			})
			return
		case err == nil:
			var cached cachedResponse
			if err := json.Unmarshal(data, &cached); err != nil {
				logger.WarnContext(ctx, "discarding unreadable idempotent response", "error", err)
				store.Del(ctx, cacheKey)
				break
			}
			c.Header(ReplayedHeader, "true")
			c.Data(cached.Status, cached.ContentType, cached.Body)
			c.Abort()
			return
		case !errors.Is(err, redis.Nil):
			logger.WarnContext(ctx, "idempotency store unavailable", "error", err)
			c.Next()
			return
		}

		acquired, err := store.SetNX(ctx, cacheKey, inFlightMarker, idempotencyLockTTL).Result()
		if err != nil {
			logger.WarnContext(ctx, "idempotency store unavailable", "error", err)
			c.Next()
			return
		}
		if !acquired {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"success": false,
				"code":    "Conflict",
				"message": "A request with this Idempotency-Key is still in progress",
			})
			return
		}

		w := &capturingWriter{ResponseWriter: c.Writer}
		c.Writer = w

		c.Next()

		// The request context may already be cancelled once the handler returns.
		sctx := context.WithoutCancel(ctx)
		if w.Status() >= http.StatusInternalServerError {
			if err := store.Del(sctx, cacheKey).Err(); err != nil {
				logger.WarnContext(ctx, "failed to release idempotency key", "error", err)
			}
			return
		}
		payload, err := json.Marshal(cachedResponse{
			Status:      w.Status(),
			ContentType: w.Header().Get("Content-Type"),
			Body:        w.body.Bytes(),
		})
		if err == nil {
			err = store.Set(sctx, cacheKey, payload, idempotencyTTL).Err()
		}
		if err != nil {
			logger.WarnContext(ctx, "failed to store idempotent response", "error", err)
		}
	}
}
