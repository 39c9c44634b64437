package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const healthCheckTimeout = 2 * time.Second

// HealthChecker は依存先（DB、Redis）の疎通確認を行う。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// HealthCheckerFunc は関数をHealthCheckerとして扱うアダプタ。
type HealthCheckerFunc func(ctx context.Context) error

// PingContext はf(ctx)を呼び出す。
func (f HealthCheckerFunc) PingContext(ctx context.Context) error {
	return f(ctx)
}

// NewHealthHandler は /health のハンドラーを返す。
// checkerがnilの場合は常に200を返す。
func NewHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Warn("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
