package handlers

import (
	"context"
	"net/http"
	"time"
)

// Health reports whether the api can reach its record store. The memory store
// leaves Ready nil and is always healthy.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	if a.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.Ready(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("api: health check failed")
			a.json(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "store": "unreachable"})
			return
		}
	}
	a.json(w, http.StatusOK, map[string]string{"status": "ok", "store": "ok"})
}
