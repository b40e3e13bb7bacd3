package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/voltwatch/voltwatch/pkg/log"
)

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	// the scheduler may give up on the request but the tick still finishes
	ctx := context.WithoutCancel(r.Context())

	if s.simulator == nil {
		log.Ctx(ctx).ErrorContext(ctx, "tick requested without a simulator")
		writeJSONError(w, "simulator not configured", http.StatusInternalServerError)
		return
	}

	summary, err := s.simulator.Tick(ctx, s.now())
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "tick failed", slog.Any("error", err))
		writeJSONError(w, "tick failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, summary)
}
