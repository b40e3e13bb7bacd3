package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/voltwatch/voltwatch/pkg/log"
	"github.com/voltwatch/voltwatch/pkg/storage"
	"github.com/voltwatch/voltwatch/pkg/types"
)

const maxReadingsRange = 7 * 24 * time.Hour

func (s *Server) handleListSites(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sites, err := s.storage.ListSites(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list sites", slog.Any("error", err))
		writeJSONError(w, "failed to list sites", http.StatusInternalServerError)
		return
	}
	if sites == nil {
		sites = []types.Site{}
	}
	writeJSON(w, sites)
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := r.PathValue("siteID")
	ctx = log.WithSite(ctx, siteID)

	start, end, err := s.parseTimeRange(r)
	if err != nil {
		writeJSONError(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}

	if _, err := s.storage.GetSite(ctx, siteID); err != nil {
		if errors.Is(err, storage.ErrSiteNotFound) {
			writeJSONError(w, "site not found", http.StatusNotFound)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to get site", slog.Any("error", err))
		writeJSONError(w, "failed to get site", http.StatusInternalServerError)
		return
	}

	readings, err := s.storage.GetReadings(ctx, siteID, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get readings", slog.Any("error", err))
		writeJSONError(w, "failed to get readings", http.StatusInternalServerError)
		return
	}
	if readings == nil {
		readings = []types.Reading{}
	}

	// readings never change once written so a range that has fully elapsed
	// can be cached for longer
	if end.Before(s.now().Add(-time.Hour)) {
		w.Header().Set("Cache-Control", "private, max-age=86400")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=60")
	}
	writeJSON(w, readings)
}

func (s *Server) handleLatestReading(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := r.PathValue("siteID")
	ctx = log.WithSite(ctx, siteID)

	reading, err := s.storage.GetLatestReading(ctx, siteID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get latest reading", slog.Any("error", err))
		writeJSONError(w, "failed to get latest reading", http.StatusInternalServerError)
		return
	}
	if reading == nil {
		writeJSONError(w, "no readings", http.StatusNotFound)
		return
	}
	writeJSON(w, reading)
}

func (s *Server) parseTimeRange(r *http.Request) (time.Time, time.Time, error) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" || endStr == "" {
		// Default to last 24 hours if not specified
		end := s.now()
		start := end.Add(-24 * time.Hour)
		return start, end, nil
	}

	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start time: %w", err)
	}

	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end time: %w", err)
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("start time must be before end time")
	}

	if end.Sub(start) > maxReadingsRange {
		return time.Time{}, time.Time{}, fmt.Errorf("time range cannot exceed %s", maxReadingsRange)
	}

	return start, end, nil
}
