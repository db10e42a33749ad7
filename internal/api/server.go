package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"calendarmerge/internal/calendar"
	"calendarmerge/internal/coordinator"

	"go.uber.org/zap"
)

// Server exposes the merged calendar over HTTP for Home Assistant REST
// sensors and automations.
type Server struct {
	coord  *coordinator.Coordinator
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a new API server
func NewServer(coord *coordinator.Coordinator, logger *zap.Logger, port int) *Server {
	s := &Server{
		coord:  coord,
		logger: logger.Named("api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleSitemap)
	mux.HandleFunc("/api/state", s.handleGetState)
	mux.HandleFunc("/api/events/{n}", s.handleGetEvent)
	mux.HandleFunc("/api/calendar", s.handleCalendar)
	mux.HandleFunc("/api/refresh", s.handleRefresh)
	mux.HandleFunc("/api/toggle_show_as_time_to", s.handleToggle)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// StateResponse is the main sensor: the event count plus every event.
type StateResponse struct {
	Name       string          `json:"name"`
	State      int             `json:"state"`
	Attributes StateAttributes `json:"attributes"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// StateAttributes are the attributes of the main sensor.
type StateAttributes struct {
	Events       []map[string]interface{} `json:"events"`
	MarkdownText string                   `json:"markdown_text"`
}

// EventResponse is one per-event sensor.
type EventResponse struct {
	Name       string                 `json:"name"`
	EntityID   string                 `json:"entity_id"`
	State      string                 `json:"state"`
	Attributes map[string]interface{} `json:"attributes"`
}

// CalendarResponse lists the events overlapping a requested range.
type CalendarResponse struct {
	Start  time.Time        `json:"start"`
	End    time.Time        `json:"end"`
	Events []calendar.Event `json:"events"`
}

// ToggleResponse reports the phrasing after a toggle.
type ToggleResponse struct {
	ShowAsTimeTo bool `json:"show_event_as_time_to"`
	Saved        bool `json:"saved"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// handleGetState returns the main sensor
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeState(w, s.coord.Snapshot())

	s.logger.Debug("State request served",
		zap.String("remote_addr", r.RemoteAddr))
}

// handleGetEvent returns the per-event sensor at index n
func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		http.Error(w, "Event index must be a number", http.StatusBadRequest)
		return
	}

	d, ok := s.coord.Snapshot().Display(n)
	if !ok {
		http.Error(w, fmt.Sprintf("No event at index %d", n), http.StatusNotFound)
		return
	}

	opts := s.coord.Options()
	s.writeJSON(w, http.StatusOK, EventResponse{
		Name:       d.Name,
		EntityID:   fmt.Sprintf("%s_event_%d", opts.Helper(), n),
		State:      d.FormattedEvent,
		Attributes: d.Attributes(),
	})
}

// handleCalendar returns merged events overlapping [start, end)
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	start, err := parseTimeParam(r, "start")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	end, err := parseTimeParam(r, "end")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !start.Before(end) {
		http.Error(w, "start must be before end", http.StatusBadRequest)
		return
	}

	events := s.coord.Merger().EventsBetween(start, end)
	if events == nil {
		events = []calendar.Event{}
	}

	s.writeJSON(w, http.StatusOK, CalendarResponse{Start: start, End: end, Events: events})
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	value := r.URL.Query().Get(name)
	if value == "" {
		return time.Time{}, fmt.Errorf("missing %s parameter", name)
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s parameter: %w", name, err)
	}
	return t, nil
}

// handleRefresh forces a fetch and returns the new main sensor
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.coord.Refresh(r.Context(), true)
	s.logger.Info("Refresh requested", zap.Int("events", snap.State))

	s.writeState(w, snap)
}

func (s *Server) writeState(w http.ResponseWriter, snap coordinator.Snapshot) {
	events := make([]map[string]interface{}, 0, len(snap.Events))
	for _, d := range snap.Events {
		events = append(events, d.Attributes())
	}

	s.writeJSON(w, http.StatusOK, StateResponse{
		Name:  s.coord.Options().Name,
		State: snap.State,
		Attributes: StateAttributes{
			Events:       events,
			MarkdownText: snap.Markdown,
		},
		UpdatedAt: snap.UpdatedAt,
	})
}

// handleToggle flips between absolute and relative phrasing
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	save := false
	if value := r.URL.Query().Get("save_settings"); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			http.Error(w, "save_settings must be a boolean", http.StatusBadRequest)
			return
		}
		save = parsed
	}

	on, err := s.coord.ToggleShowAsTimeTo(r.Context(), save)
	if err != nil {
		s.logger.Error("Failed to toggle show as time to", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, ToggleResponse{ShowAsTimeTo: on, Saved: save})
}

// handleHealth returns a simple health check response
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := map[string]interface{}{
		"status": "ok",
		"events": s.coord.Merger().Len(),
	}
	if err := s.coord.Merger().LastError(); err != nil {
		status["last_error"] = err.Error()
	}
	s.writeJSON(w, http.StatusOK, status)
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

var endpoints = []Endpoint{
	{Path: "/", Method: "GET", Description: "This sitemap"},
	{Path: "/api/state", Method: "GET", Description: "Main sensor: event count, events and markdown_text"},
	{Path: "/api/events/{n}", Method: "GET", Description: "Per-event sensor n (0 based)"},
	{Path: "/api/calendar?start=&end=", Method: "GET", Description: "Events overlapping an RFC 3339 range"},
	{Path: "/api/refresh", Method: "POST", Description: "Fetch all calendars now"},
	{Path: "/api/toggle_show_as_time_to?save_settings=true", Method: "POST", Description: "Switch between dates and relative times"},
	{Path: "/health", Method: "GET", Description: "Health check"},
}

// handleSitemap lists the available endpoints
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "application/json") {
		s.writeJSON(w, http.StatusOK, endpoints)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Calendar Merge API\n")
	fmt.Fprintf(w, "==================\n\n")
	for _, ep := range endpoints {
		fmt.Fprintf(w, "  %-6s %-48s %s\n", ep.Method, ep.Path, ep.Description)
	}
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
