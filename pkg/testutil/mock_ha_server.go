// Package testutil provides a mock Home Assistant WebSocket server and
// helpers for end-to-end tests of the calendar merge service.
package testutil

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connWrapper wraps a WebSocket connection with its write mutex
type connWrapper struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (w *connWrapper) write(msg interface{}) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.WriteJSON(msg); err != nil {
		log.Printf("Mock HA write failed: %v", err)
	}
}

// MockHAServer simulates the parts of the Home Assistant WebSocket API the
// calendar merge service uses: states, get_config, calendar.get_events and
// persistent notifications.
type MockHAServer struct {
	server   *http.Server
	listener net.Listener
	addr     string
	token    string

	states   map[string]*EntityState
	statesMu sync.RWMutex

	calendars   map[string][]CalendarEvent
	config      map[string]interface{}
	calendarsMu sync.RWMutex

	connections []*connWrapper
	connsMu     sync.Mutex
	eventDelay  time.Duration // simulates network latency

	serviceCalls []ServiceCall
	callsMu      sync.Mutex
}

// EntityState represents a Home Assistant entity state
type EntityState struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastChanged time.Time              `json:"last_changed"`
	LastUpdated time.Time              `json:"last_updated"`
}

// CalendarEvent is an event as calendar.get_events returns it. Start and End
// are dates ("2024-01-02") or RFC 3339 date-times.
type CalendarEvent struct {
	Start       string `json:"start"`
	End         string `json:"end"`
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
}

// Message represents a WebSocket message
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   *Event          `json:"event,omitempty"`
	Error   *MessageError   `json:"error,omitempty"`
}

// MessageError is the error object of a failed result.
type MessageError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event represents a Home Assistant event
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
}

// StateChangedEvent represents a state_changed event
type StateChangedEvent struct {
	EntityID string       `json:"entity_id"`
	NewState *EntityState `json:"new_state"`
	OldState *EntityState `json:"old_state"`
}

// AuthMessage represents authentication request
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

// CallServiceRequest represents a service call
type CallServiceRequest struct {
	ID             int                    `json:"id"`
	Type           string                 `json:"type"`
	Domain         string                 `json:"domain"`
	Service        string                 `json:"service"`
	ServiceData    map[string]interface{} `json:"service_data,omitempty"`
	Target         *ServiceTarget         `json:"target,omitempty"`
	ReturnResponse bool                   `json:"return_response,omitempty"`
}

// ServiceTarget is the target of a service call
type ServiceTarget struct {
	EntityID []string `json:"entity_id,omitempty"`
}

type idRequest struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
}

// NewMockHAServer creates a mock server listening on addr. Use
// "127.0.0.1:0" for a free port and URL() to find it.
func NewMockHAServer(addr, token string) *MockHAServer {
	return &MockHAServer{
		addr:      addr,
		token:     token,
		states:    make(map[string]*EntityState),
		calendars: make(map[string][]CalendarEvent),
		config: map[string]interface{}{
			"language":      "en",
			"time_zone":     "UTC",
			"location_name": "Home",
		},
		eventDelay: 10 * time.Millisecond,
	}
}

// SetEventDelay sets the delay for broadcasting events
func (s *MockHAServer) SetEventDelay(delay time.Duration) {
	s.eventDelay = delay
}

// Start starts the mock server
func (s *MockHAServer) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket", s.handleWebSocket)
	s.server = &http.Server{Handler: mux}

	go func() {
		if err := s.server.Serve(listener); err != http.ErrServerClosed {
			log.Printf("Mock HA server error: %v", err)
		}
	}()
	return nil
}

// URL returns the websocket url of the running server.
func (s *MockHAServer) URL() string {
	return fmt.Sprintf("ws://%s/api/websocket", s.listener.Addr().String())
}

// Stop stops the mock server
func (s *MockHAServer) Stop() error {
	s.connsMu.Lock()
	for _, wrapper := range s.connections {
		wrapper.conn.Close()
	}
	s.connections = nil
	s.connsMu.Unlock()

	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// SetConfig replaces the get_config result. Use keys such as "language" and
// "time_zone".
func (s *MockHAServer) SetConfig(config map[string]interface{}) {
	s.calendarsMu.Lock()
	defer s.calendarsMu.Unlock()
	s.config = config
}

// SetCalendar creates the calendar entity and the events it returns.
func (s *MockHAServer) SetCalendar(entityID string, events ...CalendarEvent) {
	s.calendarsMu.Lock()
	s.calendars[entityID] = events
	s.calendarsMu.Unlock()

	if s.GetState(entityID) == nil {
		s.SetState(entityID, "off", map[string]interface{}{"friendly_name": entityID})
	}
}

// SetState sets a state and broadcasts change event
func (s *MockHAServer) SetState(entityID, state string, attributes map[string]interface{}) {
	s.statesMu.Lock()
	oldState := s.states[entityID]

	now := time.Now()
	newState := &EntityState{
		EntityID:    entityID,
		State:       state,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
	s.states[entityID] = newState
	s.statesMu.Unlock()

	if s.eventDelay > 0 {
		time.Sleep(s.eventDelay)
	}
	s.broadcastStateChange(entityID, oldState, newState)
}

// GetState retrieves a state
func (s *MockHAServer) GetState(entityID string) *EntityState {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()
	return s.states[entityID]
}

// handleWebSocket handles WebSocket connections
func (s *MockHAServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	wrapper := &connWrapper{conn: conn}

	s.connsMu.Lock()
	s.connections = append(s.connections, wrapper)
	s.connsMu.Unlock()

	defer func() {
		s.connsMu.Lock()
		for i, w := range s.connections {
			if w.conn == conn {
				s.connections = append(s.connections[:i], s.connections[i+1:]...)
				break
			}
		}
		s.connsMu.Unlock()
		conn.Close()
	}()

	wrapper.write(Message{Type: "auth_required"})

	var authMsg AuthMessage
	if err := conn.ReadJSON(&authMsg); err != nil {
		log.Printf("Failed to read auth: %v", err)
		return
	}
	if authMsg.AccessToken != s.token {
		wrapper.write(Message{Type: "auth_invalid"})
		return
	}
	wrapper.write(Message{Type: "auth_ok"})

	for {
		var msg json.RawMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		var req idRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			continue
		}

		switch req.Type {
		case "subscribe_events":
			s.reply(wrapper, req.ID, nil)
		case "get_states":
			s.handleGetStates(wrapper, req.ID)
		case "get_config":
			s.calendarsMu.RLock()
			config := s.config
			s.calendarsMu.RUnlock()
			s.reply(wrapper, req.ID, config)
		case "call_service":
			s.handleCallService(wrapper, msg)
		default:
			s.replyError(wrapper, req.ID, "unknown_command", "Unknown command "+req.Type)
		}
	}
}

func (s *MockHAServer) reply(wrapper *connWrapper, id int, result interface{}) {
	success := true
	msg := Message{ID: id, Type: "result", Success: &success}
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			s.replyError(wrapper, id, "invalid_format", err.Error())
			return
		}
		msg.Result = data
	}
	wrapper.write(msg)
}

func (s *MockHAServer) replyError(wrapper *connWrapper, id int, code, message string) {
	success := false
	wrapper.write(Message{
		ID:      id,
		Type:    "result",
		Success: &success,
		Error:   &MessageError{Code: code, Message: message},
	})
}

// handleGetStates handles get_states requests
func (s *MockHAServer) handleGetStates(wrapper *connWrapper, id int) {
	s.statesMu.RLock()
	states := make([]*EntityState, 0, len(s.states))
	for _, state := range s.states {
		states = append(states, state)
	}
	s.statesMu.RUnlock()

	sort.Slice(states, func(i, j int) bool { return states[i].EntityID < states[j].EntityID })
	s.reply(wrapper, id, states)
}

// handleCallService handles service calls
func (s *MockHAServer) handleCallService(wrapper *connWrapper, msg json.RawMessage) {
	var req CallServiceRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		return
	}

	call := ServiceCall{
		Timestamp:   time.Now(),
		Domain:      req.Domain,
		Service:     req.Service,
		ServiceData: req.ServiceData,
	}
	if req.Target != nil {
		call.Target = req.Target.EntityID
	}
	s.callsMu.Lock()
	s.serviceCalls = append(s.serviceCalls, call)
	s.callsMu.Unlock()

	switch {
	case req.Domain == "calendar" && req.Service == "get_events":
		if !req.ReturnResponse {
			s.replyError(wrapper, req.ID, "service_validation_error", "Service call requires responses but caller did not ask for responses")
			return
		}
		response, err := s.calendarEvents(req)
		if err != nil {
			s.replyError(wrapper, req.ID, "home_assistant_error", err.Error())
			return
		}
		s.reply(wrapper, req.ID, map[string]interface{}{
			"context":  map[string]string{"id": fmt.Sprintf("ctx-%d", req.ID)},
			"response": response,
		})
		return

	case req.Domain == "input_boolean":
		entityID, _ := req.ServiceData["entity_id"].(string)
		if old := s.GetState(entityID); old != nil {
			newState := "off"
			switch req.Service {
			case "turn_on":
				newState = "on"
			case "toggle":
				if old.State == "off" {
					newState = "on"
				}
			}
			s.SetState(entityID, newState, old.Attributes)
		}
	}

	s.reply(wrapper, req.ID, map[string]interface{}{
		"context": map[string]string{"id": fmt.Sprintf("ctx-%d", req.ID)},
	})
}

// calendarEvents answers calendar.get_events with the events of every
// targeted calendar that overlap the requested window.
func (s *MockHAServer) calendarEvents(req CallServiceRequest) (map[string]interface{}, error) {
	if req.Target == nil || len(req.Target.EntityID) == 0 {
		return nil, fmt.Errorf("calendar.get_events needs a target")
	}

	start, err := windowBound(req.ServiceData, "start_date_time")
	if err != nil {
		return nil, err
	}
	end, err := windowBound(req.ServiceData, "end_date_time")
	if err != nil {
		return nil, err
	}

	s.calendarsMu.RLock()
	defer s.calendarsMu.RUnlock()

	response := make(map[string]interface{}, len(req.Target.EntityID))
	for _, id := range req.Target.EntityID {
		events, ok := s.calendars[id]
		if !ok {
			return nil, fmt.Errorf("entity %s is not a calendar", id)
		}

		matched := make([]CalendarEvent, 0, len(events))
		for _, ev := range events {
			evStart, err1 := parseEventTime(ev.Start)
			evEnd, err2 := parseEventTime(ev.End)
			if err1 != nil || err2 != nil {
				// malformed fixtures are passed through untouched
				matched = append(matched, ev)
				continue
			}
			if evStart.Before(end) && evEnd.After(start) {
				matched = append(matched, ev)
			}
		}
		response[id] = map[string]interface{}{"events": matched}
	}
	return response, nil
}

func windowBound(data map[string]interface{}, key string) (time.Time, error) {
	value, _ := data[key].(string)
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q", key, value)
	}
	return t, nil
}

func parseEventTime(value string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}

// broadcastStateChange broadcasts a state change event to all connections
func (s *MockHAServer) broadcastStateChange(entityID string, oldState, newState *EntityState) {
	eventData, _ := json.Marshal(StateChangedEvent{
		EntityID: entityID,
		NewState: newState,
		OldState: oldState,
	})

	msg := Message{
		Type: "event",
		Event: &Event{
			EventType: "state_changed",
			Data:      eventData,
			Origin:    "LOCAL",
			TimeFired: time.Now(),
		},
	}

	s.connsMu.Lock()
	wrappers := make([]*connWrapper, len(s.connections))
	copy(wrappers, s.connections)
	s.connsMu.Unlock()

	for _, wrapper := range wrappers {
		wrapper.write(msg)
	}
}

// GetServiceCalls returns all service calls since last clear
func (s *MockHAServer) GetServiceCalls() []ServiceCall {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	calls := make([]ServiceCall, len(s.serviceCalls))
	copy(calls, s.serviceCalls)
	return calls
}

// ClearServiceCalls resets the service call log
func (s *MockHAServer) ClearServiceCalls() {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	s.serviceCalls = nil
}

// CountServiceCalls counts service calls matching domain and service
func (s *MockHAServer) CountServiceCalls(domain, service string) int {
	return len(FilterServiceCalls(s.GetServiceCalls(), domain, service))
}
