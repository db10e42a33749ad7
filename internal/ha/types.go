package ha

import (
	"encoding/json"
	"time"
)

// Message represents a base WebSocket message to/from Home Assistant
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	Event   *Event          `json:"event,omitempty"`
}

// Error represents an error response from Home Assistant
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthMessage represents authentication request
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

// Event represents an event message from Home Assistant
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
}

// StateChangedEvent represents a state_changed event
type StateChangedEvent struct {
	EntityID string `json:"entity_id"`
	NewState *State `json:"new_state"`
	OldState *State `json:"old_state"`
}

// State represents an entity state
type State struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastChanged time.Time              `json:"last_changed"`
	LastUpdated time.Time              `json:"last_updated"`
}

// Config is the subset of the get_config result the service cares about.
type Config struct {
	Language     string `json:"language"`
	TimeZone     string `json:"time_zone"`
	Country      string `json:"country,omitempty"`
	LocationName string `json:"location_name,omitempty"`
	Version      string `json:"version,omitempty"`
}

// request is implemented by every message that expects a result.
type request interface {
	requestID() int
}

// CallServiceRequest represents a call_service request
type CallServiceRequest struct {
	ID             int                    `json:"id"`
	Type           string                 `json:"type"`
	Domain         string                 `json:"domain"`
	Service        string                 `json:"service"`
	ServiceData    map[string]interface{} `json:"service_data,omitempty"`
	Target         *ServiceTarget         `json:"target,omitempty"`
	ReturnResponse bool                   `json:"return_response,omitempty"`
}

func (r *CallServiceRequest) requestID() int { return r.ID }

// ServiceTarget represents service call target
type ServiceTarget struct {
	EntityID []string `json:"entity_id,omitempty"`
}

// ServiceResult is the result payload of a call_service request. Response is
// only populated when the request asked for return_response.
type ServiceResult struct {
	Context  json.RawMessage `json:"context,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}

// GetStatesRequest represents a get_states request
type GetStatesRequest struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
}

func (r *GetStatesRequest) requestID() int { return r.ID }

// GetConfigRequest represents a get_config request
type GetConfigRequest struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
}

func (r *GetConfigRequest) requestID() int { return r.ID }

// SubscribeEventsRequest represents a subscribe_events request
type SubscribeEventsRequest struct {
	ID        int    `json:"id"`
	Type      string `json:"type"`
	EventType string `json:"event_type,omitempty"`
}

func (r *SubscribeEventsRequest) requestID() int { return r.ID }

// StateChangeHandler is called when a state change event is received
type StateChangeHandler func(entityID string, oldState, newState *State)

// Subscription represents an active event subscription
type Subscription interface {
	Unsubscribe() error
}

// subscriberEntry holds a handler with its unique subscription ID
type subscriberEntry struct {
	subID   int
	handler StateChangeHandler
}

// subscription implements Subscription for the websocket client
type subscription struct {
	entityID string
	subID    int
	client   *Client
}

func (s *subscription) Unsubscribe() error {
	return s.client.unsubscribe(s.entityID, s.subID)
}
