package ha

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ResponseFunc produces the response for a mocked service call with return_response.
type ResponseFunc func(data map[string]interface{}, target *ServiceTarget) (json.RawMessage, error)

// MockClient implements HAClient interface for testing
type MockClient struct {
	states       map[string]*State
	statesMu     sync.RWMutex
	subscribers  map[string][]subscriberEntry
	subsMu       sync.RWMutex
	nextSubID    int
	connected    bool
	connMu       sync.RWMutex
	serviceCalls []ServiceCall
	callsMu      sync.Mutex
	responses    map[string]ResponseFunc
	callErrors   map[string]error
	config       *Config
}

// ServiceCall records a service call for testing
type ServiceCall struct {
	Domain  string
	Service string
	Data    map[string]interface{}
	Target  *ServiceTarget
	Time    time.Time
}

type mockSubscription struct {
	entityID string
	subID    int
	mock     *MockClient
}

func (s *mockSubscription) Unsubscribe() error {
	s.mock.subsMu.Lock()
	defer s.mock.subsMu.Unlock()

	s.mock.subscribers[s.entityID] = removeSubscriber(s.mock.subscribers[s.entityID], s.subID)
	return nil
}

// NewMockClient creates a new mock HA client
func NewMockClient() *MockClient {
	return &MockClient{
		states:       make(map[string]*State),
		subscribers:  make(map[string][]subscriberEntry),
		serviceCalls: make([]ServiceCall, 0),
		responses:    make(map[string]ResponseFunc),
		callErrors:   make(map[string]error),
		config:       &Config{Language: "en", TimeZone: "UTC"},
	}
}

// Connect simulates connecting to Home Assistant
func (m *MockClient) Connect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}

	m.connected = true
	return nil
}

// Disconnect simulates disconnecting
func (m *MockClient) Disconnect() error {
	m.connMu.Lock()
	m.connected = false
	m.connMu.Unlock()

	m.subsMu.Lock()
	m.subscribers = make(map[string][]subscriberEntry)
	m.subsMu.Unlock()
	return nil
}

// IsConnected returns connection status
func (m *MockClient) IsConnected() bool {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.connected
}

// GetState retrieves a mock state
func (m *MockClient) GetState(entityID string) (*State, error) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	state, ok := m.states[entityID]
	if !ok {
		return nil, fmt.Errorf("entity %s not found", entityID)
	}

	return state, nil
}

// GetAllStates retrieves all mock states
func (m *MockClient) GetAllStates() ([]*State, error) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	states := make([]*State, 0, len(m.states))
	for _, state := range m.states {
		states = append(states, state)
	}

	return states, nil
}

// GetConfig returns the mock core configuration
func (m *MockClient) GetConfig() (*Config, error) {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	cfg := *m.config
	return &cfg, nil
}

// SetConfig replaces the configuration returned by GetConfig
func (m *MockClient) SetConfig(cfg Config) {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	m.config = &cfg
}

// SetResponse registers the handler used for domain.service calls with return_response
func (m *MockClient) SetResponse(domain, service string, fn ResponseFunc) {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	m.responses[domain+"."+service] = fn
}

// SetCallError makes every call to domain.service fail with err. A nil err clears it.
func (m *MockClient) SetCallError(domain, service string, err error) {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	if err == nil {
		delete(m.callErrors, domain+"."+service)
		return
	}
	m.callErrors[domain+"."+service] = err
}

// CallService records a service call
func (m *MockClient) CallService(domain, service string, data map[string]interface{}) error {
	if err := m.record(domain, service, data, nil); err != nil {
		return err
	}

	if entityID, ok := data["entity_id"].(string); ok && domain == "input_boolean" {
		value := "off"
		if service == "turn_on" {
			value = "on"
		}
		m.SimulateStateChange(entityID, value)
	}

	return nil
}

// CallServiceWithResponse records the call and answers from the registered ResponseFunc
func (m *MockClient) CallServiceWithResponse(domain, service string, data map[string]interface{}, target *ServiceTarget) (json.RawMessage, error) {
	if err := m.record(domain, service, data, target); err != nil {
		return nil, err
	}

	m.callsMu.Lock()
	fn, ok := m.responses[domain+"."+service]
	m.callsMu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%s.%s returned no response", domain, service)
	}

	return fn(data, target)
}

func (m *MockClient) record(domain, service string, data map[string]interface{}, target *ServiceTarget) error {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	m.serviceCalls = append(m.serviceCalls, ServiceCall{
		Domain:  domain,
		Service: service,
		Data:    data,
		Target:  target,
		Time:    time.Now(),
	})

	return m.callErrors[domain+"."+service]
}

// SubscribeStateChanges subscribes to state changes
func (m *MockClient) SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error) {
	m.subsMu.Lock()
	subID := m.nextSubID
	m.nextSubID++
	m.subscribers[entityID] = append(m.subscribers[entityID], subscriberEntry{
		subID:   subID,
		handler: handler,
	})
	m.subsMu.Unlock()

	return &mockSubscription{
		entityID: entityID,
		subID:    subID,
		mock:     m,
	}, nil
}

// SetState sets a mock state without notifying subscribers
func (m *MockClient) SetState(entityID string, stateValue string, attributes map[string]interface{}) {
	m.statesMu.Lock()
	defer m.statesMu.Unlock()

	now := time.Now()
	m.states[entityID] = &State{
		EntityID:    entityID,
		State:       stateValue,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
}

// SimulateStateChange simulates a state change event
func (m *MockClient) SimulateStateChange(entityID string, newStateValue string) {
	m.statesMu.Lock()
	oldState := m.states[entityID]

	now := time.Now()
	newState := &State{
		EntityID:    entityID,
		State:       newStateValue,
		Attributes:  make(map[string]interface{}),
		LastChanged: now,
		LastUpdated: now,
	}
	if oldState != nil {
		newState.Attributes = oldState.Attributes
	}

	m.states[entityID] = newState
	m.statesMu.Unlock()

	m.subsMu.RLock()
	entries := append([]subscriberEntry(nil), m.subscribers[entityID]...)
	m.subsMu.RUnlock()

	for _, entry := range entries {
		entry.handler(entityID, oldState, newState)
	}
}

// GetServiceCalls returns all recorded service calls
func (m *MockClient) GetServiceCalls() []ServiceCall {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	calls := make([]ServiceCall, len(m.serviceCalls))
	copy(calls, m.serviceCalls)
	return calls
}

// ClearServiceCalls clears the service call history
func (m *MockClient) ClearServiceCalls() {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	m.serviceCalls = make([]ServiceCall, 0)
}
