package testutil

import (
	"fmt"

	"calendarmerge/internal/ha"

	"go.uber.org/zap"
)

// TestEnv is a mock Home Assistant server with a connected client.
type TestEnv struct {
	Server *MockHAServer
	Client *ha.Client
	Logger *zap.Logger
}

// NewTestEnv starts a mock server on a free local port and connects a client.
// Calendars and states should be set up before the code under test starts.
//
// Example usage:
//
//	env, err := testutil.NewTestEnv("test_token")
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer env.Cleanup()
func NewTestEnv(token string) (*TestEnv, error) {
	logger, _ := zap.NewDevelopment()

	server := NewMockHAServer("127.0.0.1:0", token)
	server.SetEventDelay(0)
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("failed to start mock server: %w", err)
	}

	client := ha.NewClient(server.URL(), token, logger)
	if err := client.Connect(); err != nil {
		server.Stop()
		return nil, fmt.Errorf("failed to connect client: %w", err)
	}

	return &TestEnv{
		Server: server,
		Client: client,
		Logger: logger,
	}, nil
}

// Cleanup disconnects the client and stops the server. Always call this in a
// defer after creating the TestEnv.
func (e *TestEnv) Cleanup() {
	if e.Client != nil {
		e.Client.Disconnect()
	}
	if e.Server != nil {
		e.Server.Stop()
	}
}

// GetServiceCalls returns all service calls made to the mock server.
func (e *TestEnv) GetServiceCalls() []ServiceCall {
	return e.Server.GetServiceCalls()
}

// ClearServiceCalls clears the recorded service calls.
func (e *TestEnv) ClearServiceCalls() {
	e.Server.ClearServiceCalls()
}
