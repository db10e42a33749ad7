package testutil

import "time"

// ServiceCall records a service call for testing/verification
type ServiceCall struct {
	Timestamp   time.Time
	Domain      string
	Service     string
	ServiceData map[string]interface{}
	Target      []string
}

// FilterServiceCalls filters service calls by domain and service
func FilterServiceCalls(calls []ServiceCall, domain, service string) []ServiceCall {
	var filtered []ServiceCall
	for _, call := range calls {
		if call.Domain == domain && call.Service == service {
			filtered = append(filtered, call)
		}
	}
	return filtered
}

// FindServiceCallWithData finds the most recent service call with a matching
// data key/value
func FindServiceCallWithData(calls []ServiceCall, domain, service, dataKey string, dataValue interface{}) *ServiceCall {
	for i := len(calls) - 1; i >= 0; i-- {
		call := calls[i]
		if call.Domain == domain && call.Service == service {
			if val, ok := call.ServiceData[dataKey]; ok && val == dataValue {
				return &call
			}
		}
	}
	return nil
}

// Notifications returns the persistent notifications created, keyed by
// notification_id. Later notifications with the same id replace earlier ones,
// as they do in Home Assistant.
func Notifications(calls []ServiceCall) map[string]string {
	out := make(map[string]string)
	for _, call := range FilterServiceCalls(calls, "persistent_notification", "create") {
		id, _ := call.ServiceData["notification_id"].(string)
		message, _ := call.ServiceData["message"].(string)
		out[id] = message
	}
	return out
}
