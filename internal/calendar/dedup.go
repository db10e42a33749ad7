package calendar

import "slices"

// RemoveRecurring collapses occurrences of the same recurring series. For each
// event, later events with the same calendar, summary, description and
// start/end time of day are removed, scanning from the back. The survivor is
// the one that came first in the input, which is arrival order when called
// before sorting.
func RemoveRecurring(events []Event) []Event {
	for i := 0; i < len(events)-1; i++ {
		for j := len(events) - 1; j > i; j-- {
			if recurringMatch(events[i], events[j]) {
				events = slices.Delete(events, j, j+1)
			}
		}
	}
	return events
}
