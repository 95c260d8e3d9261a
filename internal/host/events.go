package host

import (
	"time"

	"github.com/GriffinCanCode/vsite/internal/shared/types"
)

// EventType names a controller event.
type EventType string

const (
	EventLoading  EventType = "loading"   // a sandbox was launched for a navigation
	EventReady    EventType = "ready"     // the new sandbox replaced the old one
	EventTitle    EventType = "title"     // the page reported its title
	EventNotFound EventType = "not_found" // navigation target missing, nothing changed
	EventOpen     EventType = "open"      // non-HTML target handed out as a download
	EventMenu     EventType = "menu"      // the page asked for the side panel
	EventFailed   EventType = "failed"    // a sandbox could not be launched
)

// Event is what subscribers observe.
type Event struct {
	Type       EventType              `json:"type"`
	Sandbox    string                 `json:"sandbox,omitempty"`
	Navigation *types.NavigationState `json:"navigation,omitempty"`
	Path       string                 `json:"path,omitempty"`
	Title      string                 `json:"title,omitempty"`
	Favicon    string                 `json:"favicon,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Time       time.Time              `json:"time"`
}
