package types

// NavigationState is the simulated location of the page on display.
type NavigationState struct {
	CurrentPath   string `json:"current_path"`
	GetParameters string `json:"getParameters"`
	Anchor        string `json:"anchor"`
}

// HistoryEntry records one completed navigation.
type HistoryEntry struct {
	Key           string `json:"key"`
	Path          string `json:"path"`
	GetParameters string `json:"getParameters"`
	Anchor        string `json:"anchor"`
}

// Navigation returns the state this entry restores.
func (h HistoryEntry) Navigation() NavigationState {
	return NavigationState{
		CurrentPath:   h.Path,
		GetParameters: h.GetParameters,
		Anchor:        h.Anchor,
	}
}

// SharedContext is the snapshot a sandbox receives from the host.
// FileTree is only populated when the sandbox reads files directly.
type SharedContext struct {
	Navigation NavigationState `json:"navigation"`
	Utils      Utils           `json:"utils"`
	FileTree   FileTree        `json:"fileTree,omitempty"`
}

// Payload is the decoded content of a bundle.
type Payload struct {
	CurrentPath string   `json:"current_path"`
	FileTree    FileTree `json:"fileTree"`
	Utils       Utils    `json:"utils"`
}

// Page is a rewritten document ready to be loaded into a sandbox.
type Page struct {
	Navigation NavigationState
	HTML       string
	Title      string
	Favicon    string
}
