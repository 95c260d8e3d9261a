package host

import (
	"fmt"

	"github.com/GriffinCanCode/vsite/internal/config"
	"github.com/GriffinCanCode/vsite/internal/resolver"
	"github.com/GriffinCanCode/vsite/internal/shared/id"
	"github.com/GriffinCanCode/vsite/internal/shared/types"
	"github.com/GriffinCanCode/vsite/internal/vfs"
	"github.com/google/uuid"
)

// Session is the host-owned state of one browsing session: the store, the
// navigation on display and its history. Only the controller loop mutates it.
type Session struct {
	ID         id.SessionID
	Store      *vfs.Store
	Utils      types.Utils
	Navigation types.NavigationState

	history []types.HistoryEntry
	cursor  int
}

// NewSession builds a session from a decoded payload. The payload's current
// path must name an HTML record.
func NewSession(p *types.Payload) (*Session, error) {
	store := vfs.NewStore(p.FileTree)
	path := resolver.Normalize(p.CurrentPath, "")

	rec, ok := store.Get(path)
	if !ok {
		return nil, fmt.Errorf("%w: initial page %s", types.ErrResourceNotFound, path)
	}
	if !rec.IsHTML() {
		return nil, fmt.Errorf("initial page %s is %s, not HTML", path, rec.MimeType)
	}

	utils := p.Utils.Clone()
	if utils == nil {
		utils = types.Utils{}
	}
	return &Session{
		ID:         id.NewSessionID(),
		Store:      store,
		Utils:      utils,
		Navigation: types.NavigationState{CurrentPath: path},
		cursor:     -1,
	}, nil
}

// AppendUtil adds code to the end of a utility script.
func (s *Session) AppendUtil(name, src string) {
	if cur := s.Utils[name]; cur != "" {
		src = cur + "\n" + src
	}
	s.Utils[name] = src
}

// Context is the snapshot handed to a sandbox showing nav. The tree is only
// shared with sandboxes that read files directly.
func (s *Session) Context(nav types.NavigationState, strategy string) types.SharedContext {
	sc := types.SharedContext{Navigation: nav, Utils: s.Utils.Clone()}
	if strategy == config.RetrievalTree {
		sc.FileTree = s.Store.Tree()
	}
	return sc
}

// push records a new navigation, dropping any forward entries.
func (s *Session) push(nav types.NavigationState) types.HistoryEntry {
	entry := types.HistoryEntry{
		Key:           uuid.NewString(),
		Path:          nav.CurrentPath,
		GetParameters: nav.GetParameters,
		Anchor:        nav.Anchor,
	}
	s.history = append(s.history[:s.cursor+1], entry)
	s.cursor = len(s.history) - 1
	return entry
}

// peek returns the entry delta steps from the cursor.
func (s *Session) peek(delta int) (types.HistoryEntry, bool) {
	i := s.cursor + delta
	if i < 0 || i >= len(s.history) {
		return types.HistoryEntry{}, false
	}
	return s.history[i], true
}

func (s *Session) move(delta int) {
	s.cursor += delta
}

// History returns a copy of the history and the cursor position.
func (s *Session) History() ([]types.HistoryEntry, int) {
	return append([]types.HistoryEntry(nil), s.history...), s.cursor
}
