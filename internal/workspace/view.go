package workspace

import (
	"slices"
	"strings"
)

// View is per-session editor state: which folders are open, which
// document is selected and any rename in progress. It is never persisted.
type View struct {
	Expanded map[string]bool
	Selected string

	renaming string
	buffer   string
}

func NewView() *View {
	return &View{Expanded: make(map[string]bool)}
}

func (v *View) ToggleFolder(id string) {
	if v.Expanded[id] {
		delete(v.Expanded, id)
		return
	}
	v.Expanded[id] = true
}

// ExpandedIDs lists the open folders in a stable order.
func (v *View) ExpandedIDs() []string {
	ids := make([]string, 0, len(v.Expanded))
	for id := range v.Expanded {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (v *View) Select(docID string) { v.Selected = docID }

// Forget clears any state that refers to a removed document or folder.
func (v *View) Forget(id string) {
	delete(v.Expanded, id)
	if v.Selected == id {
		v.Selected = ""
	}
	if v.renaming == id {
		v.CancelRename()
	}
}

func (v *View) StartRename(id, current string) {
	v.renaming, v.buffer = id, current
}

func (v *View) SetBuffer(s string) { v.buffer = s }

func (v *View) Renaming() (id, buffer string) { return v.renaming, v.buffer }

func (v *View) CancelRename() {
	v.renaming, v.buffer = "", ""
}

// CommitRename ends the rename and returns what to apply. ok is false
// when nothing was being renamed or the buffer is blank, in which case the
// old name stays.
func (v *View) CommitRename() (id, name string, ok bool) {
	id, name = v.renaming, strings.TrimSpace(v.buffer)
	v.CancelRename()
	if id == "" || name == "" {
		return "", "", false
	}
	return id, name, true
}
