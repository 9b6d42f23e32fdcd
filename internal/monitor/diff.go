package monitor

import (
	"fmt"
	"strings"
)

// Change is one detected difference between two snapshots. Changes are
// produced in a fixed per-adapter field order so identical diffs always
// yield the same event sequence.
type Change struct {
	Type    string
	Summary string
	Payload map[string]any
}

// counterChange reports any inequality of a scalar counter, with a signed
// delta in the summary. Returns nil when either side has no data or the
// values match.
func counterChange(eventType, label string, old, cur *int) *Change {
	if old == nil || cur == nil || *cur == *old {
		return nil
	}
	return &Change{
		Type:    eventType,
		Summary: fmt.Sprintf("%s: %d -> %d (%+d)", label, *old, *cur, *cur-*old),
		Payload: map[string]any{"old": *old, "new": *cur},
	}
}

// growthChange fires only when a monotonic counter increased. A decrease is
// a deletion, which is not what this event type means.
func growthChange(eventType, noun string, old, cur *int) *Change {
	if old == nil || cur == nil || *cur <= *old {
		return nil
	}
	return &Change{
		Type:    eventType,
		Summary: fmt.Sprintf("%d new %s(s) (%d -> %d)", *cur-*old, noun, *old, *cur),
		Payload: map[string]any{"old": *old, "new": *cur},
	}
}

// textChange fires on a non-empty-to-different-non-empty transition. An
// empty old value is treated as no prior data.
func textChange(eventType, summary string, old, cur string, payload map[string]any) *Change {
	if old == "" || cur == old {
		return nil
	}
	return &Change{Type: eventType, Summary: summary, Payload: payload}
}

// boolChange fires on any flip of a flag.
func boolChange(eventType, summary string, old, cur *bool) *Change {
	if old == nil || cur == nil || *cur == *old {
		return nil
	}
	return &Change{
		Type:    eventType,
		Summary: summary,
		Payload: map[string]any{"old": *old, "new": *cur},
	}
}

// setDiff compares two URI-keyed lists and reports additions and removals as
// separate changes naming the affected entries. A URI present in both sets
// produces nothing, even if its display name changed. Either side being nil
// (data unavailable) suppresses the diff entirely.
func setDiff(addType, removeType, addLabel, removeLabel string, old, cur []ProfileRef) []Change {
	if old == nil || cur == nil {
		return nil
	}

	oldURIs := make(map[string]bool, len(old))
	for _, r := range old {
		if r.URI != "" {
			oldURIs[r.URI] = true
		}
	}
	curURIs := make(map[string]bool, len(cur))
	for _, r := range cur {
		if r.URI != "" {
			curURIs[r.URI] = true
		}
	}

	var changes []Change
	if names := namesOf(cur, func(uri string) bool { return !oldURIs[uri] }); len(names) > 0 {
		changes = append(changes, Change{
			Type:    addType,
			Summary: fmt.Sprintf("%s: %s", addLabel, strings.Join(names, ", ")),
			Payload: map[string]any{"names": names},
		})
	}
	if names := namesOf(old, func(uri string) bool { return !curURIs[uri] }); len(names) > 0 {
		changes = append(changes, Change{
			Type:    removeType,
			Summary: fmt.Sprintf("%s: %s", removeLabel, strings.Join(names, ", ")),
			Payload: map[string]any{"names": names},
		})
	}
	return changes
}

func namesOf(refs []ProfileRef, match func(uri string) bool) []string {
	var names []string
	for _, r := range refs {
		if r.URI == "" || !match(r.URI) {
			continue
		}
		name := r.Name
		if name == "" {
			name = "?"
		}
		names = append(names, name)
	}
	return names
}

// playlistRefs narrows playlists to the identifier fields the diff keys on.
func playlistRefs(playlists []PlaylistRef) []ProfileRef {
	if playlists == nil {
		return nil
	}
	refs := make([]ProfileRef, 0, len(playlists))
	for _, p := range playlists {
		refs = append(refs, ProfileRef{Name: p.Name, URI: p.URI})
	}
	return refs
}

// appendChange keeps call sites of the nil-returning helpers tidy.
func appendChange(dst []Change, c *Change) []Change {
	if c == nil {
		return dst
	}
	return append(dst, *c)
}
