package search

import "time"

// defaultSessionTTL bounds how long previous results stay usable for
// follow-ups when the config leaves it unset.
const defaultSessionTTL = 15 * time.Minute

// Session is the per-user search state carried between turns. The
// orchestrator owns the value and passes snapshots in; Run returns the
// updated snapshot for the caller to store.
type Session struct {
	Mode      Mode
	Query     string
	Recency   string
	Results   []SourceItem
	PrimaryID string
	Entity    string
	UpdatedAt time.Time
}

// FreshAt reports whether the session still has usable results at the
// given instant.
func (s Session) FreshAt(now time.Time, ttl time.Duration) bool {
	if len(s.Results) == 0 || s.UpdatedAt.IsZero() {
		return false
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return now.Sub(s.UpdatedAt) <= ttl
}

// primarySource returns the source a deep dive should open: the recorded
// primary when it is still present, otherwise the highest-ranked result.
func (s Session) primarySource() (SourceItem, bool) {
	for _, item := range s.Results {
		if item.ID == s.PrimaryID {
			return item, true
		}
	}
	if len(s.Results) > 0 {
		return s.Results[0], true
	}
	return SourceItem{}, false
}

// seenIDs returns the source ids already shown in this session.
func (s Session) seenIDs() map[string]struct{} {
	seen := make(map[string]struct{}, len(s.Results))
	for _, item := range s.Results {
		seen[item.ID] = struct{}{}
	}
	return seen
}
