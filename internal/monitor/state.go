package monitor

// SiteState is the per-URL record owned by the engine goroutine.
type SiteState struct {
	Fingerprint    string
	HasFingerprint bool
	OfflineLatched bool
	LastChange     string
}

// StateTable maps normalized URLs to their state. It is not safe for
// concurrent use; the engine is its only writer.
type StateTable struct {
	entries map[string]*SiteState
}

func NewStateTable() *StateTable {
	return &StateTable{entries: make(map[string]*SiteState)}
}

// GetOrInit returns the entry for url, creating an empty one if needed.
func (t *StateTable) GetOrInit(url string) *SiteState {
	s, ok := t.entries[url]
	if !ok {
		s = &SiteState{}
		t.entries[url] = s
	}
	return s
}

// RecordSuccess stores digest as the latest fingerprint and reports whether a
// previous fingerprint existed and differed.
func (t *StateTable) RecordSuccess(url, digest string) bool {
	s := t.GetOrInit(url)
	changed := s.HasFingerprint && s.Fingerprint != digest
	s.Fingerprint = digest
	s.HasFingerprint = true
	return changed
}

// ArmOffline latches the offline flag and reports whether it was unlatched,
// i.e. whether this is the first offline probe of a streak.
func (t *StateTable) ArmOffline(url string) bool {
	s := t.GetOrInit(url)
	if s.OfflineLatched {
		return false
	}
	s.OfflineLatched = true
	return true
}

func (t *StateTable) ClearOffline(url string) {
	t.GetOrInit(url).OfflineLatched = false
}

// Len is the number of distinct URLs tracked.
func (t *StateTable) Len() int { return len(t.entries) }
