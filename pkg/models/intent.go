package models

// Intent is the router's single-label classification of a user message.
type Intent string

const (
	IntentChatOnly             Intent = "chat_only"
	IntentUtilityDeterministic Intent = "utility_deterministic"
	IntentLookupFact           Intent = "lookup_fact"
	IntentLookupNews           Intent = "lookup_news"
	IntentLookupSearch         Intent = "lookup_search"
	IntentBrowseOnce           Intent = "browse_once"
	IntentOneShotDiscovery     Intent = "one_shot_discovery"
	IntentScreenObserve        Intent = "screen_observe"
	IntentFileTask             Intent = "file_task"
	IntentSystemTask           Intent = "system_task"
	IntentMemoryRead           Intent = "memory_read"
	IntentMemoryWrite          Intent = "memory_write"
	IntentGeneralTool          Intent = "general_tool"
)

// AllIntents lists every intent the router can emit. The policy gate's
// table is exhaustive over this set.
var AllIntents = []Intent{
	IntentChatOnly,
	IntentUtilityDeterministic,
	IntentLookupFact,
	IntentLookupNews,
	IntentLookupSearch,
	IntentBrowseOnce,
	IntentOneShotDiscovery,
	IntentScreenObserve,
	IntentFileTask,
	IntentSystemTask,
	IntentMemoryRead,
	IntentMemoryWrite,
	IntentGeneralTool,
}

// Valid reports whether i is one of the closed intent labels.
func (i Intent) Valid() bool {
	for _, known := range AllIntents {
		if i == known {
			return true
		}
	}
	return false
}

// IsLookup reports whether the intent is served by the search orchestrator.
func (i Intent) IsLookup() bool {
	return i == IntentLookupFact || i == IntentLookupNews || i == IntentLookupSearch
}

// Capability is a category of action a tool performs. The policy gate
// exposes tools by capability, never by raw name.
type Capability string

const (
	CapWebSearch            Capability = "web_search"
	CapBrowserControl       Capability = "browser_control"
	CapScreenObserve        Capability = "screen_observe"
	CapFileAccess           Capability = "file_access"
	CapSystemExecute        Capability = "system_execute"
	CapMemoryRead           Capability = "memory_read"
	CapMemoryWrite          Capability = "memory_write"
	CapDeterministicUtility Capability = "deterministic_utility"
	CapMeta                 Capability = "meta"
)

// CapabilitySet is a small value set keyed by capability.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// Has reports whether c is in the set.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Add inserts c into the set.
func (s CapabilitySet) Add(c Capability) {
	s[c] = struct{}{}
}

// Clone returns an independent copy of the set.
func (s CapabilitySet) Clone() CapabilitySet {
	out := make(CapabilitySet, len(s))
	for c := range s {
		out[c] = struct{}{}
	}
	return out
}

// RouterOutput is the router's verdict for one user message. The capability
// set names what the downstream could legitimately need; actual tool
// exposure is decided by the policy gate.
type RouterOutput struct {
	Intent               Intent        `json:"intent"`
	Confidence           float64       `json:"confidence"`
	NeedsWeb             bool          `json:"needs_web"`
	NeedsSearch          bool          `json:"needs_search"`
	RequiredCapabilities CapabilitySet `json:"-"`
}
