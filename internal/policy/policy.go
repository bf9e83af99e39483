// Package policy decides, per routed intent, whether the tool loop runs and
// which capabilities the model may see. The table is fixed: tools are
// exposed by capability, never by name, and anything the table does not
// grant stays invisible no matter what the model asks for.
package policy

import (
	"github.com/haasonsaas/sidekick/internal/tools"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// Policy is the gate's verdict for one turn.
type Policy struct {
	// Intent is the effective intent the table row was chosen for. Unknown
	// router labels land on general_tool.
	Intent models.Intent

	// UseToolLoop reports whether the turn may enter the tool loop at all.
	UseToolLoop bool

	// Allowed is the exact capability set the turn may exercise. Empty
	// means the LLM sees zero tools.
	Allowed models.CapabilitySet
}

// Allows reports whether the policy grants the capability.
func (p Policy) Allows(c models.Capability) bool {
	return p.Allowed.Has(c)
}

// Conditions carries the session facts the conditional table rows consult.
type Conditions struct {
	// HasRecentSearch is true while a previous search session is fresh;
	// lookup intents then also get BrowserControl for deep-dive follow-ups.
	HasRecentSearch bool
}

// Evaluate maps a router verdict onto the intent table. It is a pure
// function: same inputs, same policy.
func Evaluate(out models.RouterOutput, cond Conditions) Policy {
	intent := out.Intent
	if !intent.Valid() {
		intent = models.IntentGeneralTool
	}

	switch intent {
	case models.IntentChatOnly, models.IntentUtilityDeterministic:
		return Policy{Intent: intent, UseToolLoop: false, Allowed: models.NewCapabilitySet()}

	case models.IntentMemoryRead:
		// Served entirely by the memory pre-fetch.
		return Policy{Intent: intent, UseToolLoop: false, Allowed: models.NewCapabilitySet()}

	case models.IntentLookupSearch, models.IntentLookupFact, models.IntentLookupNews:
		allowed := models.NewCapabilitySet(models.CapWebSearch)
		if cond.HasRecentSearch {
			allowed.Add(models.CapBrowserControl)
		}
		return Policy{Intent: intent, UseToolLoop: true, Allowed: allowed}

	case models.IntentBrowseOnce:
		return Policy{Intent: intent, UseToolLoop: true, Allowed: models.NewCapabilitySet(models.CapBrowserControl)}

	case models.IntentOneShotDiscovery:
		return Policy{Intent: intent, UseToolLoop: true, Allowed: models.NewCapabilitySet(models.CapWebSearch, models.CapBrowserControl)}

	case models.IntentScreenObserve:
		return Policy{Intent: intent, UseToolLoop: true, Allowed: models.NewCapabilitySet(models.CapScreenObserve)}

	case models.IntentFileTask:
		return Policy{Intent: intent, UseToolLoop: true, Allowed: models.NewCapabilitySet(models.CapFileAccess)}

	case models.IntentSystemTask:
		return Policy{Intent: intent, UseToolLoop: true, Allowed: models.NewCapabilitySet(models.CapSystemExecute)}

	case models.IntentMemoryWrite:
		return Policy{Intent: intent, UseToolLoop: true, Allowed: models.NewCapabilitySet(models.CapMemoryWrite)}

	default:
		// general_tool: the minimal safe set, widened to web search only
		// when the router saw a freshness signal.
		allowed := models.NewCapabilitySet(models.CapMeta)
		if out.NeedsWeb {
			allowed.Add(models.CapWebSearch)
		}
		return Policy{Intent: models.IntentGeneralTool, UseToolLoop: true, Allowed: allowed}
	}
}

// FilterTools keeps exactly the available tools whose canonical name maps,
// through the capability registry, to an allowed capability. Tools the
// registry does not know are hidden.
func FilterTools(available []models.ToolDefinition, p Policy, registry *tools.Registry) []models.ToolDefinition {
	if len(p.Allowed) == 0 {
		return nil
	}
	kept := make([]models.ToolDefinition, 0, len(available))
	for _, def := range available {
		capability, ok := registry.Capability(def.Name)
		if !ok {
			continue
		}
		if p.Allowed.Has(capability) {
			kept = append(kept, def)
		}
	}
	return kept
}
