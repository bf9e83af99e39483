package router

import (
	"strings"

	"github.com/haasonsaas/sidekick/pkg/models"
)

type prefixRoute struct {
	token  string
	intent models.Intent
}

// prefixRoutes are the explicit override prefixes. Slash tokens need a word
// boundary after them; colon tokens may run straight into the text
// ("search:btc price").
var prefixRoutes = []prefixRoute{
	{"/search", models.IntentLookupSearch},
	{"search:", models.IntentLookupSearch},
	{"/chat", models.IntentChatOnly},
	{"chat:", models.IntentChatOnly},
	{"/browse", models.IntentBrowseOnce},
	{"browse:", models.IntentBrowseOnce},
	{"/screen", models.IntentScreenObserve},
	{"/remember", models.IntentMemoryWrite},
	{"remember:", models.IntentMemoryWrite},
	{"/recall", models.IntentMemoryRead},
	{"recall:", models.IntentMemoryRead},
}

// matchPrefix checks the message against the override prefixes and returns
// the fixed intent plus the message with the prefix stripped.
func matchPrefix(msg string) (models.Intent, string, bool) {
	low := strings.ToLower(msg)
	for _, p := range prefixRoutes {
		if !strings.HasPrefix(low, p.token) {
			continue
		}
		rest := msg[len(p.token):]
		if !strings.HasSuffix(p.token, ":") && rest != "" && rest[0] != ' ' {
			continue
		}
		return p.intent, strings.TrimSpace(rest), true
	}
	return "", "", false
}
