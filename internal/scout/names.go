package scout

import (
	"regexp"
	"strings"
)

// curatedNames maps well-known currency ids to their display names. Ids
// discovered at fetch time that are not listed here get a generated name.
var curatedNames = map[string]string{
	"exalted":           "Exalted Orb",
	"divine":            "Divine Orb",
	"chaos":             "Chaos Orb",
	"mirror":            "Mirror of Kalandra",
	"perfect_exalted":   "Perfect Exalted Orb",
	"orb_of_annulment":  "Orb of Annulment",
	"orb_of_chance":     "Orb of Chance",
	"perfect_chaos":     "Perfect Chaos Orb",
	"fracturing_orb":    "Fracturing Orb",
	"greater_exalted":   "Greater Exalted Orb",
	"perfect_jewellers": "Perfect Jeweller's Orb",
	"omen_of_light":     "Omen of Light",
	"omen_of_whittling": "Omen of Whittling",
	"hinekoras_lock":    "Hinekora's Lock",
}

// curatedIDs is the inverse of curatedNames: lowercase display name back to
// its short id. Deriving it keeps the two tables from drifting apart.
var curatedIDs = func() map[string]string {
	m := make(map[string]string, len(curatedNames))
	for id, name := range curatedNames {
		m[strings.ToLower(name)] = id
	}
	return m
}()

var nonIDChars = regexp.MustCompile(`[^a-z0-9]+`)

// minor words that stay lowercase in generated display names.
var minorWords = map[string]bool{"of": true, "the": true, "and": true}

// CanonicalID normalizes a raw market display name into a stable lowercase
// id. Curated names resolve to their short ids (the ids configuration and
// API defaults use, e.g. "Chaos Orb" -> "chaos"); unknown names fall back to
// lowercased snake_case with punctuation stripped. Two raw names that
// normalize to the same id collide; callers resolve collisions
// first-seen-wins.
func CanonicalID(rawName string) string {
	raw := strings.ToLower(strings.TrimSpace(rawName))
	if id, ok := curatedIDs[raw]; ok {
		return id
	}
	id := nonIDChars.ReplaceAllString(raw, "_")
	return strings.Trim(id, "_")
}

// DisplayName returns the curated name for an id when one exists, otherwise
// it generates one from the id's snake_case words.
func DisplayName(id string) string {
	if name, ok := curatedNames[id]; ok {
		return name
	}
	words := strings.Split(id, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		if i > 0 && minorWords[w] {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
