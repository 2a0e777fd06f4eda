package kgbuild

import "strings"

// Lexicon supplies the locale-specific heuristics KGBuilder uses to guess
// actors, entities, and actions from a requirement title (spec.md §4.9).
// Open Question decision: pluggable per-locale lexicon with EnglishLexicon
// as the no-supplied-lexicon default (spec.md §9).
type Lexicon struct {
	Name    string
	Actors  []string
	Entities []string
	// ActionSuffixes are trailing substrings that mark a token as a
	// verb-shaped action candidate for this locale.
	ActionSuffixes []string
}

// EnglishLexicon is the default Lexicon.
var EnglishLexicon = Lexicon{
	Name:   "en",
	Actors: []string{"user", "admin", "administrator", "operator", "system", "customer", "guest", "manager"},
	Entities: []string{
		"profile", "password", "token", "role", "account", "form",
		"search_result", "search result", "deployment", "metric", "report", "session",
	},
	ActionSuffixes: []string{"s", "es", "ing"},
}

// GermanLexicon is the German-locale Lexicon variant.
var GermanLexicon = Lexicon{
	Name:   "de",
	Actors: []string{"benutzer", "administrator", "betreiber", "system", "kunde", "gast", "manager"},
	Entities: []string{
		"profil", "passwort", "token", "rolle", "konto", "formular",
		"suchergebnis", "bereitstellung", "metrik", "bericht", "sitzung",
	},
	ActionSuffixes: []string{"en", "t"},
}

// detectActor returns the first lexicon actor found as a case-insensitive
// substring of title, or "" if none match.
func (l Lexicon) detectActor(title string) string {
	lower := strings.ToLower(title)
	for _, a := range l.Actors {
		if strings.Contains(lower, a) {
			return a
		}
	}
	return ""
}

// detectEntities returns every lexicon entity found as a case-insensitive
// substring of title.
func (l Lexicon) detectEntities(title string) []string {
	lower := strings.ToLower(title)
	var out []string
	for _, e := range l.Entities {
		if strings.Contains(lower, e) {
			out = append(out, e)
		}
	}
	return out
}

// detectAction guesses the requirement's action as the first token of
// length >3 whose ending matches one of the lexicon's verb-shape suffixes.
func (l Lexicon) detectAction(title string) string {
	for _, tok := range strings.Fields(title) {
		word := strings.ToLower(strings.Trim(tok, ".,;:!?\"'()"))
		if len(word) <= 3 {
			continue
		}
		for _, suffix := range l.ActionSuffixes {
			if strings.HasSuffix(word, suffix) {
				return word
			}
		}
	}
	return ""
}
