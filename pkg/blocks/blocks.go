// Package blocks implements tolerant extraction of the labeled reasoning
// sections (THOUGHTS, PLAN, EVIDENCE, FINAL_ANSWER, CRITIQUE, DECISION,
// TOOL_CALL) that the Planner/Solver/Verifier triad exchanges with the LLM,
// and the privacy projection that strips chain-of-thought content before a
// message reaches the client stream.
//
// Grounded on arch_team/runtime/cot_postprocessor.py (section regex and
// ui_payload semantics) and pkg/agent/controller/react_parser.go's
// multi-tier, forgiving header detection.
package blocks

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Section keys recognized by Extract.
const (
	Thoughts    = "THOUGHTS"
	Plan        = "PLAN"
	Evidence    = "EVIDENCE"
	FinalAnswer = "FINAL_ANSWER"
	Critique    = "CRITIQUE"
	Decision    = "DECISION"
	ToolCall    = "TOOL_CALL"
)

// sectionRe matches a section header at the start of a line: the header
// keyword, an optional ":" or "-" separator, and anything remaining on the
// line (the "inline" body, if any). Case-insensitive; tolerates "FINAL
// ANSWER", "FINAL-ANSWER", "TOOL CALL", "TOOL-CALL" as spellings of the
// canonical keys.
var sectionRe = regexp.MustCompile(`(?im)^\s*(THOUGHTS?|PLAN|EVIDENCE|FINAL[_\s-]?ANSWER|CRITIQUE|DECISION|TOOL[_\s-]?CALL)[ \t]*[:\-]?[ \t]*(.*)$`)

var fencedBlockRe = regexp.MustCompile(`(?s)` + "```" + `[a-zA-Z0-9_-]*\s*?\r?\n(.*?)\r?\n` + "```")

func normalizeKey(header string) string {
	h := strings.ToUpper(header)
	h = strings.ReplaceAll(h, " ", "_")
	h = strings.ReplaceAll(h, "-", "_")
	switch {
	case strings.HasPrefix(h, "FINAL_ANSWER"):
		return FinalAnswer
	case strings.HasPrefix(h, "TOOL_CALL"):
		return ToolCall
	case strings.HasPrefix(h, "THOUGHT"):
		return Thoughts
	default:
		return h
	}
}

// Extract parses free-form LLM text into its labeled sections. If no
// recognized header is found, the entire text is treated as FINAL_ANSWER
// (matching the original's fallback — unstructured output should still be
// usable as an answer).
func Extract(text string) map[string]string {
	matches := sectionRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		if t := strings.TrimSpace(text); t != "" {
			return map[string]string{FinalAnswer: t}
		}
		return map[string]string{}
	}

	out := map[string]string{}
	for i, m := range matches {
		header := text[m[2]:m[3]]
		key := normalizeKey(header)

		var chunk string
		inlineStart, inlineEnd := m[4], m[5]
		if inlineEnd > inlineStart && strings.TrimSpace(text[inlineStart:inlineEnd]) != "" {
			chunk = strings.TrimSpace(text[inlineStart:inlineEnd])
		} else {
			bodyStart := m[1]
			bodyEnd := len(text)
			if i+1 < len(matches) {
				bodyEnd = matches[i+1][0]
			}
			chunk = strings.TrimSpace(text[bodyStart:bodyEnd])
		}

		if key == Evidence || key == ToolCall {
			chunk = stripFencesPreferLongest(chunk)
		} else {
			chunk = stripFences(chunk)
		}
		out[key] = chunk
	}

	// Post-fix: an EVIDENCE body that collapsed to just a bare fence marker
	// means the fenced block spanned past what the header regex captured as
	// this section's span — recover it from the whole text.
	if v, ok := out[Evidence]; ok && (v == "" || v == "```") {
		if m := fencedBlockRe.FindStringSubmatch(text); m != nil {
			out[Evidence] = strings.TrimSpace(m[1])
		}
	}

	return out
}

// stripFences removes a single pair of surrounding ``` fences, if present,
// returning the body between them. Defensive: returns the input unchanged
// when no fence pair is found.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fencedBlockRe.FindStringSubmatch(s); m != nil {
		if body := strings.TrimSpace(m[1]); body != "" {
			return body
		}
	}
	return s
}

// stripFencesPreferLongest scans for every fenced block in s and returns
// the longest one's body — robust when a section contains explanatory
// prose plus one real fenced payload.
func stripFencesPreferLongest(s string) string {
	matches := fencedBlockRe.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return stripFences(s)
	}
	best := ""
	for _, m := range matches {
		body := strings.TrimSpace(m[1])
		if len(body) > len(best) {
			best = body
		}
	}
	if best != "" {
		return best
	}
	return stripFences(s)
}

// UIPayload computes the client-safe projection of a single round's
// blocks: the FINAL_ANSWER if non-empty, else DECISION, else "". THOUGHTS
// and CRITIQUE never appear in the result (spec.md §3 invariant 5, §4.12).
func UIPayload(b map[string]string) string {
	if v := strings.TrimSpace(b[FinalAnswer]); v != "" {
		return v
	}
	if v := strings.TrimSpace(b[Decision]); v != "" {
		return v
	}
	return ""
}

// UIPayloadSequence computes the client-safe projection across an ordered
// sequence of rounds (e.g. a multi-round reflection loop): the last
// non-empty FINAL_ANSWER, else the last non-empty DECISION, else "".
func UIPayloadSequence(rounds []map[string]string) string {
	if v := findLast(rounds, FinalAnswer); v != "" {
		return v
	}
	return findLast(rounds, Decision)
}

func findLast(rounds []map[string]string, key string) string {
	for i := len(rounds) - 1; i >= 0; i-- {
		if v := strings.TrimSpace(rounds[i][key]); v != "" {
			return v
		}
	}
	return ""
}

// ToolInvocation is a parsed TOOL_CALL request.
type ToolInvocation struct {
	Tool string
	Args map[string]any
}

// jsonObjectRe finds the span from the first "{" to the last "}" to feed to
// json.Unmarshal. Good enough for a single tool payload; nested objects are
// captured whole because the match is greedy, and Unmarshal itself
// validates the result.
var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// ParseToolCall extracts a tool invocation from a TOOL_CALL block body. It
// accepts the canonical {"tool": "...", "args": {...}} shape and the
// legacy {"name": "...", "arguments": {...}} shape (spec.md §4.12).
// Returns ok=false if no valid JSON object describing a tool call is found.
func ParseToolCall(raw string) (ToolInvocation, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ToolInvocation{}, false
	}

	candidate := jsonObjectRe.FindString(raw)
	if candidate == "" {
		return ToolInvocation{}, false
	}

	var canonical struct {
		Tool string         `json:"tool"`
		Args map[string]any `json:"args"`
	}
	if err := json.Unmarshal([]byte(candidate), &canonical); err == nil && canonical.Tool != "" {
		return ToolInvocation{Tool: canonical.Tool, Args: canonical.Args}, true
	}

	var legacy struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(candidate), &legacy); err == nil && legacy.Name != "" {
		return ToolInvocation{Tool: legacy.Name, Args: legacy.Arguments}, true
	}

	return ToolInvocation{}, false
}
