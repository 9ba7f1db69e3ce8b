// Package runtime hosts the per-agent actors of a running world: mailbox
// workers, the should-respond policy and response post-processing.
package runtime

import (
	"regexp"
	"strings"
)

var mentionPattern = regexp.MustCompile(`^@([A-Za-z0-9_-]+)`)

// splitParagraphs splits on blank lines, trimming each paragraph.
func splitParagraphs(content string) []string {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	raw := strings.Split(normalized, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Mentioned reports whether content addresses the named agent: an
// @<name> token, case-insensitive, at the beginning of any paragraph.
func Mentioned(content, agentName string) bool {
	if agentName == "" {
		return false
	}
	for _, p := range splitParagraphs(content) {
		m := mentionPattern.FindStringSubmatch(p)
		if m != nil && strings.EqualFold(m[1], agentName) {
			return true
		}
	}
	return false
}

// Mentions lists the distinct names addressed at paragraph starts, in
// order of first appearance.
func Mentions(content string) []string {
	var out []string
	seen := map[string]bool{}
	for _, p := range splitParagraphs(content) {
		m := mentionPattern.FindStringSubmatch(p)
		if m == nil {
			continue
		}
		key := strings.ToLower(m[1])
		if !seen[key] {
			seen[key] = true
			out = append(out, m[1])
		}
	}
	return out
}

// StripSelfMentions removes the agent's own leading @mention from each
// paragraph so an agent cannot loop by addressing itself.
func StripSelfMentions(content, agentName string) string {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	paragraphs := strings.Split(normalized, "\n\n")
	for i, p := range paragraphs {
		trimmed := strings.TrimLeft(p, " \t")
		m := mentionPattern.FindStringSubmatch(trimmed)
		if m != nil && strings.EqualFold(m[1], agentName) {
			paragraphs[i] = strings.TrimLeft(strings.TrimPrefix(trimmed, m[0]), " \t")
		}
	}
	return strings.TrimSpace(strings.Join(paragraphs, "\n\n"))
}

// EnsureReplyMention prepends @<sender> when a response prompted by an
// agent mention carries no mention of its own, so conversations between
// agents keep flowing.
func EnsureReplyMention(response, originalSender string) string {
	if originalSender == "" || strings.Contains(response, "@") {
		return response
	}
	return "@" + originalSender + " " + response
}
