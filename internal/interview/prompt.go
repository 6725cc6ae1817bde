package interview

import (
	"fmt"
	"strings"
)

const holdbackRule = `Facilitation rule: never dump every detail at once. Offer the scenario setup, then wait for the candidate’s
clarifying questions or structured hypotheses before revealing each data block. If the candidate stalls,
nudge them with hints rather than giving away full answers.`

// BuildPrompt returns the instructions for running the given interview:
// the format description, the scenario (if any) and the facilitation rule,
// separated by blank lines. It reports false for an unknown pair.
func (c *Catalog) BuildPrompt(slug, interviewType string) (string, bool) {
	co, iv, ok := c.Lookup(slug, interviewType)
	if !ok {
		return "", false
	}

	base := fmt.Sprintf(`You are running a mock interview for %s (%s).
Interview style: %s
Typical phrasing: %s
What to evaluate: %s
Coaching emphasis: %s`, co.Name, interviewType, iv.Description, iv.Phrasing, iv.Evaluation, iv.Tips)

	parts := []string{base}
	if iv.Case != nil {
		if s := iv.Case.format(); s != "" {
			parts = append(parts, s)
		}
	}
	parts = append(parts, holdbackRule)
	return strings.Join(parts, "\n\n"), true
}

func (cs *Case) format() string {
	var lines []string
	if cs.Title != "" {
		lines = append(lines, "### Scenario: "+cs.Title)
	}
	if cs.InitialPrompt != "" {
		lines = append(lines, "Read this initial prompt verbatim to kick off the session:", cs.InitialPrompt)
	}
	if cs.OpeningQuestion != "" {
		lines = append(lines, "Open with this question:", cs.OpeningQuestion)
	}
	if b := bullets(cs.Clarifications); b != "" {
		lines = append(lines, "Clarifications to share only when the candidate proactively asks basic questions:", b)
	}
	if b := bullets(cs.Followups); b != "" {
		lines = append(lines, "Use these follow-up probes to drive depth:", b)
	}
	if len(cs.HeldBack) > 0 {
		blocks := make([]string, 0, len(cs.HeldBack))
		for _, h := range cs.HeldBack {
			details := strings.TrimSpace(h.Details)
			if h.Label == "" {
				blocks = append(blocks, "- "+details)
				continue
			}
			blocks = append(blocks, fmt.Sprintf("- %s: %s", h.Label, details))
		}
		lines = append(lines,
			"Held-back data blocks: do NOT reveal these until the candidate asks for the specific cut or earns it via strong structuring:",
			strings.Join(blocks, "\n"))
	}
	if cs.Instructions != "" {
		lines = append(lines, cs.Instructions)
	}
	if cs.Notes != "" {
		lines = append(lines, "Additional facilitator notes: "+cs.Notes)
	}
	return strings.Join(lines, "\n\n")
}

// bullets renders non-blank items as a dash list.
func bullets(items []string) string {
	var b strings.Builder
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(it)
	}
	return b.String()
}
