package github

import (
	"fmt"
	"strings"

	"github.com/spigell/network-scout/internal/utils"
)

const readmePreview = 1500

// Summarize renders repositories for the scoring prompt.
func Summarize(repos []*Repository) string {
	if len(repos) == 0 {
		return "(no public repositories)"
	}

	var b strings.Builder
	for _, r := range repos {
		fmt.Fprintf(&b, "- %s", r.Name)
		var meta []string
		if r.Language != "" {
			meta = append(meta, r.Language)
		}
		if r.Stars > 0 {
			meta = append(meta, fmt.Sprintf("%d stars", r.Stars))
		}
		if len(meta) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(meta, ", "))
		}
		if d := strings.TrimSpace(r.Description); d != "" {
			fmt.Fprintf(&b, ": %s", d)
		}
		b.WriteString("\n")
		if readme := strings.TrimSpace(r.Readme); readme != "" {
			fmt.Fprintf(&b, "  README:\n  %s\n", strings.ReplaceAll(utils.TruncateForLog(readme, readmePreview), "\n", "\n  "))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
