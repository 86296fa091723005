// Package diagram generates visual diagrams from parsed checklists.
// Supports Mermaid flowchart and ASCII formats.
package diagram

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/fleetcheck/pkg/schema"
	"github.com/ormasoftchile/fleetcheck/pkg/skipcond"
)

// Format represents the output diagram format.
type Format string

const (
	FormatMermaid Format = "mermaid"
	FormatASCII   Format = "ascii"
)

// Generate produces a diagram string from a parsed checklist.
func Generate(cl *schema.Checklist, format Format) (string, error) {
	if cl == nil {
		return "", fmt.Errorf("nil checklist")
	}
	switch format {
	case FormatMermaid:
		return generateMermaid(cl), nil
	case FormatASCII:
		return generateASCII(cl), nil
	default:
		return "", fmt.Errorf("unsupported diagram format: %s", format)
	}
}

// --- Mermaid flowchart ---

func generateMermaid(cl *schema.Checklist) string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")

	checks := cl.Checks
	if len(checks) == 0 {
		return b.String()
	}

	b.WriteString("    START([Start]) --> " + safeID(checks[0].ID) + "\n")

	for i, c := range checks {
		b.WriteString("    " + nodeDefinition(c) + "\n")
		if i < len(checks)-1 {
			b.WriteString(fmt.Sprintf("    %s --> %s\n",
				safeID(c.ID), safeID(checks[i+1].ID)))
		}
	}

	// Skip-condition edges: dashed, labeled with the predicate, drawn
	// from the referenced check to the guarded one.
	for _, c := range checks {
		raw := c.SkipCondition()
		if raw == "" {
			continue
		}
		cond, err := skipcond.Parse(raw)
		if err != nil {
			continue
		}
		b.WriteString(fmt.Sprintf("    %s -.->|%q| %s\n",
			safeID(cond.RefID), "skip if "+truncate(cond.Raw, 30), safeID(c.ID)))
	}

	// Dynamic-reference edges: thick, from the source check to the
	// dependent one.
	for _, c := range checks {
		if c.DynamicRef == nil {
			continue
		}
		label := fmt.Sprintf("per %s", c.DynamicRef.AsOrDefault())
		b.WriteString(fmt.Sprintf("    %s ==>|%q| %s\n",
			safeID(c.DynamicRef.Source), label, safeID(c.ID)))
		b.WriteString(fmt.Sprintf("    style %s fill:#1a3a4a,stroke:#0af\n", safeID(c.ID)))
	}

	// Critical checks get a warning style.
	for _, c := range checks {
		if c.Critical {
			b.WriteString(fmt.Sprintf("    style %s stroke:#e60,stroke-width:3px\n", safeID(c.ID)))
		}
	}

	return b.String()
}

// --- ASCII ---

func generateASCII(cl *schema.Checklist) string {
	var b strings.Builder

	name := cl.Meta.Name
	if name == "" {
		name = "Checklist"
	}

	checks := cl.Checks
	if len(checks) == 0 {
		b.WriteString(name + " (empty)\n")
		return b.String()
	}

	// Compute uniform box width so every box and connector aligns.
	const indent = 8
	boxWidth := computeUniformBoxWidth(checks, name)
	connCol := indent + 1 + boxWidth/2
	pad := strings.Repeat(" ", indent)
	connPad := strings.Repeat(" ", connCol)

	headerText := centerPad(name, boxWidth)
	mid := boxWidth / 2
	b.WriteString(pad + "╔" + strings.Repeat("═", boxWidth) + "╗\n")
	b.WriteString(pad + "║" + headerText + "║\n")
	b.WriteString(pad + "╚" + strings.Repeat("═", mid) + "╤" + strings.Repeat("═", boxWidth-mid-1) + "╝\n")
	b.WriteString(connPad + "│\n")

	for i, c := range checks {
		writeASCIICheck(&b, c, indent, boxWidth)
		if i < len(checks)-1 {
			b.WriteString(connPad + "│\n")
		}
	}

	return b.String()
}

// computeUniformBoxWidth returns the widest interior width needed
// across all checks and the header name.
func computeUniformBoxWidth(checks []schema.CheckSpec, name string) int {
	minWidth := 22
	w := minWidth

	nameWidth := runewidth.StringWidth(name) + 4
	if nameWidth > w {
		w = nameWidth
	}

	for _, c := range checks {
		if cw := checkContentWidth(c); cw > w {
			w = cw
		}
	}
	return w
}

// checkContentWidth returns the interior width a single check box needs.
func checkContentWidth(c schema.CheckSpec) int {
	content := fmt.Sprintf(" %s %s ", checkIcon(c), checkLabel(c))
	w := runewidth.StringWidth(content)
	if note := checkNote(c); note != "" {
		if nw := runewidth.StringWidth(" " + note + " "); nw > w {
			w = nw
		}
	}
	return w
}

// centerPad centers s within width using spaces, based on display width.
func centerPad(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	total := width - sw
	left := total / 2
	right := total - left
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", right)
}

func writeASCIICheck(b *strings.Builder, c schema.CheckSpec, indent, boxWidth int) {
	content := fmt.Sprintf(" %s %s ", checkIcon(c), checkLabel(c))
	contentWidth := runewidth.StringWidth(content)

	pad := strings.Repeat(" ", indent)
	topBot := strings.Repeat("─", boxWidth)
	mid := boxWidth / 2

	b.WriteString(pad + "┌" + topBot + "┐\n")
	b.WriteString(pad + "│" + content + strings.Repeat(" ", boxWidth-contentWidth) + "│\n")
	if note := checkNote(c); note != "" {
		line := " " + note + " "
		lw := runewidth.StringWidth(line)
		b.WriteString(pad + "│" + line + strings.Repeat(" ", boxWidth-lw) + "│\n")
	}
	b.WriteString(pad + "└" + strings.Repeat("─", mid) + "┬" + strings.Repeat("─", boxWidth-mid-1) + "┘\n")
}

func checkLabel(c schema.CheckSpec) string {
	if c.Title != "" {
		return c.Title
	}
	return c.ID
}

// checkNote summarizes a check's guard or dynamic dependency for the
// second box line.
func checkNote(c schema.CheckSpec) string {
	if c.DynamicRef != nil {
		return "↻ per " + c.DynamicRef.AsOrDefault() + " from " + c.DynamicRef.Source
	}
	if raw := c.SkipCondition(); raw != "" {
		return "⤳ skip if " + truncate(raw, 40)
	}
	return ""
}

func checkIcon(c schema.CheckSpec) string {
	switch {
	case c.Critical:
		return "⚠"
	case c.DynamicRef != nil:
		return "↻"
	default:
		return "○"
	}
}

// --- string helpers ---

func nodeDefinition(c schema.CheckSpec) string {
	id := safeID(c.ID)
	title := checkLabel(c)
	switch {
	case c.DynamicRef != nil:
		return fmt.Sprintf(`%s[["%s %s"]]`, id, checkIcon(c), escMermaid(title))
	case c.SkipCondition() != "":
		return fmt.Sprintf(`%s{{"%s %s"}}`, id, checkIcon(c), escMermaid(title))
	default:
		return fmt.Sprintf(`%s["%s %s"]`, id, checkIcon(c), escMermaid(title))
	}
}

func safeID(id string) string {
	r := strings.NewReplacer("-", "_", " ", "_", ".", "_")
	return r.Replace(id)
}

func escMermaid(s string) string {
	s = strings.ReplaceAll(s, `"`, "#quot;")
	s = strings.ReplaceAll(s, `'`, "#apos;")
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
