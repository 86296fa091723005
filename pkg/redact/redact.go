// Package redact masks sensitive material in captured command output
// before it reaches logs, traces, or persisted results.
package redact

import (
	"regexp"
	"strings"

	"github.com/ormasoftchile/fleetcheck/pkg/compiler"
)

// Rule is a user-supplied redaction pattern.
type Rule struct {
	Pattern string `yaml:"pattern"`
	Replace string `yaml:"replace"`
}

// CompiledRule is a pre-compiled redaction rule.
type CompiledRule struct {
	Pattern *regexp.Regexp
	Replace string
}

// Compile compiles redaction rules up front so a bad pattern is caught
// before execution starts.
func Compile(rules []Rule) ([]*CompiledRule, error) {
	var compiled []*CompiledRule
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, err
		}
		replace := r.Replace
		if replace == "" {
			replace = "[REDACTED]"
		}
		compiled = append(compiled, &CompiledRule{Pattern: re, Replace: replace})
	}
	return compiled, nil
}

// Apply runs all compiled rules over the given output.
func Apply(output string, rules []*CompiledRule) string {
	result := output
	for _, r := range rules {
		result = r.Pattern.ReplaceAllString(result, r.Replace)
	}
	return result
}

// CredentialRules builds literal redaction rules from inventory
// passwords so a command that echoes one back never leaks it.
func CredentialRules(hosts []compiler.HostSpec) []*CompiledRule {
	seen := make(map[string]bool)
	var compiled []*CompiledRule
	for _, h := range hosts {
		for _, secret := range []string{h.Password, h.ElevatePassword} {
			if len(strings.TrimSpace(secret)) < 4 || seen[secret] {
				continue
			}
			seen[secret] = true
			compiled = append(compiled, &CompiledRule{
				Pattern: regexp.MustCompile(regexp.QuoteMeta(secret)),
				Replace: "[REDACTED]",
			})
		}
	}
	return compiled
}
