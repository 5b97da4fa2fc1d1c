// Package permissions decides whether a tool call may run without user
// confirmation, based on configurable Allow/Ask/Deny patterns.
package permissions

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Decision is the outcome of a permission check for one tool call.
type Decision int

const (
	// Ask means the call needs explicit approval (the default).
	Ask Decision = iota
	// Allow means the call is auto-approved.
	Allow
	// Deny means the call is rejected outright.
	Deny
)

func (d Decision) String() string {
	switch d {
	case Ask:
		return "ask"
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "unknown"
	}
}

// Config holds the raw allow/deny pattern lists, typically parsed from
// the runtime configuration file.
type Config struct {
	Allow []string `json:"allow,omitempty" yaml:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty" yaml:"deny,omitempty"`
}

// Checker evaluates tool calls against configured patterns.
//
// Patterns match tool names with globs and may constrain arguments:
// "shell" matches the shell tool, "shell:cmd=ls*" matches only shell
// calls whose cmd argument starts with "ls". Deny wins over Allow;
// anything unmatched falls through to Ask.
type Checker struct {
	allowPatterns []string
	denyPatterns  []string
}

func NewChecker(cfg *Config) *Checker {
	if cfg == nil {
		return &Checker{}
	}
	return &Checker{
		allowPatterns: cfg.Allow,
		denyPatterns:  cfg.Deny,
	}
}

// AllowAll returns a checker that approves every call. Used by the
// --yolo flag and by delegated sub-agents whose parent already approved.
func AllowAll() *Checker {
	return &Checker{allowPatterns: []string{"*"}}
}

// Check evaluates a tool name without arguments.
func (c *Checker) Check(toolName string) Decision {
	return c.CheckWithArgs(toolName, nil)
}

// CheckWithArgs evaluates a tool name and its parsed arguments.
// Evaluation order: Deny first, then Allow, then the Ask default.
func (c *Checker) CheckWithArgs(toolName string, args map[string]any) Decision {
	for _, pattern := range c.denyPatterns {
		if matchToolPattern(pattern, toolName, args) {
			return Deny
		}
	}
	for _, pattern := range c.allowPatterns {
		if matchToolPattern(pattern, toolName, args) {
			return Allow
		}
	}
	return Ask
}

// IsEmpty reports whether no patterns are configured.
func (c *Checker) IsEmpty() bool {
	return len(c.allowPatterns) == 0 && len(c.denyPatterns) == 0
}

// parsePattern splits "toolname:arg1=val1:arg2=val2" into the tool name
// pattern and argument conditions. Tool names may themselves contain
// colons; the split happens at the first ":key=value" segment.
func parsePattern(pattern string) (toolPattern string, argPatterns map[string]string) {
	argPatterns = make(map[string]string)

	parts := strings.Split(pattern, ":")
	toolParts := []string{parts[0]}

	for _, part := range parts[1:] {
		if key, value, found := strings.Cut(part, "="); found && key != "" {
			argPatterns[key] = value
		} else if len(argPatterns) == 0 {
			toolParts = append(toolParts, part)
		}
	}

	return strings.Join(toolParts, ":"), argPatterns
}

func matchToolPattern(pattern, toolName string, args map[string]any) bool {
	toolPattern, argPatterns := parsePattern(pattern)

	if !matchGlob(toolPattern, toolName) {
		return false
	}
	if len(argPatterns) == 0 {
		return true
	}
	if args == nil {
		return false
	}

	for argName, argPattern := range argPatterns {
		argValue, exists := args[argName]
		if !exists {
			return false
		}
		if !matchGlob(argPattern, argToString(argValue)) {
			return false
		}
	}
	return true
}

func argToString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return fmt.Sprintf("%t", val)
	case float64:
		// JSON numbers arrive as float64; format integers without a
		// trailing fraction.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case int, int64:
		return fmt.Sprintf("%d", val)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// matchGlob matches case-insensitively with filepath.Match semantics. A
// trailing "*" is treated as a plain prefix match so that "sudo*" matches
// "sudo rm -rf /" despite the spaces.
func matchGlob(pattern, value string) bool {
	pattern = strings.ToLower(pattern)
	value = strings.ToLower(value)

	if strings.HasSuffix(pattern, "*") && !strings.HasSuffix(pattern, "\\*") {
		prefix := pattern[:len(pattern)-1]
		if !strings.ContainsAny(prefix, "*?[") {
			return strings.HasPrefix(value, prefix)
		}
	}

	matched, err := filepath.Match(pattern, value)
	return err == nil && matched
}
