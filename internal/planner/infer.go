package planner

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/agentloop/internal/agent"
)

// ArgumentInferrer fills a tool parameter from free text.
type ArgumentInferrer interface {
	Infer(text string, tool agent.ToolDefinition, param string) (any, bool)
}

var (
	quotedRe  = regexp.MustCompile("\"([^\"]+)\"|'([^']+)'|`([^`]+)`")
	urlRe     = regexp.MustCompile(`https?://[^\s"'<>` + "`" + `]+`)
	pathRe    = regexp.MustCompile(`(?:^|[\s(=])((?:~|\.{1,2})?/[^\s"'` + "`" + `,;()]*|[\w.-]+\.[A-Za-z0-9]{1,8})`)
	commandRe = regexp.MustCompile(`(?i)\b(?:run|execute|exec)\s+(?:the\s+)?(?:command\s+)?(.+)$`)
	numberRe  = regexp.MustCompile(`-?\b\d+(?:\.\d+)?\b`)
)

// HeuristicInferrer extracts quoted strings, URLs, path-like tokens,
// shell snippets and numbers, choosing by parameter and tool name.
type HeuristicInferrer struct{}

func (HeuristicInferrer) Infer(text string, tool agent.ToolDefinition, param string) (any, bool) {
	name := strings.ToLower(param)
	toolName := strings.ToLower(tool.Name)

	switch typ := strings.ToLower(tool.Parameters[param]); typ {
	case "integer", "int", "number":
		m := numberRe.FindString(text)
		if m == "" {
			return nil, false
		}
		if typ == "number" {
			f, err := strconv.ParseFloat(m, 64)
			return f, err == nil
		}
		n, err := strconv.Atoi(m)
		return n, err == nil
	case "boolean", "bool":
		return nil, false
	}

	switch {
	case hasAny(name, "url", "uri", "link", "endpoint"):
		return nonEmpty(urlRe.FindString(text))
	case hasAny(name, "path", "file", "dir", "folder", "directory", "filename"):
		return nonEmpty(findPath(text))
	case hasAny(name, "command", "cmd", "shell", "script"):
		return nonEmpty(findCommand(text))
	case hasAny(name, "query", "pattern", "search", "text", "prompt", "message", "input", "question"):
		if q := quoted(text); len(q) > 0 {
			return q[0], true
		}
		return nonEmpty(strings.TrimSpace(text))
	}

	switch {
	case hasAny(toolName, "shell", "exec", "command", "run"):
		return nonEmpty(findCommand(text))
	case hasAny(toolName, "fetch", "http", "url", "web"):
		return nonEmpty(urlRe.FindString(text))
	case hasAny(toolName, "file", "dir", "path", "fs"):
		return nonEmpty(findPath(text))
	}
	if q := quoted(text); len(q) == 1 {
		return q[0], true
	}
	return nil, false
}

func hasAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func nonEmpty(s string) (any, bool) {
	if s == "" {
		return nil, false
	}
	return s, true
}

func quoted(text string) []string {
	var out []string
	for _, m := range quotedRe.FindAllStringSubmatch(text, -1) {
		for _, g := range m[1:] {
			if g != "" {
				out = append(out, g)
				break
			}
		}
	}
	return out
}

func looksLikePath(s string) bool {
	return strings.HasPrefix(s, "/") || strings.HasPrefix(s, "./") ||
		strings.HasPrefix(s, "../") || strings.HasPrefix(s, "~/") || s == "~" ||
		strings.Contains(s, "/") || strings.Contains(s, ".")
}

// findPath prefers a quoted path, then the first path-like token. URLs are
// not paths.
func findPath(text string) string {
	for _, q := range quoted(text) {
		if looksLikePath(q) && !urlRe.MatchString(q) && !strings.Contains(q, " ") {
			return q
		}
	}
	stripped := urlRe.ReplaceAllString(text, " ")
	for _, m := range pathRe.FindAllStringSubmatch(stripped, -1) {
		p := strings.TrimRight(m[1], ".,;:!?")
		if p == "" || p == "." {
			continue
		}
		if _, err := strconv.ParseFloat(p, 64); err == nil {
			continue
		}
		return p
	}
	return ""
}

// findCommand prefers a backticked or quoted snippet, then whatever
// follows "run" or "execute".
func findCommand(text string) string {
	if q := quoted(text); len(q) > 0 {
		return q[0]
	}
	if m := commandRe.FindStringSubmatch(strings.TrimSpace(text)); m != nil {
		cmd := strings.TrimSpace(m[1])
		if !strings.HasSuffix(cmd, "..") {
			cmd = strings.TrimSuffix(cmd, ".")
		}
		return cmd
	}
	return ""
}
