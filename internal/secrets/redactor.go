package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/agentloop/internal/agent"
)

// DefaultReplacement stands in for every redacted span.
const DefaultReplacement = "[REDACTED]"

// Options configure a Redactor.
type Options struct {
	// Rules replace DefaultRules when non-nil.
	Rules []Rule
	// ExtraRules are appended to the rule set.
	ExtraRules []Rule
	// AllowList holds patterns for matches that must be kept, such as
	// well-known example keys in documentation.
	AllowList   []string
	Replacement string
	// Gitleaks adds the gitleaks default rule set as a second detector.
	Gitleaks bool
}

// Report summarizes one redaction pass.
type Report struct {
	Total  int            `json:"total"`
	ByRule map[string]int `json:"by_rule,omitempty"`
}

func (r *Report) count(ruleID string) {
	if r.ByRule == nil {
		r.ByRule = make(map[string]int)
	}
	r.ByRule[ruleID]++
	r.Total++
}

func (r *Report) add(other Report) {
	if other.Total == 0 {
		return
	}
	if r.ByRule == nil {
		r.ByRule = make(map[string]int, len(other.ByRule))
	}
	r.Total += other.Total
	for id, n := range other.ByRule {
		r.ByRule[id] += n
	}
}

// Rules returns the matched rule ids, sorted.
func (r Report) Rules() []string {
	ids := make([]string, 0, len(r.ByRule))
	for id := range r.ByRule {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type compiledRule struct {
	id       string
	pattern  *regexp.Regexp
	keywords []string
}

// Redactor replaces credentials in text. A nil *Redactor leaves text
// unchanged. It is safe for concurrent use.
type Redactor struct {
	rules       []compiledRule
	allow       []*regexp.Regexp
	replacement string
	gitleaks    *gitleaksDetector
}

// New compiles the rule set.
func New(opts Options) (*Redactor, error) {
	rules := opts.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	rules = append(append([]Rule(nil), rules...), opts.ExtraRules...)

	r := &Redactor{replacement: opts.Replacement}
	if r.replacement == "" {
		r.replacement = DefaultReplacement
	}

	seen := make(map[string]bool, len(rules))
	for i, rule := range rules {
		if rule.ID == "" {
			return nil, fmt.Errorf("rule %d: id is required", i)
		}
		if seen[rule.ID] {
			return nil, fmt.Errorf("rule %s: duplicate id", rule.ID)
		}
		seen[rule.ID] = true
		if rule.Pattern == "" {
			return nil, fmt.Errorf("rule %s: pattern is required", rule.ID)
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid pattern: %w", rule.ID, err)
		}
		kws := make([]string, len(rule.Keywords))
		for j, kw := range rule.Keywords {
			kws[j] = strings.ToLower(kw)
		}
		r.rules = append(r.rules, compiledRule{id: rule.ID, pattern: re, keywords: kws})
	}

	for i, pattern := range opts.AllowList {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		r.allow = append(r.allow, re)
	}

	if opts.Gitleaks {
		g, err := newGitleaksDetector()
		if err != nil {
			return nil, err
		}
		r.gitleaks = g
	}
	return r, nil
}

// MustNew is New for static setup; it panics on error.
func MustNew(opts Options) *Redactor {
	r, err := New(opts)
	if err != nil {
		panic(err)
	}
	return r
}

type span struct{ start, end int }

// Redact returns text with every match replaced. Overlapping matches are
// merged into one replacement.
func (r *Redactor) Redact(text string) (string, Report) {
	var rep Report
	if r == nil || text == "" {
		return text, rep
	}

	lower := strings.ToLower(text)
	var spans []span
	for _, rule := range r.rules {
		if !hasKeyword(lower, rule.keywords) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(text, -1) {
			if m[0] == m[1] || r.allowed(text[m[0]:m[1]]) {
				continue
			}
			spans = append(spans, span{m[0], m[1]})
			rep.count(rule.id)
		}
	}
	for _, m := range r.gitleaks.find(text) {
		if r.allowed(m.secret) {
			continue
		}
		if found := indexAll(text, m.secret); len(found) > 0 {
			spans = append(spans, found...)
			rep.count(m.ruleID)
		}
	}
	if len(spans) == 0 {
		return text, rep
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, s := range mergeSpans(spans) {
		b.WriteString(text[last:s.start])
		b.WriteString(r.replacement)
		last = s.end
	}
	b.WriteString(text[last:])
	return b.String(), rep
}

// ToolResult redacts both the content and the error message of res.
func (r *Redactor) ToolResult(res agent.ToolResult) (agent.ToolResult, Report) {
	var rep Report
	content, c := r.Redact(res.Content)
	errText, e := r.Redact(res.Error)
	rep.add(c)
	rep.add(e)
	return agent.ToolResult{Content: content, Error: errText}, rep
}

func (r *Redactor) allowed(match string) bool {
	for _, re := range r.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

func hasKeyword(lower string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// mergeSpans sorts spans and joins the ones that overlap or touch.
func mergeSpans(spans []span) []span {
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	merged := spans[:1]
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.start <= last.end {
			last.end = max(last.end, s.end)
			continue
		}
		merged = append(merged, s)
	}
	return merged
}
