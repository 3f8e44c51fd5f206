package secrets

import (
	"fmt"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// gitleaksPrefix marks rule ids that came from the gitleaks rule set.
const gitleaksPrefix = "gitleaks:"

// gitleaksDetector wraps the gitleaks default configuration. Building it
// compiles several hundred patterns, so one is shared per Redactor.
type gitleaksDetector struct {
	mu       sync.Mutex
	detector *detect.Detector
}

func newGitleaksDetector() (*gitleaksDetector, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("load gitleaks config: %w", err)
	}
	return &gitleaksDetector{detector: d}, nil
}

type secretMatch struct {
	ruleID string
	secret string
}

func (g *gitleaksDetector) find(text string) []secretMatch {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	findings := g.detector.DetectString(text)
	g.mu.Unlock()

	out := make([]secretMatch, 0, len(findings))
	for _, f := range findings {
		if f.Secret == "" {
			continue
		}
		out = append(out, secretMatch{ruleID: gitleaksPrefix + f.RuleID, secret: f.Secret})
	}
	return out
}

// indexAll returns the spans of every occurrence of secret in text.
func indexAll(text, secret string) []span {
	var spans []span
	for off := 0; off < len(text); {
		i := strings.Index(text[off:], secret)
		if i < 0 {
			break
		}
		start := off + i
		spans = append(spans, span{start, start + len(secret)})
		off = start + len(secret)
	}
	return spans
}
