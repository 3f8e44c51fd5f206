package secrets

// Rule matches one kind of credential. When Keywords is non-empty the rule
// only runs on text containing at least one of them (case-insensitive).
type Rule struct {
	ID       string   `json:"id" koanf:"id"`
	Pattern  string   `json:"pattern" koanf:"pattern"`
	Keywords []string `json:"keywords,omitempty" koanf:"keywords"`
}

// DefaultRules covers credentials that commonly show up in shell output,
// config files and HTTP responses. Self-identifying prefixes run without
// keywords.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "aws-access-key-id", Pattern: `\b(?:A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}\b`},
		{ID: "aws-secret-access-key", Pattern: `(?i)(?:aws_secret_access_key|aws_secret_key|secret_access_key)\s*[:=]\s*['"]?[A-Za-z0-9/+=]{40}['"]?`, Keywords: []string{"secret"}},
		// The body is included when the END line is present; truncated output
		// loses at least the header.
		{ID: "private-key", Pattern: `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----(?:[\s\S]*?-----END (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----)?`},
		{ID: "github-token", Pattern: `\b(?:ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9]{36}\b|\bgithub_pat_[A-Za-z0-9_]{22,}`},
		{ID: "gitlab-token", Pattern: `\bglpat-[A-Za-z0-9\-]{20,}`},
		{ID: "slack-token", Pattern: `\bxox[baprs]-[A-Za-z0-9\-]{10,}`},
		{ID: "stripe-key", Pattern: `\b(?:sk|rk)_(?:live|test)_[A-Za-z0-9]{24,}`},
		{ID: "anthropic-api-key", Pattern: `\bsk-ant-[A-Za-z0-9_\-]{32,}`},
		{ID: "openai-api-key", Pattern: `\bsk-(?:proj-)?[A-Za-z0-9_\-]{40,}`},
		{ID: "google-api-key", Pattern: `\bAIza[A-Za-z0-9_\-]{35}`},
		{ID: "npm-token", Pattern: `\bnpm_[A-Za-z0-9]{36}\b`},
		{ID: "sendgrid-api-key", Pattern: `\bSG\.[A-Za-z0-9_\-]{22,}\.[A-Za-z0-9_\-]{43,}`},
		{ID: "jwt", Pattern: `\beyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]+`},
		{ID: "url-credentials", Pattern: `(?i)\b[a-z][a-z0-9+.\-]*://[^\s:/@]+:[^\s@/]+@[^\s]+`},
		{ID: "bearer-token", Pattern: `(?i)\bbearer\s+[A-Za-z0-9_\-\.=]{20,}`, Keywords: []string{"bearer"}},
		{ID: "generic-api-key", Pattern: `(?i)\b(?:api[_-]?key|apikey|access[_-]?token|auth[_-]?token)\s*[:=]\s*['"]?[A-Za-z0-9_\-\.]{16,}['"]?`, Keywords: []string{"key", "token"}},
		{ID: "generic-password", Pattern: `(?i)\b(?:[a-z0-9_]*password|passwd|pwd|[a-z0-9_]*secret)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`, Keywords: []string{"pass", "pwd", "secret"}},
	}
}
