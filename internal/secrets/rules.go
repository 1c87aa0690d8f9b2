package secrets

// Severity ranks a finding.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

// Rule detects one kind of secret. When Keywords is set, the rule only runs
// on text containing at least one keyword (case-insensitive).
type Rule struct {
	ID          string   `koanf:"id"`
	Description string   `koanf:"description"`
	Pattern     string   `koanf:"pattern"`
	Keywords    []string `koanf:"keywords"`
	Severity    Severity `koanf:"severity"`
}

// DefaultRules covers credentials commonly found in web projects and their
// deployment configuration.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "aws-access-key-id", Description: "AWS Access Key ID", Severity: SeverityHigh, Keywords: []string{"aws", "access", "key"},
			Pattern: `(?i)(A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}`},
		{ID: "aws-secret-access-key", Description: "AWS Secret Access Key", Severity: SeverityHigh, Keywords: []string{"aws", "secret"},
			Pattern: `(?i)(?:aws_secret_access_key|aws_secret_key|secret_access_key)\s*[:=]\s*['"]?([A-Za-z0-9/+=]{40})['"]?`},
		{ID: "generic-api-key", Description: "Generic API Key", Severity: SeverityHigh, Keywords: []string{"api", "key"},
			Pattern: `(?i)(?:api[_-]?key|apikey)\s*[:=]\s*['"]?([A-Za-z0-9_\-]{16,64})['"]?`},
		{ID: "generic-secret", Description: "Generic Secret", Severity: SeverityHigh, Keywords: []string{"secret", "password"},
			Pattern: `(?i)(?:secret|password|passwd|pwd)\s*[:=]\s*['"]?([^\s'"]{8,})['"]?`},
		{ID: "private-key", Description: "Private Key", Severity: SeverityHigh,
			Pattern: `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----`},
		{ID: "github-token", Description: "GitHub Token", Severity: SeverityHigh,
			Pattern: `gh[pousr]_[A-Za-z0-9]{36}`},
		{ID: "github-fine-grained", Description: "GitHub Fine-grained Personal Access Token", Severity: SeverityHigh,
			Pattern: `github_pat_[A-Za-z0-9_]{22,}`},
		{ID: "gitlab-token", Description: "GitLab Personal Access Token", Severity: SeverityHigh,
			Pattern: `glpat-[A-Za-z0-9\-]{20,}`},
		{ID: "slack-token", Description: "Slack Token", Severity: SeverityHigh,
			Pattern: `xox[baprs]-[A-Za-z0-9\-]{10,}`},
		{ID: "stripe-key", Description: "Stripe API Key", Severity: SeverityHigh,
			Pattern: `(?:sk|pk)_(?:live|test)_[A-Za-z0-9]{24,}`},
		{ID: "database-url", Description: "Database Connection URL with credentials", Severity: SeverityHigh, Keywords: []string{"database", "db", "connection"},
			Pattern: `(?i)(?:postgres|mysql|mongodb|redis|amqp)://[^:]+:[^@]+@[^\s]+`},
		{ID: "jwt", Description: "JSON Web Token", Severity: SeverityMedium,
			Pattern: `eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`},
		{ID: "google-api-key", Description: "Google API Key", Severity: SeverityHigh, Keywords: []string{"google"},
			Pattern: `AIza[A-Za-z0-9_\-]{35}`},
		{ID: "anthropic-api-key", Description: "Anthropic API Key", Severity: SeverityHigh, Keywords: []string{"anthropic", "claude"},
			Pattern: `sk-ant-[A-Za-z0-9_\-]{90,}`},
		{ID: "openai-api-key", Description: "OpenAI API Key", Severity: SeverityHigh, Keywords: []string{"openai"},
			Pattern: `sk-[A-Za-z0-9]{48,}`},
		{ID: "npm-token", Description: "npm Access Token", Severity: SeverityHigh,
			Pattern: `npm_[A-Za-z0-9]{36}`},
		{ID: "bearer-token", Description: "Bearer Token in Authorization Header", Severity: SeverityMedium, Keywords: []string{"authorization", "bearer"},
			Pattern: `(?i)(?:authorization|bearer)\s*[:=]\s*['"]?bearer\s+([A-Za-z0-9_\-\.]{20,})['"]?`},
		{ID: "env-credential", Description: "Environment Variable with Credential", Severity: SeverityHigh,
			Pattern: `(?i)(?:^|[^A-Za-z0-9_])(?:DB_PASSWORD|DATABASE_PASSWORD|MYSQL_PASSWORD|POSTGRES_PASSWORD|REDIS_PASSWORD|MONGO_PASSWORD|API_SECRET|APP_SECRET|SECRET_KEY|ENCRYPTION_KEY|PRIVATE_KEY|AUTH_TOKEN|ACCESS_TOKEN|REFRESH_TOKEN)\s*[:=]\s*['"]?([^\s'"]{8,})['"]?`},
		{ID: "vercel-token", Description: "Vercel Token", Severity: SeverityHigh, Keywords: []string{"vercel"},
			Pattern: `(?i)vercel[_-]?token\s*[:=]\s*['"]?([A-Za-z0-9]{24})['"]?`},
	}
}
