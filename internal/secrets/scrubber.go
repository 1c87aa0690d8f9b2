// Package secrets redacts credentials from text before it leaves the
// process: prompts sent to providers and project files offered for editing.
//
// Findings never carry the matched value, only the rule and line.
package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// DefaultRedaction replaces each detected secret.
const DefaultRedaction = "[REDACTED]"

// Config configures the scrubber.
type Config struct {
	Enabled   bool     `koanf:"enabled"`
	Redaction string   `koanf:"redaction"`
	Rules     []Rule   `koanf:"rules"`
	AllowList []string `koanf:"allow_list"`

	// Gitleaks adds the gitleaks default rule set on top of Rules.
	Gitleaks bool `koanf:"gitleaks"`
}

// DefaultConfig enables scrubbing with the built-in rules.
func DefaultConfig() Config {
	return Config{Enabled: true, Redaction: DefaultRedaction, Rules: DefaultRules()}
}

// Finding is one detected secret.
type Finding struct {
	RuleID   string   `json:"rule_id"`
	Severity Severity `json:"severity"`
	Line     int      `json:"line"`
}

// Result is the outcome of scrubbing one piece of text.
type Result struct {
	Scrubbed string    `json:"-"`
	Findings []Finding `json:"findings,omitempty"`
}

// HasFindings reports whether anything was redacted.
func (r Result) HasFindings() bool { return len(r.Findings) > 0 }

// RuleIDs returns the distinct rules that matched, sorted.
func (r Result) RuleIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, f := range r.Findings {
		if !seen[f.RuleID] {
			seen[f.RuleID] = true
			ids = append(ids, f.RuleID)
		}
	}
	sort.Strings(ids)
	return ids
}

type compiledRule struct {
	Rule
	re       *regexp.Regexp
	keywords []string
}

type span struct{ start, end int }

// Scrubber redacts secrets. A nil *Scrubber passes text through unchanged.
type Scrubber struct {
	redaction string
	rules     []compiledRule
	allow     []*regexp.Regexp

	mu       sync.Mutex
	detector *detect.Detector
}

// New compiles cfg. A disabled config yields a nil scrubber.
func New(cfg Config) (*Scrubber, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	s := &Scrubber{redaction: cfg.Redaction}
	if s.redaction == "" {
		s.redaction = DefaultRedaction
	}
	for i, r := range cfg.Rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule %d: id is required", i)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil || r.Pattern == "" {
			return nil, fmt.Errorf("rule %s: invalid pattern %q", r.ID, r.Pattern)
		}
		kws := make([]string, len(r.Keywords))
		for j, kw := range r.Keywords {
			kws[j] = strings.ToLower(kw)
		}
		s.rules = append(s.rules, compiledRule{Rule: r, re: re, keywords: kws})
	}
	for i, p := range cfg.AllowList {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("allow_list %d: %w", i, err)
		}
		s.allow = append(s.allow, re)
	}
	if cfg.Gitleaks {
		d, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			return nil, fmt.Errorf("gitleaks detector: %w", err)
		}
		s.detector = d
	}
	return s, nil
}

// Enabled reports whether the scrubber redacts anything.
func (s *Scrubber) Enabled() bool { return s != nil }

// Scrub redacts every secret in content.
func (s *Scrubber) Scrub(content string) Result {
	if s == nil {
		return Result{Scrubbed: content}
	}

	lower := strings.ToLower(content)
	var (
		findings []Finding
		spans    []span
	)
	for _, r := range s.rules {
		if !r.applies(lower) {
			continue
		}
		for _, m := range r.re.FindAllStringIndex(content, -1) {
			if s.allowed(content[m[0]:m[1]]) {
				continue
			}
			findings = append(findings, Finding{
				RuleID:   r.ID,
				Severity: r.Severity,
				Line:     strings.Count(content[:m[0]], "\n") + 1,
			})
			spans = append(spans, span{m[0], m[1]})
		}
	}
	gf, gs := s.detectGitleaks(content)
	findings = append(findings, gf...)
	spans = append(spans, gs...)
	if len(spans) == 0 {
		return Result{Scrubbed: content}
	}
	return Result{Scrubbed: redact(content, spans, s.redaction), Findings: findings}
}

// Contains reports whether content holds at least one secret.
func (s *Scrubber) Contains(content string) bool {
	return s.Scrub(content).HasFindings()
}

// detectGitleaks locates each gitleaks finding's secret in content. The
// detector is not safe for concurrent use.
func (s *Scrubber) detectGitleaks(content string) ([]Finding, []span) {
	if s.detector == nil {
		return nil, nil
	}
	s.mu.Lock()
	found := s.detector.DetectString(content)
	s.mu.Unlock()

	var (
		findings []Finding
		spans    []span
	)
	for _, f := range found {
		secret := f.Secret
		if secret == "" {
			secret = f.Match
		}
		if secret == "" || s.allowed(secret) {
			continue
		}
		for from := 0; ; {
			i := strings.Index(content[from:], secret)
			if i < 0 {
				break
			}
			start := from + i
			findings = append(findings, Finding{
				RuleID:   f.RuleID,
				Severity: SeverityHigh,
				Line:     strings.Count(content[:start], "\n") + 1,
			})
			spans = append(spans, span{start, start + len(secret)})
			from = start + len(secret)
		}
	}
	return findings, spans
}

func (r compiledRule) applies(lower string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (s *Scrubber) allowed(match string) bool {
	for _, re := range s.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

// redact replaces spans, merging any that overlap or touch.
func redact(content string, spans []span, with string) string {
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var sb strings.Builder
	pos := 0
	for i := 0; i < len(spans); {
		start, end := spans[i].start, spans[i].end
		for i++; i < len(spans) && spans[i].start <= end; i++ {
			end = max(end, spans[i].end)
		}
		sb.WriteString(content[pos:start])
		sb.WriteString(with)
		pos = end
	}
	sb.WriteString(content[pos:])
	return sb.String()
}
