package detection

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Patterns are the compiled LLM-domain and bot user-agent tables. Matching is
// pure and safe for concurrent use.
type Patterns struct {
	llmDomains []*regexp.Regexp
	bots       []*regexp.Regexp
}

func CompilePatterns(llmDomains, botUserAgents []string) (*Patterns, error) {
	llm, err := compileAll(llmDomains)
	if err != nil {
		return nil, fmt.Errorf("llm_domains: %w", err)
	}
	bots, err := compileAll(botUserAgents)
	if err != nil {
		return nil, fmt.Errorf("bot_user_agents: %w", err)
	}
	return &Patterns{llmDomains: llm, bots: bots}, nil
}

func compileAll(exprs []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", expr, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// MatchLLMHost reports whether host (port allowed) belongs to a known AI
// service.
func (p *Patterns) MatchLLMHost(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if h, _, ok := strings.Cut(host, ":"); ok && !strings.Contains(h, "[") {
		host = h
	}
	if host == "" {
		return false
	}
	for _, re := range p.llmDomains {
		if re.MatchString(host) {
			return true
		}
	}
	return false
}

// MatchLLMURL parses rawURL and matches its host. It returns the host on a
// match.
func (p *Patterns) MatchLLMURL(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", false
	}
	host := u.Hostname()
	return host, p.MatchLLMHost(host)
}

// MatchBot returns the first bot signature matching userAgent. An empty user
// agent never matches.
func (p *Patterns) MatchBot(userAgent string) (string, bool) {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return "", false
	}
	for _, re := range p.bots {
		if re.MatchString(userAgent) {
			return strings.TrimPrefix(re.String(), "(?i)"), true
		}
	}
	return "", false
}
