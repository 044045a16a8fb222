package crawl

import (
	"fmt"
	"strings"
)

// DomainPolicy decides whether a host may enter the frontier. Implementations
// are pure and safe for concurrent use. The variant set is closed: exactly
// the three kinds below exist.
type DomainPolicy interface {
	// Admit reports whether host is eligible. lineage is the registrable
	// domain of the entry's depth-1 ancestor.
	Admit(host, lineage string) bool
	Kind() PolicyKind
}

// NewDomainPolicy builds the policy variant selected by cfg.
func NewDomainPolicy(cfg PolicyConfig) (DomainPolicy, error) {
	switch cfg.Kind {
	case PolicySameDomain:
		return sameDomainPolicy{}, nil
	case PolicyAllowTLDList:
		if len(cfg.AllowTLDs) == 0 {
			return nil, fmt.Errorf("allow_tld_list policy requires at least one suffix")
		}
		return newAllowTLDPolicy(cfg.AllowTLDs), nil
	case PolicyExcludeList:
		return excludeListPolicy{matcher: newDomainPatternMatcher(cfg.ExcludeDomains)}, nil
	default:
		return nil, fmt.Errorf("unknown domain policy %q", cfg.Kind)
	}
}

// sameDomainPolicy admits hosts whose registrable domain equals the lineage
// domain, so sub-path and subdomain links on the seed's site keep flowing.
type sameDomainPolicy struct{}

func (sameDomainPolicy) Admit(host, lineage string) bool {
	if host == "" || lineage == "" {
		return false
	}
	return RegistrableDomain(host) == lineage
}

func (sameDomainPolicy) Kind() PolicyKind { return PolicySameDomain }

// allowTLDPolicy admits hosts whose domain suffix matches one configured
// entry, e.g. ".edu" or ".gov".
type allowTLDPolicy struct {
	suffixes []string
}

func newAllowTLDPolicy(entries []string) allowTLDPolicy {
	suffixes := make([]string, 0, len(entries))
	for _, raw := range entries {
		s := strings.ToLower(strings.TrimSpace(raw))
		s = strings.TrimPrefix(s, "*")
		s = strings.TrimPrefix(s, ".")
		if s != "" {
			suffixes = append(suffixes, s)
		}
	}
	return allowTLDPolicy{suffixes: suffixes}
}

func (p allowTLDPolicy) Admit(host, _ string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return false
	}
	for _, suffix := range p.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

func (allowTLDPolicy) Kind() PolicyKind { return PolicyAllowTLDList }

// excludeListPolicy rejects hosts matching the deny-list and admits the rest.
type excludeListPolicy struct {
	matcher *domainPatternMatcher
}

func (p excludeListPolicy) Admit(host, _ string) bool {
	if strings.TrimSpace(host) == "" {
		return false
	}
	return !p.matcher.Matches(host)
}

func (excludeListPolicy) Kind() PolicyKind { return PolicyExcludeList }

// domainPatternMatcher stores exact hosts and suffix wildcards derived from
// configuration. "*.example.com" and ".example.com" both match the domain and
// every subdomain; bare entries match the host and its subdomains too, since
// a deny-list entry like "example.com" is meant to cover the whole site.
type domainPatternMatcher struct {
	exact    map[string]struct{}
	suffixes []string
}

func newDomainPatternMatcher(patterns []string) *domainPatternMatcher {
	m := &domainPatternMatcher{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			m.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			m.addSuffix(strings.TrimPrefix(value, "."))
		default:
			m.exact[value] = struct{}{}
			m.addSuffix(value)
		}
	}
	return m
}

func (m *domainPatternMatcher) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range m.suffixes {
		if existing == suffix {
			return
		}
	}
	m.suffixes = append(m.suffixes, suffix)
}

func (m *domainPatternMatcher) Matches(host string) bool {
	if m == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, ok := m.exact[host]; ok {
		return true
	}
	for _, suffix := range m.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
