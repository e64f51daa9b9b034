package limiter

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Subjects a route rule can be keyed by.
const (
	PerCard   = "card"
	PerDevice = "device"
	PerTenant = "tenant"
	PerIP     = "ip"
)

// Rule limits one route per subject.
type Rule struct {
	Method string `yaml:"method"`
	Route  string `yaml:"route"`
	Per    string `yaml:"per"`
	Limit  int    `yaml:"limit"`
}

// Policy is the static request budget table.
type Policy struct {
	WindowSeconds  int    `yaml:"window_seconds"`
	TenantRPM      int    `yaml:"tenant_rpm"`
	AnonymousIPRPM int    `yaml:"anonymous_ip_rpm"`
	Routes         []Rule `yaml:"routes"`
}

// DefaultPolicy returns the built-in v1 budgets.
func DefaultPolicy() Policy {
	return Policy{
		WindowSeconds:  60,
		TenantRPM:      600,
		AnonymousIPRPM: 120,
		Routes: []Rule{
			{Method: "POST", Route: "/stamps/claim", Per: PerCard, Limit: 30},
			{Method: "POST", Route: "/rewards/redeem", Per: PerDevice, Limit: 10},
		},
	}
}

// LoadPolicy reads a YAML policy; absent fields keep their defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, err
	}
	if err := yaml.Unmarshal(b, &p); err != nil {
		return Policy{}, fmt.Errorf("rate limit policy %s: %w", path, err)
	}
	return p, p.Validate()
}

// Validate rejects unusable budgets.
func (p Policy) Validate() error {
	if p.WindowSeconds <= 0 || p.TenantRPM <= 0 || p.AnonymousIPRPM <= 0 {
		return fmt.Errorf("rate limit policy: window and budgets must be positive")
	}
	for i, r := range p.Routes {
		switch r.Per {
		case PerCard, PerDevice, PerTenant, PerIP:
		default:
			return fmt.Errorf("rate limit policy: routes[%d]: unknown subject %q", i, r.Per)
		}
		if r.Limit <= 0 || r.Route == "" {
			return fmt.Errorf("rate limit policy: routes[%d]: route and limit required", i)
		}
	}
	return nil
}

// Window is the counting window.
func (p Policy) Window() time.Duration { return time.Duration(p.WindowSeconds) * time.Second }

// RouteRule finds the rule for (method, route pattern).
func (p Policy) RouteRule(method, route string) (Rule, bool) {
	for _, r := range p.Routes {
		if strings.EqualFold(r.Method, method) && r.Route == route {
			return r, true
		}
	}
	return Rule{}, false
}
