package provider

import (
	"fmt"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/agorai/agorai/pkg/config"
)

// Registry is the ordered set of providers consulted for every query.
type Registry struct {
	providers []Provider
}

// NewRegistry returns a Registry over ps in the given order.
func NewRegistry(ps ...Provider) *Registry {
	return &Registry{providers: ps}
}

// FromConfig builds one Provider per configured entry, preserving order.
// Providers without a credential become Unavailable instead of failing startup.
func FromConfig(cfgs []config.ProviderConfig, httpClient *http.Client) (*Registry, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	r := &Registry{}
	for _, pc := range cfgs {
		p, err := build(pc, httpClient)
		if err != nil {
			return nil, err
		}
		r.providers = append(r.providers, p)
	}
	return r, nil
}

func build(pc config.ProviderConfig, httpClient *http.Client) (Provider, error) {
	kind := pc.Kind
	if kind == "" {
		kind = config.KindOpenAI
	}
	if kind == config.KindUnavailable {
		return NewUnavailable(pc.Name, pc.Message), nil
	}
	if pc.APIKey == "" {
		return NewUnavailable(pc.Name, pc.Name+" API key not configured"), nil
	}

	c := client{
		name:    pc.Name,
		baseURL: pc.URL,
		model:   pc.Model,
		apiKey:  pc.APIKey,
		timeout: pc.Timeout,
		http:    httpClient,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if pc.RatePerSecond > 0 {
		burst := pc.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(pc.RatePerSecond), burst)
	}

	switch kind {
	case config.KindOpenAI:
		return &OpenAI{client: c}, nil
	case config.KindGemini:
		return &Gemini{client: c}, nil
	default:
		return nil, fmt.Errorf("provider %q: unknown kind %q", pc.Name, kind)
	}
}

// Providers returns the registered providers in order.
func (r *Registry) Providers() []Provider {
	return r.providers
}

// Names returns provider names in order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name()
	}
	return names
}

// Len returns the number of providers.
func (r *Registry) Len() int {
	return len(r.providers)
}
