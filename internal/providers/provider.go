// Package providers adapts model vendor SDKs to a single-shot completion call
// whose errors always carry an HTTP-like status through *upstream.Error.
//
// The SDKs' own retry loops are disabled; retries belong to the backoff
// package so that classification happens in exactly one place.
package providers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/relay/internal/cost"
	"github.com/haasonsaas/relay/pkg/models"
)

// DefaultMaxTokens caps completion length when a request does not set one.
const DefaultMaxTokens = 1024

// Provider is a model vendor able to answer a completion request.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req models.CompletionRequest) (models.Completion, error)
}

// Router dispatches requests to a provider chosen by model id prefix.
type Router struct {
	mu       sync.RWMutex
	routes   map[string]Provider
	fallback Provider
}

// NewRouter returns an empty router. Requests for models that match no
// prefix go to fallback, which may be nil.
func NewRouter(fallback Provider) *Router {
	return &Router{
		routes:   make(map[string]Provider),
		fallback: fallback,
	}
}

// Route sends models starting with prefix to p.
func (r *Router) Route(prefix string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[prefix] = p
}

// Lookup returns the provider serving model. Longer prefixes win.
func (r *Router) Lookup(model string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	prefixes := make([]string, 0, len(r.routes))
	for prefix := range r.routes {
		prefixes = append(prefixes, prefix)
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	for _, prefix := range prefixes {
		if strings.HasPrefix(model, prefix) {
			return r.routes[prefix], true
		}
	}
	return r.fallback, r.fallback != nil
}

// Complete forwards req to the provider serving req.Model.
func (r *Router) Complete(ctx context.Context, req models.CompletionRequest) (models.Completion, error) {
	p, ok := r.Lookup(req.Model)
	if !ok {
		return models.Completion{}, fmt.Errorf("%w: no provider serves %q", cost.ErrUnknownModel, req.Model)
	}
	return p.Complete(ctx, req)
}

// Name returns "router".
func (r *Router) Name() string { return "router" }

func maxTokens(n int) int {
	if n <= 0 {
		return DefaultMaxTokens
	}
	return n
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func parseRetryAfter(h http.Header, now time.Time) time.Duration {
	if h == nil {
		return 0
	}
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
