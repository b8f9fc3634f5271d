package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Resolution is the outcome of a successful resolve: either a redirect to the
// underlying media or a byte stream, never both. Stream resolutions hand the
// response body over unread; the caller owns closing it.
type Resolution struct {
	RedirectURL string
	Body        io.ReadCloser
	ContentType string
}

func (r *Resolution) IsRedirect() bool {
	return r.RedirectURL != ""
}

// BlockedError means the resolution source actively rejected automated
// access. Switching strategies will not help; the condition is reported to
// the operator as-is.
type BlockedError struct {
	URL    string
	Detail string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("source platform rejected automated access for %s: %s", e.URL, e.Detail)
}

// ResolutionError wraps the underlying diagnostic when no strategy succeeds.
type ResolutionError struct {
	URL string
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve %s: %v", e.URL, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Strategy is one technique for turning a video URL into retrievable media.
type Strategy interface {
	CanHandle(rawURL string) bool
	Resolve(ctx context.Context, rawURL string) (*Resolution, error)
}

type Resolver struct {
	strategies []Strategy
}

// DefaultDelegateEndpoint is the public resolution service used when no
// delegate is configured, so restricted platforms work out of the box.
const DefaultDelegateEndpoint = "https://api.cobalt.tools/api/json"

type Config struct {
	// DelegateURL is the endpoint of the external resolution service used
	// for restricted platforms. Empty selects DefaultDelegateEndpoint.
	DelegateURL string
	// WarnBytes is the advisory size threshold for fetched media; resolved
	// streams larger than this are logged, never rejected.
	WarnBytes int64
}

func New(config Config) *Resolver {
	httpClient := &http.Client{Timeout: 60 * time.Second}

	if config.DelegateURL == "" {
		config.DelegateURL = DefaultDelegateEndpoint
	}

	return &Resolver{strategies: []Strategy{
		NewDelegateStrategy(config.DelegateURL, httpClient),
		NewPassthroughStrategy(httpClient, config.WarnBytes),
	}}
}

// NewWithStrategies builds a resolver with an explicit chain, tried in order.
func NewWithStrategies(strategies ...Strategy) *Resolver {
	return &Resolver{strategies: strategies}
}

// Resolve tries each applicable strategy in priority order until one
// succeeds. A BlockedError short-circuits the chain: the platform said no,
// and no other strategy is going to change its mind. No retries happen here;
// retry policy belongs to the caller.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (*Resolution, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, &ResolutionError{URL: rawURL, Err: fmt.Errorf("invalid URL")}
	}

	var lastErr error
	for _, strategy := range r.strategies {
		if !strategy.CanHandle(rawURL) {
			continue
		}

		resolution, err := strategy.Resolve(ctx, rawURL)
		if err == nil {
			return resolution, nil
		}

		var blocked *BlockedError
		if errors.As(err, &blocked) {
			return nil, err
		}

		lastErr = err
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no applicable strategy")
	}
	return nil, &ResolutionError{URL: rawURL, Err: lastErr}
}
