package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultPincodeBaseURL is the public India Post postal lookup service.
const DefaultPincodeBaseURL = "https://api.postalpincode.in/pincode"

var pincodeFormat = regexp.MustCompile(`^\d{6}$`)

// PincodeSource resolves Indian postal codes to city, state, and country via
// the India Post API. Calls are rate limited and bounded by a per-call
// timeout; a timeout surfaces as a miss, never as a job failure.
type PincodeSource struct {
	BaseURL string
	Client  *http.Client
	Limiter *rate.Limiter
	Timeout time.Duration
}

// PincodeOption customizes a PincodeSource.
type PincodeOption func(*PincodeSource)

// WithPincodeBaseURL overrides the upstream URL, mainly for tests.
func WithPincodeBaseURL(url string) PincodeOption {
	return func(s *PincodeSource) { s.BaseURL = strings.TrimRight(url, "/") }
}

// WithPincodeRateLimit bounds upstream calls per second.
func WithPincodeRateLimit(perSecond float64, burst int) PincodeOption {
	return func(s *PincodeSource) { s.Limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithPincodeTimeout bounds each upstream call.
func WithPincodeTimeout(d time.Duration) PincodeOption {
	return func(s *PincodeSource) { s.Timeout = d }
}

// NewPincodeSource builds a pincode source with sane defaults: 5 calls per
// second and a 10 second per-call timeout.
func NewPincodeSource(opts ...PincodeOption) *PincodeSource {
	s := &PincodeSource{
		BaseURL: DefaultPincodeBaseURL,
		Client:  &http.Client{},
		Limiter: rate.NewLimiter(rate.Limit(5), 5),
		Timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fields implements Source: city, state, country.
func (s *PincodeSource) Fields() []string { return []string{"city", "state", "country"} }

type pincodeResponse struct {
	Status     string `json:"Status"`
	PostOffice []struct {
		Name     string `json:"Name"`
		District string `json:"District"`
		State    string `json:"State"`
		Country  string `json:"Country"`
	} `json:"PostOffice"`
}

// Fetch implements Source.
func (s *PincodeSource) Fetch(ctx context.Context, key string) ([]string, error) {
	key = strings.TrimSpace(key)
	if !pincodeFormat.MatchString(key) {
		return nil, fmt.Errorf("%w: %q is not a six-digit pincode", ErrNotFound, key)
	}
	if s.Limiter != nil {
		if err := s.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/"+key, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: upstream returned %d", ErrNotFound, resp.StatusCode)
	}

	var decoded []pincodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: bad upstream payload: %v", ErrNotFound, err)
	}
	if len(decoded) == 0 || decoded[0].Status != "Success" || len(decoded[0].PostOffice) == 0 {
		return nil, fmt.Errorf("%w: pincode %s", ErrNotFound, key)
	}
	po := decoded[0].PostOffice[0]
	return []string{po.District, po.State, po.Country}, nil
}
