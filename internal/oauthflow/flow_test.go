package oauthflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/anaconda/anaconda-cli-testing/internal/backend"
	"github.com/anaconda/anaconda-cli-testing/internal/oauthurl"
)

type fakePage struct {
	currentURL string
	content    string

	navigated []string
	eager     []string

	failNavigateFor map[string]bool
	// landOn maps a navigated URL to the URL the page redirects to.
	landOn map[string]string
}

func (p *fakePage) Navigate(_ context.Context, url string, _ time.Duration) error {
	if p.failNavigateFor[url] {
		return errors.New("navigation timeout")
	}
	p.navigated = append(p.navigated, url)
	p.land(url)
	return nil
}

func (p *fakePage) NavigateEager(_ context.Context, url string, _ time.Duration) error {
	p.eager = append(p.eager, url)
	p.land(url)
	return nil
}

func (p *fakePage) land(url string) {
	if to, ok := p.landOn[url]; ok {
		p.currentURL = to
		return
	}
	p.currentURL = url
}

func (p *fakePage) WaitIdle(context.Context, time.Duration) error { return nil }

func (p *fakePage) CurrentURL(context.Context) (string, error) { return p.currentURL, nil }

func (p *fakePage) Content(context.Context) (string, error) { return p.content, nil }

type fakeAPI struct {
	reauthorizeCalls int
	reauthorizeState string
	loginStates      []string
	loginErr         error
	redirect         string
}

func (a *fakeAPI) ReauthorizeState(context.Context, string) (string, error) {
	a.reauthorizeCalls++
	return a.reauthorizeState, nil
}

func (a *fakeAPI) PasswordLogin(_ context.Context, state string, _ backend.Credentials) (string, error) {
	a.loginStates = append(a.loginStates, state)
	if a.loginErr != nil {
		return "", a.loginErr
	}
	return a.redirect, nil
}

func deps(p *fakePage, a *fakeAPI) Deps {
	return Deps{
		Page:        p,
		API:         a,
		Credentials: backend.Credentials{Email: "user@example.com", Password: "pw"},
		UIBase:      "https://ui.example.com",
		PageLoad:    time.Second,
		NetworkIdle: time.Second,
	}
}

func TestLogin_StateFromRedirectedURL(t *testing.T) {
	authURL := "https://auth.example.com/authorize?client_id=cli"
	page := &fakePage{landOn: map[string]string{
		authURL: "https://auth.example.com/login?state=from-redirect",
	}}
	api := &fakeAPI{redirect: "https://ui.example.com/landing"}

	res, err := Login(context.Background(), deps(page, api), oauthurl.Candidate{Raw: authURL})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.State != "from-redirect" || res.Provenance != ProvenanceRedirectedQuery {
		t.Fatalf("resolved %q via %q, want from-redirect via redirected-query", res.State, res.Provenance)
	}
	if res.Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1", res.Attempts)
	}
	// The redirect returned by password login must be followed.
	if got := page.navigated[len(page.navigated)-1]; got != "https://ui.example.com/landing" {
		t.Fatalf("last navigation = %q, want login redirect", got)
	}
}

func TestLogin_FallsBackToOriginalURLState(t *testing.T) {
	// Browser lands somewhere stateless; the captured URL still carries it.
	authURL := "https://auth.example.com/authorize?client_id=cli&state=from-original"
	page := &fakePage{landOn: map[string]string{
		authURL: "https://auth.example.com/interstitial",
	}}
	api := &fakeAPI{redirect: "https://ui.example.com/landing"}

	res, err := Login(context.Background(), deps(page, api), oauthurl.Candidate{Raw: authURL})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.State != "from-original" || res.Provenance != ProvenanceQuery {
		t.Fatalf("resolved %q via %q, want from-original via query", res.State, res.Provenance)
	}
	if api.reauthorizeCalls != 0 {
		t.Fatalf("ReauthorizeState called %d times, want 0", api.reauthorizeCalls)
	}
}

func TestLogin_PathSegmentHeuristic(t *testing.T) {
	authURL := "https://auth.example.com/authorize"
	page := &fakePage{landOn: map[string]string{
		authURL: "https://auth.example.com/tx/4f2a9c81-77bd-4e6a-9c3f-1b2d8e4a5f60/confirm",
	}}
	api := &fakeAPI{redirect: "https://ui.example.com/landing"}

	res, err := Login(context.Background(), deps(page, api), oauthurl.Candidate{Raw: authURL})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.Provenance != ProvenancePathHeuristic {
		t.Fatalf("Provenance = %q, want path-heuristic", res.Provenance)
	}
	if res.State != "4f2a9c81-77bd-4e6a-9c3f-1b2d8e4a5f60" {
		t.Fatalf("State = %q, want the long path segment", res.State)
	}
}

func TestLogin_StateFromPageContent(t *testing.T) {
	authURL := "https://auth.example.com/authorize"
	page := &fakePage{
		content: `<html><script>var cfg = {"state": "abcdef123456"};</script></html>`,
	}
	api := &fakeAPI{redirect: "https://ui.example.com/landing"}

	res, err := Login(context.Background(), deps(page, api), oauthurl.Candidate{Raw: authURL})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.State != "abcdef123456" || res.Provenance != ProvenancePageContent {
		t.Fatalf("resolved %q via %q, want abcdef123456 via page-content", res.State, res.Provenance)
	}
}

func TestLogin_APIDerivedStateAsLastResort(t *testing.T) {
	authURL := "https://auth.example.com/authorize"
	page := &fakePage{content: "<html>nothing here</html>"}
	api := &fakeAPI{reauthorizeState: "derived-state", redirect: "https://ui.example.com/landing"}

	res, err := Login(context.Background(), deps(page, api), oauthurl.Candidate{Raw: authURL})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.State != "derived-state" || res.Provenance != ProvenanceAPIDerived {
		t.Fatalf("resolved %q via %q, want derived-state via api-derived", res.State, res.Provenance)
	}
	if api.reauthorizeCalls != 1 {
		t.Fatalf("ReauthorizeState called %d times, want 1", api.reauthorizeCalls)
	}
}

func TestLogin_FailsClosedWhenAllStrategiesMiss(t *testing.T) {
	authURL := "https://auth.example.com/authorize"
	page := &fakePage{content: "<html>nothing here</html>"}
	api := &fakeAPI{reauthorizeState: "", redirect: "https://ui.example.com/landing"}

	_, err := Login(context.Background(), deps(page, api), oauthurl.Candidate{Raw: authURL})
	if !errors.Is(err, ErrNoState) {
		t.Fatalf("Login() error = %v, want ErrNoState", err)
	}
	if len(api.loginStates) != 0 {
		t.Fatalf("PasswordLogin called with %v, want no calls without a state", api.loginStates)
	}
}

func TestLogin_DirectNavigationRetryUsesLandedURL(t *testing.T) {
	authURL := "https://auth.example.com/authorize?client_id=cli"
	landed := "https://auth.example.com/login?state=late-state"

	page := &fakePage{
		content: "<html>nothing</html>",
		landOn:  map[string]string{},
	}
	api := &fakeAPI{redirect: "https://ui.example.com/landing"}

	// First attempt resolves nothing; the eager retry navigation lands on
	// a URL that carries the state.
	page.landOn[authURL] = "https://auth.example.com/interstitial"
	retryPage := &retryLandingPage{fakePage: page, landed: landed}

	d := deps(page, api)
	d.Page = retryPage

	res, err := Login(context.Background(), d, oauthurl.Candidate{Raw: authURL})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.Attempts != 2 {
		t.Fatalf("Attempts = %d, want 2", res.Attempts)
	}
	if res.State != "late-state" {
		t.Fatalf("State = %q, want late-state from the landed URL", res.State)
	}
}

// retryLandingPage redirects to the landed URL only on eager navigation,
// simulating client-side redirects that need a direct visit to fire.
type retryLandingPage struct {
	*fakePage
	landed string
}

func (p *retryLandingPage) NavigateEager(ctx context.Context, url string, d time.Duration) error {
	p.eager = append(p.eager, url)
	p.currentURL = p.landed
	return nil
}

func TestLogin_BoundedAttempts(t *testing.T) {
	authURL := "https://auth.example.com/authorize"
	page := &fakePage{content: "<html>nothing</html>"}
	api := &fakeAPI{loginErr: errors.New("backend down"), reauthorizeState: "s-1"}

	_, err := Login(context.Background(), deps(page, api), oauthurl.Candidate{Raw: authURL})
	if err == nil {
		t.Fatal("Login() error = nil, want failure")
	}
	if got := len(api.loginStates); got != maxAttempts {
		t.Fatalf("PasswordLogin attempts = %d, want exactly %d", got, maxAttempts)
	}
}

func TestPathSegmentState(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"hyphenated over 20", "https://x/tx/0123456789-0123456789x/ok", "0123456789-0123456789x"},
		{"plain over 30", "https://x/a/0123456789012345678901234567890x", "0123456789012345678901234567890x"},
		{"short segments", "https://x/login/confirm", ""},
		{"long but no hyphen under 31", "https://x/abcdefghijklmnopqrstuvwx", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := pathSegmentState(tc.url); got != tc.want {
				t.Fatalf("pathSegmentState(%q) = %q, want %q", tc.url, got, tc.want)
			}
		})
	}
}

func TestQueryParam_TruncatedURL(t *testing.T) {
	// net/url chokes on some mangled URLs; the textual fallback still
	// finds the parameter.
	raw := "https://auth.example.com/authorize?client_id=cli&state=abc123"
	if got := queryState(raw); got != "abc123" {
		t.Fatalf("queryState() = %q, want abc123", got)
	}
	if got := queryParam(raw, "client_id"); got != "cli" {
		t.Fatalf("queryParam(client_id) = %q, want cli", got)
	}
	if got := queryState("no url at all"); got != "" {
		t.Fatalf("queryState() = %q, want empty", got)
	}
}
