package flow

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/anaconda/anaconda-cli-testing/internal/backend"
	"github.com/anaconda/anaconda-cli-testing/internal/condarc"
	"github.com/anaconda/anaconda-cli-testing/internal/config"
	"github.com/anaconda/anaconda-cli-testing/internal/procctl"
	"github.com/anaconda/anaconda-cli-testing/internal/prompt"
)

// apiKeyPattern matches a plausible API key in CLI output.
var apiKeyPattern = regexp.MustCompile(`[A-Za-z0-9\-_]{30,}`)

// APIAuthenticate performs the API-only login leg: start a transaction and
// submit credentials. Returns the transaction state.
func (o *Orchestrator) APIAuthenticate(ctx context.Context) (string, error) {
	state, err := o.API.Authorize(ctx, o.Cfg.UIBase)
	if err != nil {
		return "", fmt.Errorf("api authentication: %w", err)
	}
	creds := backend.Credentials{Email: o.Cfg.Email, Password: o.Cfg.Password}
	if _, err := o.API.PasswordLogin(ctx, state, creds); err != nil {
		return "", fmt.Errorf("api authentication: %w", err)
	}
	o.logger().Info("api authentication completed")
	return state, nil
}

// BrowserLogin establishes a signed-in browser session: start a fresh
// transaction, submit credentials, follow the redirect, and verify the UI
// greets the signed-in user. States are single-use, so this never reuses a
// transaction from another leg.
func (o *Orchestrator) BrowserLogin(ctx context.Context) error {
	state, err := o.API.Authorize(ctx, o.Cfg.UIBase)
	if err != nil {
		return fmt.Errorf("browser login: %w", err)
	}
	creds := backend.Credentials{Email: o.Cfg.Email, Password: o.Cfg.Password}
	redirect, err := o.API.PasswordLogin(ctx, state, creds)
	if err != nil {
		return fmt.Errorf("browser login: %w", err)
	}
	if err := o.Page.Navigate(ctx, redirect, o.Cfg.Timeouts.PageLoad); err != nil {
		return fmt.Errorf("browser login: %w", err)
	}
	if err := o.Page.WaitIdle(ctx, o.Cfg.Timeouts.NetworkIdle); err != nil {
		o.logger().Debug("idle wait timed out after login redirect", "error", err)
	}
	if err := o.Page.HasVisibleText(ctx, config.WelcomeText, o.Cfg.Timeouts.PageLoad); err != nil {
		return fmt.Errorf("browser login: welcome text: %w", err)
	}

	current, err := o.Page.CurrentURL(ctx)
	if err == nil && !strings.HasPrefix(current, o.Cfg.UIBase) {
		return fmt.Errorf("browser login: landed on %s, want %s", current, o.Cfg.UIBase)
	}
	o.logger().Info("browser login completed")
	return nil
}

// VerifyLoginSuccess opens the local-login-success page and checks the
// logged-in confirmation text.
func (o *Orchestrator) VerifyLoginSuccess(ctx context.Context) error {
	successURL := o.Cfg.UIBase + config.SuccessURLPattern
	if err := o.Page.Navigate(ctx, successURL, o.Cfg.Timeouts.PageLoad); err != nil {
		return fmt.Errorf("verify login success: %w", err)
	}
	if err := o.Page.WaitIdle(ctx, o.Cfg.Timeouts.NetworkIdle); err != nil {
		o.logger().Debug("idle wait timed out on success page", "error", err)
	}
	if err := o.Page.HasVisibleText(ctx, config.SuccessText, o.Cfg.Timeouts.PageLoad); err != nil {
		return fmt.Errorf("verify login success: %w", err)
	}
	o.logger().Info("login success verified")
	return nil
}

// CLILogin runs `auth login` in the workspace and completes its OAuth
// transaction. The CLI is expected to exit cleanly once its callback fires.
func (o *Orchestrator) CLILogin(ctx context.Context, ws *Workspace) (*Result, error) {
	res, err := o.Run(ctx, RunSpec{
		Args:     append(o.cliArgv(), "auth", "login"),
		Env:      ws.ChildEnv(),
		Sideband: ws.Sideband,
		Timeout:  o.Cfg.Timeouts.OAuthCapture + o.Cfg.Timeouts.CLICompletion,
	})
	if err != nil {
		return res, err
	}
	if !res.OAuthCompleted {
		return res, fmt.Errorf("cli login: OAuth URL was never captured (output tail:\n%s)", res.Tail(10))
	}
	if !strings.Contains(res.AuthURL, config.OAuthURLPattern) {
		return res, fmt.Errorf("cli login: captured URL does not hit the authorize endpoint: %s", res.AuthURL)
	}
	return res, nil
}

// Login runs the complete end-to-end login: API leg, browser leg, CLI leg,
// then the success-page verification.
func (o *Orchestrator) Login(ctx context.Context, ws *Workspace) (*Result, error) {
	if _, err := o.APIAuthenticate(ctx); err != nil {
		return nil, err
	}
	if err := o.BrowserLogin(ctx); err != nil {
		return nil, err
	}
	res, err := o.CLILogin(ctx, ws)
	if err != nil {
		return res, err
	}
	if err := o.VerifyLoginSuccess(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// Logout logs in, runs `auth logout`, and verifies the session is gone:
// logout exits zero, a follow-up whoami does not.
func (o *Orchestrator) Logout(ctx context.Context, ws *Workspace) error {
	if _, err := o.Login(ctx, ws); err != nil {
		return err
	}

	out, err := o.captureCLI(ctx, ws, "auth", "logout")
	if err != nil {
		return err
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("logout failed with exit code %d: %s", out.ExitCode, out.Stderr)
	}

	who, err := o.captureCLI(ctx, ws, "auth", "whoami")
	if err != nil {
		return err
	}
	if who.ExitCode == 0 {
		return fmt.Errorf("whoami still succeeds after logout: %s", who.Stdout)
	}
	o.logger().Info("logout verified")
	return nil
}

// LogoutWhenNotLoggedIn checks logout is idempotent on a clean home.
func (o *Orchestrator) LogoutWhenNotLoggedIn(ctx context.Context, ws *Workspace) error {
	out, err := o.captureCLI(ctx, ws, "auth", "logout")
	if err != nil {
		return err
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("logout on clean home failed with exit code %d: %s", out.ExitCode, out.Stderr)
	}
	return nil
}

// WhoamiNotLoggedIn checks `auth whoami` on a home with no session fails
// with an authentication error instead of inventing an identity.
func (o *Orchestrator) WhoamiNotLoggedIn(ctx context.Context, ws *Workspace) error {
	out, err := o.captureCLI(ctx, ws, "auth", "whoami")
	if err != nil {
		return err
	}
	return requireAuthFailure("whoami", out)
}

// APIKeyNotLoggedIn checks `auth api-key` refuses to print a key on a home
// with no session.
func (o *Orchestrator) APIKeyNotLoggedIn(ctx context.Context, ws *Workspace) error {
	out, err := o.captureCLI(ctx, ws, "auth", "api-key")
	if err != nil {
		return err
	}
	return requireAuthFailure("api-key", out)
}

// requireAuthFailure asserts a command run without a session exited non-zero
// and told the user to authenticate.
func requireAuthFailure(name string, out procctl.CaptureResult) error {
	if out.ExitCode == 0 {
		return fmt.Errorf("%s succeeded on a home with no session: %s", name, strings.TrimSpace(out.Stdout))
	}
	combined := strings.ToLower(out.Stdout + "\n" + out.Stderr)
	for _, kw := range []string{"login", "log in", "auth", "credential"} {
		if strings.Contains(combined, kw) {
			return nil
		}
	}
	return fmt.Errorf("%s failed but did not mention authentication: %s",
		name, strings.TrimSpace(out.Stdout+"\n"+out.Stderr))
}

// Whoami logs in and verifies `auth whoami` reports the signed-in user.
func (o *Orchestrator) Whoami(ctx context.Context, ws *Workspace) error {
	if _, err := o.Login(ctx, ws); err != nil {
		return err
	}

	out, err := o.captureCLI(ctx, ws, "auth", "whoami")
	if err != nil {
		return err
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("whoami failed with exit code %d: %s", out.ExitCode, out.Stderr)
	}
	if !strings.Contains(out.Stdout, o.Cfg.Email) {
		return fmt.Errorf("whoami output does not mention %s: %s", o.Cfg.Email, out.Stdout)
	}
	lower := strings.ToLower(out.Stdout)
	if !strings.Contains(lower, "user") && !strings.Contains(lower, "email") && !strings.Contains(lower, "name") {
		return fmt.Errorf("whoami output carries no user fields: %s", out.Stdout)
	}
	o.logger().Info("whoami verified", "email", o.Cfg.Email)
	return nil
}

// APIKey logs in and verifies `auth api-key` prints a plausible key.
func (o *Orchestrator) APIKey(ctx context.Context, ws *Workspace) (string, error) {
	if _, err := o.Login(ctx, ws); err != nil {
		return "", err
	}

	out, err := o.captureCLI(ctx, ws, "auth", "api-key")
	if err != nil {
		return "", err
	}
	if out.ExitCode != 0 {
		return "", fmt.Errorf("api-key failed with exit code %d: %s", out.ExitCode, out.Stderr)
	}
	key := apiKeyPattern.FindString(out.Stdout)
	if key == "" {
		return "", fmt.Errorf("no API key found in output: %s", strings.TrimSpace(out.Stdout))
	}
	o.logger().Info("api key retrieved", "key_len", len(key))
	return key, nil
}

// TokenInstallOptions selects the prompt answers for a token install run.
type TokenInstallOptions struct {
	ReissueAnswer string // "" means "y"
	CondarcAnswer string // "" means "y"
}

// TokenInstall runs `token install --org` end to end: OAuth login when
// prompted, prompt answers per options, then a .condarc check matching the
// answers given.
func (o *Orchestrator) TokenInstall(ctx context.Context, ws *Workspace, opts TokenInstallOptions) (*Result, error) {
	answers := map[prompt.Kind]string{
		prompt.Reissue: orDefault(opts.ReissueAnswer, "y"),
		prompt.Condarc: orDefault(opts.CondarcAnswer, "y"),
	}

	res, err := o.Run(ctx, RunSpec{
		Args:     append(o.cliArgv(), "token", "install", "--org", o.Cfg.Org),
		Env:      ws.ChildEnv(),
		Sideband: ws.Sideband,
		Answers:  answers,
		Timeout:  o.Cfg.Timeouts.TokenInstall,
	})
	if err != nil {
		return res, err
	}
	if !res.OAuthCompleted {
		return res, fmt.Errorf("token install: OAuth login was not completed (output tail:\n%s)", res.Tail(10))
	}
	return res, nil
}

// VerifyInstalled checks an accepted run actually completed the install:
// clean exit with the install confirmed in the output.
func VerifyInstalled(res *Result) error {
	if res.ExitCode != 0 || !res.TokenInstalled {
		return fmt.Errorf("install did not complete: exit=%d installed=%v (output tail:\n%s)",
			res.ExitCode, res.TokenInstalled, res.Tail(10))
	}
	return nil
}

// VerifyInstallRejected checks a declined reissue aborted the install: the
// CLI exits non-zero, prints no success marker, and installs nothing.
func VerifyInstallRejected(res *Result) error {
	if res.ExitCode == 0 {
		return fmt.Errorf("install exited 0 after a declined prompt (output tail:\n%s)", res.Tail(10))
	}
	if res.SawSuccess || res.TokenInstalled {
		return fmt.Errorf("install went ahead after a declined prompt: success=%v installed=%v (output tail:\n%s)",
			res.SawSuccess, res.TokenInstalled, res.Tail(10))
	}
	return nil
}

// VerifyCondarc checks the installed channel configuration matches whether
// the condarc prompt was accepted.
func (o *Orchestrator) VerifyCondarc(ws *Workspace, accepted bool) error {
	f, err := condarc.Load(ws.Home)
	if err != nil {
		return err
	}
	has := f.HasOrgChannel(o.Cfg.Org)
	if accepted && !has {
		return fmt.Errorf("condarc accepted but %s channel missing from %s", o.Cfg.Org, condarc.Path(ws.Home))
	}
	if !accepted && has {
		return fmt.Errorf("condarc rejected but %s channel present in %s", o.Cfg.Org, condarc.Path(ws.Home))
	}
	return nil
}

func (o *Orchestrator) cliArgv() []string {
	cli := o.Cfg.CLIPath
	if cli == "" {
		cli = "anaconda"
	}
	return []string{cli}
}

func (o *Orchestrator) captureCLI(ctx context.Context, ws *Workspace, sub ...string) (procctl.CaptureResult, error) {
	return procctl.Capture(ctx, o.logger(), append(o.cliArgv(), sub...), map[string]string{"HOME": ws.Home})
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
