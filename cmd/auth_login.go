package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"skaha/internal/certificate"
	"skaha/internal/cli"
	skahactx "skaha/internal/context"
	"skaha/internal/credential"
	"skaha/internal/oidc"
	"skaha/internal/registry"
	"skaha/pkg/logging"
	"skaha/pkg/secret"
)

// discoveryTimeout keeps dead servers from stalling the server list.
const discoveryTimeout = 2 * time.Second

// loginOptions are the flags of auth login.
type loginOptions struct {
	mode         string
	serverURL    string
	name         string
	discoveryURL string
	certificate  string
	daysValid    int
	force        bool
	dev          bool
	dead         bool
}

func newAuthLoginCmd(a *app) *cobra.Command {
	var opts loginOptions
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to a Science Platform server",
		Long: `Log in to a Science Platform server and save the result as the active context.

Without --url the public registries are searched and you pick a server from
the list. The authentication mode follows the server: CADC servers use an
X.509 proxy certificate obtained with your username and password, all others
use the OIDC device flow. --mode overrides the choice.

Examples:
  skaha auth login
  skaha auth login --dev --dead
  skaha auth login --url https://ws-uv.canfar.net/skaha --mode x509
  skaha auth login --url https://src.example.org/skaha --name example --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd.Context(), a, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.mode, "mode", "", "Authentication mode: oidc, x509 or token (default depends on the server)")
	flags.StringVar(&opts.serverURL, "url", "", "Server URL, skips discovery")
	flags.StringVar(&opts.name, "name", "", "Context name (default derived from the server)")
	flags.StringVarP(&opts.discoveryURL, "discovery-url", "d", oidc.DefaultDiscoveryURL, "OIDC discovery URL")
	flags.StringVar(&opts.certificate, "certificate", "", "Where to save the X.509 certificate (default ~/.ssl/cadcproxy.pem)")
	flags.IntVar(&opts.daysValid, "days", certificate.DefaultDaysValid, "Requested X.509 certificate lifetime in days")
	flags.BoolVar(&opts.force, "force", false, "Log in again even if the credential is still valid")
	flags.BoolVar(&opts.dev, "dev", false, "Include development servers in discovery")
	flags.BoolVar(&opts.dead, "dead", false, "Include servers that did not answer in discovery")
	return cmd
}

func runLogin(ctx context.Context, a *app, opts loginOptions) error {
	store, err := a.openStore()
	if err != nil {
		return err
	}

	if !opts.force {
		if c := loginTarget(store, a.settings.Context, opts.name); c != nil && !credential.IsExpired(c.Credential, a.now()) {
			fmt.Fprintf(a.out, "✓ Credentials valid for context %q\n", c.Name)
			fmt.Fprintf(a.out, "✓ Authenticated with %s @ %s\n", c.Server.Name, c.Server.URL)
			fmt.Fprintln(a.out, "  Use --force to re-authenticate.")
			return nil
		}
	}

	server, err := selectServer(ctx, a, opts)
	if err != nil {
		return err
	}
	if opts.name != "" {
		server.Name = opts.name
	}

	kind, err := loginKind(opts.mode, server)
	if err != nil {
		return err
	}
	if !server.Supports(kind) {
		return &skahactx.IncompatibleCredentialError{Context: server.Name, Server: server.Name, Kind: kind}
	}

	var cred credential.Credential
	switch kind {
	case credential.KindOIDC:
		fmt.Fprintf(a.out, "OIDC authentication for %s\n", server.URL)
		cred, err = loginOIDC(ctx, a, opts.discoveryURL)
	case credential.KindX509:
		fmt.Fprintln(a.out, "X.509 certificate authentication")
		cred, err = loginX509(ctx, a, opts)
	case credential.KindToken:
		cred, err = loginToken(a)
	}
	if err != nil {
		return err
	}

	err = store.Put(skahactx.Context{
		Name:       server.Name,
		Server:     server,
		Credential: cred,
		CreatedAt:  a.now().UTC(),
	}, true)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "✓ Saved context %q (%s)\n", server.Name, credential.Redact(cred))
	fmt.Fprintln(a.out, "Login completed successfully!")
	return nil
}

// loginTarget returns the context a login would replace, if it exists.
func loginTarget(store *skahactx.Store, selected, name string) *skahactx.Context {
	if name == "" {
		name = selected
	}
	var (
		c   *skahactx.Context
		err error
	)
	if name != "" {
		c, err = store.Get(name)
	} else {
		c, err = store.Active()
	}
	if err != nil || c.Server.URL == "" {
		return nil
	}
	return c
}

// loginKind picks the credential kind: the --mode flag, else X.509 for CADC
// servers and OIDC for everything else.
func loginKind(mode string, server registry.Server) (credential.Kind, error) {
	if mode == "" {
		if strings.EqualFold(server.DiscoverySource, "CADC") {
			return credential.KindX509, nil
		}
		return credential.KindOIDC, nil
	}
	kind, err := credential.ParseKind(mode)
	if err != nil || kind == credential.KindNone {
		return "", fmt.Errorf("unsupported login mode %q: use oidc, x509 or token", mode)
	}
	return kind, nil
}

func selectServer(ctx context.Context, a *app, opts loginOptions) (registry.Server, error) {
	if opts.serverURL != "" {
		u, err := url.Parse(opts.serverURL)
		if err != nil {
			return registry.Server{}, &registry.InvalidServerError{Name: opts.serverURL, Reason: "url does not parse"}
		}
		server := registry.Server{
			Name:    u.Hostname(),
			URL:     strings.TrimSuffix(opts.serverURL, "/"),
			Version: registry.DefaultVersion,
		}
		return server, server.Validate()
	}

	s := newSpinner(a, " Discovering Science Platform servers...")
	s.Start()
	probeClient := &http.Client{Timeout: discoveryTimeout, Transport: a.httpClient.Transport}
	results, err := registry.NewDiscoverer(a.search, probeClient).Discover(ctx, opts.dev)
	s.Stop()
	if err != nil {
		endpoint := "the server registries"
		if len(a.search.Registries) > 0 {
			endpoint = a.search.Registries[0].URL
		}
		return registry.Server{}, cli.ClassifyConnectionError(fmt.Errorf("server discovery failed: %w", err), endpoint)
	}
	for _, src := range results.Sources {
		if src.Err != nil {
			fmt.Fprintf(a.errOut, "! Registry %s unavailable: %v\n", src.Source.Name, src.Err)
		}
	}

	servers := results.Active()
	if opts.dead {
		servers = results.Servers
	}
	if len(servers) == 0 {
		return registry.Server{}, fmt.Errorf("no Science Platform servers found, try --dead or --url")
	}

	t := cli.NewTable(a.out)
	t.AppendHeader(table.Row{"#", "Registry", "Name", "URL", "Status"})
	for i, srv := range servers {
		status := "down"
		if srv.Alive() {
			status = strconv.Itoa(srv.Status)
		}
		t.AppendRow(table.Row{i + 1, srv.DiscoverySource, srv.Name, srv.URL, status})
	}
	t.Render()

	answer, err := a.prompter.Line(fmt.Sprintf("Select a server [1-%d]: ", len(servers)))
	if err != nil {
		return registry.Server{}, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(answer))
	if err != nil || n < 1 || n > len(servers) {
		return registry.Server{}, fmt.Errorf("invalid selection %q", answer)
	}

	server := servers[n-1].Clone()
	server.Name = server.DiscoverySource + "-" + server.Name
	logging.Debug("Login", "Selected server %s at %s", server.Name, server.URL)
	return server, nil
}

func loginOIDC(ctx context.Context, a *app, discoveryURL string) (credential.Credential, error) {
	s := newSpinner(a, " Waiting for authorization...")
	observer := func(state oidc.State, auth *oidc.DeviceAuthorization) {
		logging.Debug("Login", "Device flow state: %s", state)
		switch {
		case state == oidc.StatePolling:
			uri := auth.VerificationURIComplete
			if uri == "" {
				uri = auth.VerificationURI
			}
			fmt.Fprintf(a.out, "\nTo authorize this device, visit:\n  %s\nand enter the code: %s\n", uri, auth.UserCode)
			fmt.Fprintf(a.out, "The code expires at %s.\n\n", auth.ExpiresAt.Local().Format(time.Kitchen))
			s.Start()
		case state.Terminal():
			s.Stop()
		}
	}
	defer s.Stop()

	cred, err := a.engine(oidc.WithObserver(observer)).Login(ctx, discoveryURL, oidc.Client{})
	if err != nil {
		return nil, err
	}
	if cred.Username != "" {
		fmt.Fprintf(a.out, "✓ Authenticated as %s\n", cred.Username)
	}
	return cred, nil
}

func loginX509(ctx context.Context, a *app, opts loginOptions) (credential.Credential, error) {
	username, err := a.prompter.Line("Username: ")
	if err != nil {
		return nil, err
	}
	password, err := a.prompter.Password("Password: ")
	if err != nil {
		return nil, err
	}

	path := opts.certificate
	if path == "" {
		path = certificate.DefaultPath()
	}
	parsed, err := certificate.Fetch(ctx, certificate.FetchOptions{
		URL:        a.credentialURL,
		Username:   strings.TrimSpace(username),
		Password:   password,
		DaysValid:  opts.daysValid,
		Path:       path,
		HTTPClient: a.httpClient,
	})
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(a.out, "✓ Certificate saved to %s, valid until %s\n", path, parsed.NotAfter().Format(time.RFC3339))
	return credential.X509{Path: path}, nil
}

func loginToken(a *app) (credential.Credential, error) {
	token, err := a.prompter.Password("Token: ")
	if err != nil {
		return nil, err
	}
	value := strings.TrimSpace(token.Reveal())
	if value == "" {
		return nil, fmt.Errorf("token must not be empty")
	}
	return credential.Token{Value: secret.New(value)}, nil
}

func newSpinner(a *app, suffix string) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(a.errOut))
	s.Suffix = suffix
	return s
}
