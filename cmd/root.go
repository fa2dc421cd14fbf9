package cmd

import (
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"skaha/internal/auth"
	"skaha/internal/cli"
	"skaha/internal/client"
	"skaha/internal/config"
	skahactx "skaha/internal/context"
	"skaha/internal/oidc"
	"skaha/internal/registry"
	"skaha/pkg/logging"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath  string
	logLevel    string
	timeout     time.Duration
	concurrency int
	context     string
}

// app carries the settings and the outside world for one invocation.
// Tests replace the streams, clock, prompter and HTTP client.
type app struct {
	opts     rootOptions
	settings *config.Settings

	in     io.ReadCloser
	out    io.Writer
	errOut io.Writer
	now    func() time.Time

	prompter   cli.Prompter
	httpClient *http.Client

	search        registry.SearchConfig
	credentialURL string
	engineOptions []oidc.Option
}

func newApp() *app {
	return &app{
		in:     os.Stdin,
		out:    os.Stdout,
		errOut: os.Stderr,
		now:    time.Now,
		search: registry.DefaultSearchConfig(),
	}
}

// rootCmd represents the base command for the skaha application.
var rootCmd = newRootCmd(newApp())

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skaha",
		Short: "Science Platform command line client",
		Long: `skaha talks to Science Platform deployments on your behalf.

It keeps named authentication contexts, each pairing a server with an X.509
certificate, OIDC tokens or a bearer token, and refreshes OIDC tokens
transparently when they expire.`,
		// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	cmd.SetVersionTemplate(`{{printf "skaha version %s\n" .Version}}`)

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.opts.configPath, "config", "", "Path to the context file (default ~/.skaha/config.yaml)")
	flags.StringVar(&a.opts.logLevel, "loglevel", "", "Log level: debug, info, warn or error")
	flags.DurationVar(&a.opts.timeout, "timeout", 0, "HTTP request timeout (1s to 300s)")
	flags.IntVar(&a.opts.concurrency, "concurrency", 0, "Maximum concurrent requests (1 to 128)")
	flags.StringVar(&a.opts.context, "context", "", "Context to use instead of the active one")

	cmd.AddCommand(newAuthCmd(a))
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newSelfUpdateCmd())
	return cmd
}

// setup resolves settings from the environment, lets flags override them and
// initialises logging.
func (a *app) setup(cmd *cobra.Command) error {
	settings, err := config.Decode()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("config") {
		settings.ConfigPath = a.opts.configPath
	}
	if flags.Changed("timeout") {
		settings.Timeout = a.opts.timeout
	}
	if flags.Changed("concurrency") {
		settings.Concurrency = a.opts.concurrency
	}
	if flags.Changed("loglevel") {
		if err := settings.SetLogLevel(a.opts.logLevel); err != nil {
			return err
		}
	}
	settings.Context = cli.ResolveContextName(a.opts.context)

	if err := settings.Validate(); err != nil {
		return err
	}

	logging.InitForCLI(settings.LogLevel, a.errOut)
	a.settings = settings

	if a.prompter == nil {
		a.prompter = cli.NewPrompter(a.in, a.out)
	}
	if a.httpClient == nil {
		a.httpClient = &http.Client{Timeout: settings.Timeout}
	}
	return nil
}

func (a *app) openStore() (*skahactx.Store, error) {
	path, err := a.settings.StorePath()
	if err != nil {
		return nil, err
	}
	return skahactx.NewStore(skahactx.NewStorageWithPath(path))
}

func (a *app) engine(opts ...oidc.Option) *oidc.Engine {
	all := []oidc.Option{oidc.WithHTTPClient(a.httpClient), oidc.WithClock(a.now)}
	all = append(all, a.engineOptions...)
	return oidc.NewEngine(append(all, opts...)...)
}

// factory builds a client factory for the named context, refreshing OIDC
// tokens through the engine.
func (a *app) factory(cmd *cobra.Command, store *skahactx.Store, name string) (*client.Factory, error) {
	binder := auth.NewBinder(store, a.engine(),
		auth.WithClock(a.now),
		auth.WithRegistry(a.settings.Registry))
	opts := client.Options{
		Timeout:     a.settings.Timeout,
		Concurrency: a.settings.Concurrency,
		UserAgent:   "skaha/" + cmd.Root().Version,
	}
	return client.NewFactory(binder, opts,
		client.WithContext(name),
		client.WithClock(a.now),
		client.WithCertificateWatch())
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// It is called by main.main() and exits with a code that tells scripts
// whether a failure needs a new login or a configuration fix.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
