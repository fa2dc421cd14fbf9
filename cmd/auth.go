package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"skaha/internal/cli"
	"skaha/internal/client"
	skahactx "skaha/internal/context"
)

// newAuthCmd creates the auth command group.
func newAuthCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage authentication contexts",
		Long: `Manage the authentication contexts skaha uses to reach Science Platform servers.

Examples:
  skaha auth login                 # Discover servers and log in
  skaha auth login --url <url>     # Log in to a specific server
  skaha auth list                  # Show all contexts
  skaha auth switch <name>         # Change the active context
  skaha auth status                # Check the active credential
  skaha auth remove <name>         # Remove an inactive context
  skaha auth purge --yes           # Remove every context
  skaha auth registry              # Save container registry credentials`,
	}

	cmd.AddCommand(newAuthLoginCmd(a))
	cmd.AddCommand(newAuthListCmd(a))
	cmd.AddCommand(newAuthSwitchCmd(a))
	cmd.AddCommand(newAuthRemoveCmd(a))
	cmd.AddCommand(newAuthPurgeCmd(a))
	cmd.AddCommand(newAuthStatusCmd(a))
	cmd.AddCommand(newAuthRegistryCmd(a))
	return cmd
}

func newAuthListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List authentication contexts",
		Long: `List all configured contexts. The active context is marked with an asterisk (*).

Secrets are never shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}

			contexts := store.List()
			if len(contexts) == 0 {
				fmt.Fprintln(a.out, "No authentication contexts configured yet.")
				fmt.Fprintln(a.out, "Run 'skaha auth login' to add one.")
				return nil
			}
			cli.RenderContexts(a.out, contexts, store.ActiveName(), a.now())
			return nil
		},
	}
}

func newAuthSwitchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:               "switch <name>",
		Aliases:           []string{"use"},
		Short:             "Switch the active context",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeContextNames(a),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			if err := store.Switch(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "✓ Switched active context to %q\n", args[0])
			return nil
		},
	}
}

func newAuthRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove a context",
		Long: `Remove a context by name.

The active context cannot be removed. Switch to another context first with
'skaha auth switch <name>'.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeContextNames(a),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			if err := store.Remove(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "✓ Removed context %q\n", args[0])
			return nil
		},
	}
}

func newAuthPurgeCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove all contexts",
		Long: `Delete the context file and every credential it holds.

By default, this command asks for confirmation. Use --yes to skip the prompt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				ok, err := a.prompter.Confirm("This will remove all stored authentication credentials. Continue?")
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(a.out, "Purge cancelled.")
					return nil
				}
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			if err := store.Purge(); err != nil {
				return fmt.Errorf("failed to purge contexts: %w", err)
			}
			fmt.Fprintln(a.out, "✓ Authentication credentials cleared")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation prompt")
	return cmd
}

func newAuthStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status [name]",
		Short: "Show a context and check its credential",
		Long: `Show the details of a context and check that its credential can be used.

Expired OIDC tokens are refreshed as part of the check. With SKAHA_TOKEN or
SKAHA_CERTIFICATE set together with SKAHA_URL, the runtime credentials are
checked instead of the context file.

Exits with code 2 when a new login is required.`,
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: completeContextNames(a),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				store *skahactx.Store
				err   error
			)
			if a.settings.HasRuntimeCredentials() {
				store, err = client.RuntimeStore(a.settings.Token, a.settings.Certificate, a.settings.URL)
			} else {
				store, err = a.openStore()
			}
			if err != nil {
				return err
			}

			name := a.settings.Context
			if len(args) == 1 {
				name = args[0]
			}
			var c *skahactx.Context
			if name != "" {
				c, err = store.Get(name)
			} else {
				c, err = store.Active()
			}
			if err != nil {
				return err
			}

			cli.RenderContext(a.out, *c, c.Name == store.ActiveName(), a.now())

			factory, err := a.factory(cmd, store, c.Name)
			if err != nil {
				return err
			}
			cl, err := factory.New(cmd.Context())
			if err != nil {
				return err
			}
			defer cl.Close()

			if expiry, ok := cl.Expiry(); ok {
				fmt.Fprintf(a.out, "✓ Credential ready, expires %s\n", expiry.Format("2006-01-02 15:04:05 MST"))
			} else {
				fmt.Fprintln(a.out, "✓ Credential ready")
			}
			return nil
		},
	}
}

// completeContextNames provides shell completion for context names.
func completeContextNames(a *app) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		if a.settings == nil {
			if err := a.setup(cmd); err != nil {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
		}
		store, err := a.openStore()
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		return store.Names(), cobra.ShellCompDirectiveNoFileComp
	}
}
