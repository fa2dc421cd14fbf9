package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	skahactx "skaha/internal/context"
)

func newAuthRegistryCmd(a *app) *cobra.Command {
	var (
		registryURL string
		username    string
		remove      bool
	)
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Save container registry credentials",
		Long: `Save the credentials of a private container registry. They are sent to the
server with every request so sessions can pull private images.

The secret is always read from the prompt. SKAHA_REGISTRY__URL,
SKAHA_REGISTRY__USERNAME and SKAHA_REGISTRY__SECRET override the saved
values for a single invocation.

Examples:
  skaha auth registry --url images.canfar.net --username alice
  skaha auth registry --clear`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}

			if remove {
				if err := store.SetRegistry(nil); err != nil {
					return err
				}
				fmt.Fprintln(a.out, "✓ Container registry credentials cleared")
				return nil
			}

			if username == "" {
				answer, err := a.prompter.Line("Registry username: ")
				if err != nil {
					return err
				}
				username = strings.TrimSpace(answer)
			}
			if username == "" {
				return fmt.Errorf("registry username must not be empty")
			}
			secret, err := a.prompter.Password("Registry secret: ")
			if err != nil {
				return err
			}

			r := &skahactx.ContainerRegistry{URL: registryURL, Username: username, Secret: secret}
			if err := store.SetRegistry(r); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "✓ Container registry credentials saved for %s\n", username)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&registryURL, "url", "", "Container registry URL")
	flags.StringVar(&username, "username", "", "Container registry username")
	flags.BoolVar(&remove, "clear", false, "Remove the saved credentials")
	return cmd
}
