package cli

import (
	"os"

	skahactx "skaha/internal/context"
)

// ResolveContextName picks the context a command should use:
//  1. the --context flag
//  2. the SKAHA_CONTEXT environment variable
//  3. "" meaning the active context of the store
func ResolveContextName(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(skahactx.ContextEnvVar)
}
