package cli

import (
	"fmt"

	"github.com/Deepreo/jobsys/modules/auth"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var (
		subject string
		scopes  []string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator token for the debug server",
		RunE: func(cmd *cobra.Command, args []string) error {
			authCfg := cfg.Debug.Auth
			authCfg.Enabled = true
			provider, err := auth.NewTokenProvider(authCfg)
			if err != nil {
				return err
			}
			token, err := provider.Generate(subject, scopes...)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "operator", "Subject recorded in the token")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{auth.ScopeRead}, "Scopes to grant ("+auth.ScopeRead+", "+auth.ScopeCancel+")")
	return cmd
}
