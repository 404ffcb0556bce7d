package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kuitang/storefront-e2e/internal/config"
)

func newBootstrapCmd(g *globalFlags) *cobra.Command {
	var recreate bool
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Ensure a logged-in session exists, logging in only when needed",
		Long: `Reuses the persisted session when it is still valid for the storefront origin and
shows the dashboard landmark. Otherwise runs the email + one-time-code login once
and persists the new state. --recreate-auth always logs in.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.load(cmd, func(f *config.Flags) {
				if cmd.Flags().Changed("recreate-auth") {
					f.RecreateAuth = &recreate
				}
			})
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			driver, err := s.Browser()
			if err != nil {
				return err
			}
			sess, err := s.Factory(driver, nil).GetAuthenticatedContext(cmd.Context(), s.Config.ForceRecreate)
			if err != nil {
				return err
			}
			if err := sess.Close(); err != nil {
				return fmt.Errorf("close session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session ready: %s\n", s.Store.Location())
			return nil
		},
	}
	cmd.Flags().BoolVar(&recreate, "recreate-auth", false, "Discard persisted state and log in again")
	return cmd
}
