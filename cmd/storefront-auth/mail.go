package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kuitang/storefront-e2e/internal/logutil"
	"github.com/kuitang/storefront-e2e/internal/mailbox"
	"github.com/kuitang/storefront-e2e/internal/otp"
)

func newMailCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mail",
		Short: "Manage the Gmail mailbox that receives one-time codes",
	}

	authorize := &cobra.Command{
		Use:   "authorize",
		Short: "Run the browser consent flow and save a refreshable token",
		Long: `Opens a loopback listener, prints the Google consent URL and waits for the
redirect. The token is written to GMAIL_TOKEN_FILE with mode 0600. When
GMAIL_EXPECTED_ACCOUNT is set the authorized account must match it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.load(cmd, nil)
			if err != nil {
				return err
			}
			cfg := s.Config
			oc, err := mailbox.LoadOAuthConfig(cfg.GmailCredentialsFile, mailbox.Scopes(cfg.GmailExpectedAccount)...)
			if err != nil {
				return err
			}
			a := &mailbox.Authorizer{OAuth: oc, ExpectedAccount: cfg.GmailExpectedAccount}
			tok, err := a.Authorize(cmd.Context())
			if err != nil {
				return err
			}
			if err := mailbox.SaveToken(cfg.GmailTokenFile, tok); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token saved to %s\n", cfg.GmailTokenFile)
			return nil
		},
	}

	var (
		query  string
		since  time.Duration
		reveal bool
	)
	code := &cobra.Command{
		Use:   "otp",
		Short: "Poll the mailbox for the newest one-time code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.load(cmd, nil)
			if err != nil {
				return err
			}
			mb, err := s.Mailbox(cmd.Context(), false)
			if err != nil {
				return err
			}
			if query == "" {
				query = s.Config.OTPQuery
			}
			c, err := s.Fetcher(mb).Fetch(cmd.Context(), otp.Request{Query: query, After: time.Now().Add(-since)})
			if err != nil {
				return err
			}
			if !reveal {
				c = logutil.MaskCode(c)
			}
			fmt.Fprintln(cmd.OutOrStdout(), c)
			return nil
		},
	}
	code.Flags().StringVar(&query, "query", "", "Gmail search query (default OTP_QUERY)")
	code.Flags().DurationVar(&since, "since", 10*time.Minute, "Ignore messages older than this")
	code.Flags().BoolVar(&reveal, "reveal", false, "Print the full code instead of a masked one")

	cmd.AddCommand(authorize, code)
	return cmd
}
