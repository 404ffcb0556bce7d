package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/kuitang/storefront-e2e/internal/session"
)

func newStateCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or clear the persisted session state",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Describe the persisted session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.load(cmd, nil)
			if err != nil {
				return err
			}
			st, err := s.Store.Load(cmd.Context())
			switch {
			case errors.Is(err, session.ErrNotFound):
				fmt.Fprintf(cmd.OutOrStdout(), "No session state at %s\n", s.Store.Location())
				return nil
			case errors.Is(err, session.ErrCorrupt):
				fmt.Fprintf(cmd.OutOrStdout(), "Session state at %s is unusable: %v\n", s.Store.Location(), err)
				return nil
			case err != nil:
				return err
			}
			printState(cmd.OutOrStdout(), s.Store.Location(), st, s.Config.Origin(), s.Config.SessionMaxAge, time.Now())
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the persisted session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.load(cmd, nil)
			if err != nil {
				return err
			}
			if err := s.Store.Delete(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", s.Store.Location())
			return nil
		},
	}

	cmd.AddCommand(show, clearCmd)
	return cmd
}

func printState(w io.Writer, location string, st *session.State, origin string, maxAge time.Duration, now time.Time) {
	cookies, origins := st.Counts()
	fmt.Fprintf(w, "Location: %s\n", location)
	fmt.Fprintf(w, "Origin:   %s\n", st.Origin)
	fmt.Fprintf(w, "Created:  %s (%s ago)\n", st.CreatedAt.UTC().Format(time.RFC3339), st.Age(now).Round(time.Second))
	fmt.Fprintf(w, "Cookies:  %d\n", cookies)
	fmt.Fprintf(w, "Origins:  %d\n", origins)
	if st.Usable(origin, maxAge, now) {
		fmt.Fprintln(w, "Usable:   yes")
	} else {
		fmt.Fprintln(w, "Usable:   no")
	}
}
