package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/pysugar/tempmail-nexus/internal/mailapi"
	"github.com/spf13/cobra"
)

// readPassword returns the --password flag or the first line of stdin.
func readPassword(cmd *cobra.Command, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", fmt.Errorf("password is required")
	}
	return pw, nil
}

func newLoginCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <address>",
		Short: "Log in to an existing mailbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readPassword(cmd, password)
			if err != nil {
				return err
			}
			acct, err := appFrom(cmd).session.Login(cmd.Context(), args[0], pw)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", acct.Address, acct.ProviderID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Mailbox password (read from stdin when empty)")
	return core(cmd)
}

func newRegisterCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "register <address>",
		Short: "Create a mailbox and log in to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readPassword(cmd, password)
			if err != nil {
				return err
			}
			acct, err := appFrom(cmd).session.Register(cmd.Context(), args[0], pw)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s)\n", acct.Address, acct.ProviderID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Mailbox password (read from stdin when empty)")
	return core(cmd)
}

func newLogoutCmd() *cobra.Command {
	return core(&cobra.Command{
		Use:   "logout",
		Short: "Forget the active mailbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			cur, ok := a.session.Current()
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Not logged in")
				return nil
			}
			a.session.Logout(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "Logged out of %s\n", cur.Address)
			return nil
		},
	})
}

func newAccountsCmd() *cobra.Command {
	var (
		provider string
		current  bool
	)
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List stored mailboxes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			st := a.session.Snapshot()
			accounts := st.Accounts
			switch {
			case current:
				accounts = a.session.CurrentProviderAccounts()
			case provider != "":
				accounts = a.session.AccountsForProvider(provider)
			}
			if len(accounts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No accounts")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "\tADDRESS\tPROVIDER\tID")
			for _, acct := range accounts {
				marker := ""
				if st.CurrentAccount != nil && acct.Address == st.CurrentAccount.Address && acct.ProviderID == st.CurrentAccount.ProviderID {
					marker = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", marker, acct.Address, acct.ProviderID, acct.ID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "Only list accounts of this provider")
	cmd.Flags().BoolVar(&current, "current", false, "Only list accounts of the active account's provider")
	cmd.MarkFlagsMutuallyExclusive("provider", "current")
	return core(cmd)
}

func newSwitchCmd() *cobra.Command {
	var provider string
	cmd := &cobra.Command{
		Use:   "switch <address>",
		Short: "Make a stored mailbox active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appFrom(cmd).session.SwitchTo(cmd.Context(), args[0], provider); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Switched to %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "Provider of the account when the address is ambiguous")
	return core(cmd)
}

func newDeleteAccountCmd() *cobra.Command {
	return core(&cobra.Command{
		Use:   "delete-account <address|id>",
		Short: "Delete a mailbox at its provider and forget it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			id := resolveAccountID(a.session.Snapshot().Accounts, args[0])
			if err := a.session.DeleteAccount(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	})
}

// resolveAccountID accepts an address or an account id.
func resolveAccountID(accounts []mailapi.Account, ref string) string {
	for _, acct := range accounts {
		if strings.EqualFold(acct.Address, ref) {
			return acct.ID
		}
	}
	return ref
}
