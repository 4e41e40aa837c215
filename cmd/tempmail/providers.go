package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/pysugar/tempmail-nexus/internal/credential"
	"github.com/pysugar/tempmail-nexus/internal/providers/catalog"
	"github.com/pysugar/tempmail-nexus/internal/util"
	"github.com/spf13/cobra"
)

func newDomainsCmd() *cobra.Command {
	var provider string
	cmd := &cobra.Command{
		Use:   "domains",
		Short: "List mail domains offered by the enabled providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			var domains []catalog.Domain
			if provider != "" {
				domains = a.mail.FetchDomainsFromProvider(cmd.Context(), provider)
			} else {
				var err error
				domains, err = a.mail.FetchAllDomains(cmd.Context())
				if err != nil {
					a.log.WithError(err).Warn("⚠️ Failed to cache domains")
				}
			}
			if len(domains) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No domains available")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DOMAIN\tPROVIDER\tPRIVATE")
			for _, d := range domains {
				fmt.Fprintf(tw, "%s\t%s\t%t\n", d.Domain, d.ProviderID, d.IsPrivate)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "Only query this provider")
	return core(cmd)
}

func newProvidersCmd() *cobra.Command {
	cmd := core(&cobra.Command{
		Use:   "providers",
		Short: "List and manage mail API providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := appFrom(cmd).registry
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tBASE URL\tENABLED")
			for _, p := range reg.Providers() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", p.ID, p.Name, p.BaseURL, reg.IsEnabled(p.ID))
			}
			return tw.Flush()
		},
	})

	setEnabled := func(use, short string, enabled bool) *cobra.Command {
		return core(&cobra.Command{
			Use:   use + " <id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				reg := appFrom(cmd).registry
				if _, ok := reg.Lookup(args[0]); !ok {
					return fmt.Errorf("unknown provider %q", args[0])
				}
				return reg.SetEnabled(cmd.Context(), args[0], enabled)
			},
		})
	}

	var p catalog.Provider
	add := core(&cobra.Command{
		Use:   "add",
		Short: "Register a custom provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appFrom(cmd).registry.AddCustomProvider(cmd.Context(), p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added provider %s\n", p.ID)
			return nil
		},
	})
	add.Flags().StringVar(&p.ID, "id", "", "Provider id (lowercase letters, digits, dashes)")
	add.Flags().StringVar(&p.Name, "name", "", "Display name")
	add.Flags().StringVar(&p.BaseURL, "base-url", "", "API base URL")
	add.MarkFlagRequired("id")
	add.MarkFlagRequired("base-url")

	remove := core(&cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a custom provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return appFrom(cmd).registry.RemoveCustomProvider(cmd.Context(), args[0])
		},
	})

	cmd.AddCommand(
		setEnabled("enable", "Enable a provider", true),
		setEnabled("disable", "Disable a provider", false),
		add,
		remove,
	)
	return cmd
}

func newAPIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage the provider API key",
	}
	show := core(&cobra.Command{
		Use:   "show",
		Short: "Show where the API key comes from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, src := appFrom(cmd).apiKeys.Lookup(cmd.Context())
			if src == credential.SourceNone {
				fmt.Fprintln(cmd.OutOrStdout(), "No API key configured")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (from %s)\n", util.MaskSecret(key), src)
			return nil
		},
	})
	set := core(&cobra.Command{
		Use:   "set <key>",
		Short: "Store the API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return appFrom(cmd).apiKeys.Set(cmd.Context(), args[0])
		},
	})
	clearKey := core(&cobra.Command{
		Use:   "clear",
		Short: "Remove the stored API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return appFrom(cmd).apiKeys.Clear(cmd.Context())
		},
	})
	cmd.AddCommand(show, set, clearKey)
	return cmd
}
