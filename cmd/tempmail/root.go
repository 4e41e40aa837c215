package main

import (
	"context"
	"fmt"

	"github.com/pysugar/tempmail-nexus/internal/config"
	"github.com/pysugar/tempmail-nexus/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type contextKey struct{}

// newRootCmd builds the command tree. cleanup releases whatever the executed
// command opened and is safe to call when nothing was.
func newRootCmd() (root *cobra.Command, cleanup func()) {
	v := viper.New()
	var (
		configPath string
		loaded     *app
	)

	root = &cobra.Command{
		Use:          "tempmail",
		Short:        "Disposable mailbox client",
		Long:         "tempmail manages disposable mailboxes across mail API providers and serves a local control API.",
		Version:      version.Get().String(),
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configPath, "config", config.DefaultConfigPath(), "Path to config.yaml")
	flags.String("data-path", "", "SQLite database path")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (text, json)")
	flags.Bool("verbose", false, "Log truncated bodies of failed upstream calls")
	flags.String("api-key", "", "API key for domain listing and account creation")

	v.BindPFlag("data_path", flags.Lookup("data-path"))
	v.BindPFlag("log_level", flags.Lookup("log-level"))
	v.BindPFlag("log_format", flags.Lookup("log-format"))
	v.BindPFlag("verbose", flags.Lookup("verbose"))
	v.BindPFlag("api_key", flags.Lookup("api-key"))

	// Commands that need the core get it from the context set here.
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations["core"] != "true" {
			return nil
		}
		cfg, err := config.Load(v, configPath)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		loaded = a
		cmd.SetContext(context.WithValue(cmd.Context(), contextKey{}, a))
		return nil
	}

	root.AddCommand(
		newServeCmd(v),
		newLoginCmd(),
		newRegisterCmd(),
		newLogoutCmd(),
		newAccountsCmd(),
		newSwitchCmd(),
		newDeleteAccountCmd(),
		newInboxCmd(),
		newReadCmd(),
		newWatchCmd(),
		newDomainsCmd(),
		newProvidersCmd(),
		newAPIKeyCmd(),
		newVersionCmd(),
	)
	return root, func() {
		if loaded != nil {
			loaded.close()
			loaded = nil
		}
	}
}

// core marks cmd as needing the wired application.
func core(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations["core"] = "true"
	return cmd
}

func appFrom(cmd *cobra.Command) *app {
	if cmd.Context() == nil {
		return nil
	}
	a, _ := cmd.Context().Value(contextKey{}).(*app)
	return a
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
		},
	}
}
