package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pictora/pictora-go/cmd/plan"
	"github.com/pictora/pictora-go/cmd/serve"
	"github.com/pictora/pictora-go/internal/buildinfo"
	"github.com/pictora/pictora-go/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "pictora",
		Short:   "Pictora image acquisition and analysis service",
		Version: buildinfo.String(),
	}

	setupFlags(rootCmd, settings)

	subcommands := []*cobra.Command{
		serve.Command(settings),
		plan.Command(settings),
	}
	rootCmd.AddCommand(subcommands...)

	return rootCmd
}

// setupFlags binds the global command line flags to viper so they override
// the configuration file.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", settings.Debug, "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.HTTP.Host, "host", settings.HTTP.Host, "Interface the HTTP server binds to")
	rootCmd.PersistentFlags().IntVar(&settings.HTTP.Port, "port", settings.HTTP.Port, "Port the HTTP server listens on")
	rootCmd.PersistentFlags().StringVar(&settings.Storage.BaseDir, "data-dir", settings.Storage.BaseDir, "Base directory for stored images")

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("http.host", rootCmd.PersistentFlags().Lookup("host"))
	_ = viper.BindPFlag("http.port", rootCmd.PersistentFlags().Lookup("port"))
	_ = viper.BindPFlag("storage.basedir", rootCmd.PersistentFlags().Lookup("data-dir"))
}
