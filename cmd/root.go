package cmd

import (
	"fmt"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"strings"
)

const (
	defaultPort = 24224
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "collector",
		Short: "TCP front-end for log collection",
		Long: fmt.Sprintf(`collector (v%s)

Accepts persistent TCP connections, splits each stream into messages on a
delimiter and drops connections that stay idle for too long.`, Version),
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(sendCmd)
	RootCmd.AddCommand(versionCmd)
}

// initConfig loads .env files and makes every flag settable as COLLECTOR_<FLAG>.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("collector")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
