package cmd

import (
	"fmt"
	"github.com/spf13/cobra"
	"strconv"
)

const Version = "0.1.0"

// set with -ldflags "-X github.com/fzft/go-log-collector/cmd.gitSHA1=..."
var (
	gitSHA1   = "unknown"
	gitDirty  = "0"
	buildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the collector",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), versionString())
	},
}

func versionString() string {
	version := "collector v" + Version
	// Add git commit and working tree status when available
	if sha1Int, err := strconv.ParseUint(gitSHA1, 16, 64); err == nil && sha1Int != 0 {
		version = fmt.Sprintf("%s (git:%s", version, gitSHA1)
		if dirtyInt, err := strconv.ParseInt(gitDirty, 10, 64); err == nil && dirtyInt != 0 {
			version += "-dirty"
		}
		version += ")"
	}
	if buildDate != "unknown" {
		version += " built " + buildDate
	}
	return version
}
