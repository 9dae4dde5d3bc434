package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/MertK96/azure-boardmetrics/internal/cli.version=1.2.3"
	version = "1.0.0"
	logo    = "\n" +
		"  _                         _                _        _\n" +
		" | |__   ___   __ _ _ __ __| |_ __ ___   ___| |_ _ __(_) ___ ___\n" +
		" | '_ \\ / _ \\ / _` | '__/ _` | '_ ` _ \\ / _ \\ __| '__| |/ __/ __|\n" +
		" | |_) | (_) | (_| | | | (_| | | | | | |  __/ |_| |  | | (__\\__ \\\n" +
		" |_.__/ \\___/ \\__,_|_|  \\__,_|_| |_| |_|\\___|\\__|_|  |_|\\___|___/\n"
)

var rootCmd = &cobra.Command{
	Use:   "boardmetrics",
	Short: "boardmetrics - Azure DevOps work item metrics mirror",
	Long:  color.CyanString(logo) + "\nMirrors Azure DevOps work items into a local store and derives planning metrics.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(collectCmd)
}

func printHeader(title string) {
	fmt.Println(color.CyanString(logo))
	if title != "" {
		fmt.Println(title)
		fmt.Println("─────────────────────")
	}
}
