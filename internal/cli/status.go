package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MertK96/azure-boardmetrics/internal/config"
	"github.com/MertK96/azure-boardmetrics/internal/store"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ boardmetrics Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("📊 boardmetrics Status")
		fmt.Printf("Version: %s\n", version)

		// Check config
		configPath, _ := config.ConfigPath()
		if _, err := os.Stat(configPath); err == nil {
			fmt.Println("Config:  ✓ Found (" + configPath + ")")
		} else {
			fmt.Println("Config:  ✗ Not found (defaults and environment apply)")
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Printf("Config:  ? Unable to load: %v\n", err)
			return
		}

		if cfg.Azdo.OrganizationURL != "" && cfg.Azdo.Project != "" && cfg.Azdo.Pat != "" {
			fmt.Printf("Azure DevOps: ✓ %s / %s\n", cfg.Azdo.OrganizationURL, cfg.Azdo.Project)
		} else {
			fmt.Println("Azure DevOps: ✗ Not configured (set organizationUrl, project, pat)")
		}

		st, err := store.Open(cfg.Sync.DatabasePath)
		if err != nil {
			fmt.Printf("Store:   ✗ %v\n", err)
			return
		}
		defer st.Close()
		total, flagged, err := st.CountItems()
		if err != nil {
			fmt.Printf("Store:   ? %v\n", err)
			return
		}
		fmt.Printf("Store:   ✓ %s (%d items, %d flagged)\n", cfg.Sync.DatabasePath, total, flagged)
		wm := st.Watermark(time.Now(), cfg.Sync.Lookback)
		fmt.Printf("Synced:  up to %s\n", wm.Format("2006-01-02 15:04:05 MST"))
		fmt.Println("Status:  Ready")
	},
}
