package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MertK96/azure-boardmetrics/internal/azdo"
	"github.com/MertK96/azure-boardmetrics/internal/collector"
	"github.com/MertK96/azure-boardmetrics/internal/config"
	"github.com/MertK96/azure-boardmetrics/internal/store"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run a single sync pass and exit",
	Run:   runCollect,
}

func runCollect(cmd *cobra.Command, args []string) {
	printHeader("🔄 boardmetrics collect")

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}

	client := azdo.NewClient(cfg.Azdo, nil)
	if !client.Configured() {
		fmt.Println("Azure DevOps is not configured. Set organizationUrl, project and pat in the config file")
		fmt.Println("or export AZDO_ORG_URL, AZDO_PROJECT and AZDO_PAT.")
		os.Exit(1)
	}

	st, err := store.Open(cfg.Sync.DatabasePath)
	if err != nil {
		fmt.Printf("Store error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	coll := collector.New(cfg, st, client, nil)
	res, err := coll.RunOnce(ctx)
	if err != nil {
		fmt.Printf("Sync failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Queried:   %d changed items\n", res.Queried)
	fmt.Printf("Processed: %d\n", res.Processed)
	fmt.Printf("Flagged:   %d newly flagged\n", res.Flagged)
	fmt.Printf("Watermark: %s\n", res.Watermark.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("Duration:  %s\n", res.Duration.Round(time.Millisecond))
}
