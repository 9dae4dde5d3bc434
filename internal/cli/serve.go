package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MertK96/azure-boardmetrics/internal/azdo"
	"github.com/MertK96/azure-boardmetrics/internal/collector"
	"github.com/MertK96/azure-boardmetrics/internal/config"
	"github.com/MertK96/azure-boardmetrics/internal/httpapi"
	"github.com/MertK96/azure-boardmetrics/internal/notify"
	"github.com/MertK96/azure-boardmetrics/internal/store"
	webassets "github.com/MertK96/azure-boardmetrics/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the collector loop and the dashboard API",
	Run:   runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	printHeader("📈 boardmetrics serve")

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.Sync.DatabasePath)
	if err != nil {
		fmt.Printf("Store error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	client := azdo.NewClient(cfg.Azdo, nil)

	var notifiers []notify.Notifier
	if n := notify.NewSlackNotifier(cfg.Notify.Slack); n != nil {
		notifiers = append(notifiers, n)
	}
	if n := notify.NewKafkaNotifier(cfg.Notify.Kafka); n != nil {
		defer n.Close()
		notifiers = append(notifiers, n)
	}
	for _, n := range notifiers {
		slog.Info("notifier enabled", "name", n.Name())
	}

	coll := collector.New(cfg, st, client, notifiers)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if client.Configured() {
		go func() {
			if err := coll.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("collector exited", "error", err)
			}
		}()
	} else {
		slog.Warn("azure devops not configured, serving stored data only")
	}

	api := httpapi.NewServer(cfg, st, coll, webassets.Files)

	server := &http.Server{Addr: cfg.Server.Listen, Handler: api}
	go func() {
		<-ctx.Done()
		server.Shutdown(context.Background())
	}()

	slog.Info("dashboard listening", "addr", cfg.Server.Listen)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Printf("Server error: %v\n", err)
		os.Exit(1)
	}
}
