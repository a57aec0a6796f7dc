package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/KaramelBytes/abverdict/internal/commentary"
	"github.com/KaramelBytes/abverdict/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var (
	serveAddr     string
	serveProvider string
	serveModel    string
	serveNoLLM    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve exposes comparisons and LLM commentary over HTTP:

  POST /api/analyze-request   overall verdict for an uploaded request file
  POST /api/compare           comparison tables without commentary
  POST /api/deep-dive-query   per-segment verdicts
  POST /api/upload-config     replace the four configuration documents

Configuration documents are reloaded when their files change on disk.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := ensureConfig()
		if err != nil {
			return err
		}
		addr := serveAddr
		if addr == "" {
			addr = c.ServerAddr
		}

		var gen *commentary.Generator
		if !serveNoLLM {
			rt, provider, model, err := buildRuntime(c, runtimeOptions{ProviderFlag: serveProvider, ModelFlag: serveModel})
			if err != nil {
				fmt.Fprintf(os.Stderr, "⚠ Warning: LLM commentary disabled: %v\n", err)
			} else {
				slog.Default().Info("llm runtime", "provider", provider, "model", model)
				gen = newGenerator(c, rt, model)
			}
		}
		p, store := buildPipeline(c, gen)
		if store == nil {
			return fmt.Errorf("config_dir is not set")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := store.Watch(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "⚠ Warning: config reload disabled: %v\n", err)
		}
		defer store.Close()

		if !debug {
			gin.SetMode(gin.ReleaseMode)
		}
		fmt.Printf("✓ Serving on %s (config: %s)\n", addr, store.Dir())
		return server.New(p, store, slog.Default()).Run(ctx, addr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config server_addr)")
	serveCmd.Flags().StringVar(&serveProvider, "provider", "", "LLM provider: openai|openrouter (overrides config)")
	serveCmd.Flags().StringVar(&serveModel, "model", "", "LLM model (overrides config)")
	serveCmd.Flags().BoolVar(&serveNoLLM, "no-llm", false, "serve comparisons only, without LLM commentary")
}
