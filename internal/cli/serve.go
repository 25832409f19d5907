package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shipsplit/shipsplit/internal/engine"
	"github.com/shipsplit/shipsplit/internal/server"
	"github.com/shipsplit/shipsplit/internal/store"
)

var port int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the ShipSplit HTTP server.

The server provides:
  - Assignment endpoint for storefront edge code
  - Beacon endpoint for tracking events
  - Shipping rate filtering for checkout
  - Results API and health check

Example:
  shipsplit serve --port 8080`,
	RunE: runServe,
}

func init() {
	defaultPort := 8080
	if p := os.Getenv("SHIPSPLIT_PORT"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil {
			defaultPort = parsed
		}
	}

	serveCmd.Flags().IntVarP(&port, "port", "p", defaultPort, "port to listen on")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	e := engine.New(s, engine.Config{}, logger)
	defer e.Close()

	srv := server.New(e, s, port, logger)

	fmt.Printf("shipsplit running on http://localhost:%d\n", port)
	fmt.Println("Press Ctrl+C to stop")

	return srv.Start()
}
