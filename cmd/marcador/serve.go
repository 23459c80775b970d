package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON API",
	Long: `Serve the JSON API:

  POST  /api/sequences/:name/next
  POST  /api/datasets/:dataset/items/:item/label
  PATCH /api/datasets/:dataset/items/:item/label
  GET   /api/datasets/:dataset/items/:item/previous
  GET   /api/datasets/:dataset/next?worker_id=
  GET   /api/datasets/:dataset/queue?worker_id=&include_done=&page=&page_size=
  GET   /api/datasets/:dataset/stats?worker_id=
  GET   /metrics
  GET   /healthz`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, release, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer release()

		addr := app.Config.Server.Addr
		if flagAddr, _ := cmd.Flags().GetString("addr"); flagAddr != "" {
			addr = flagAddr
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return app.Serve(ctx, addr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", "", "Address to bind the webserver, overrides server.addr")
}
