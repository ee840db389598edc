package cli

import (
	"os"
	"os/signal"
	"syscall"

	internal_http "github.com/ignatij/taskflow/internal/http"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the taskflow HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			if port == 0 && a.cfg != nil {
				port = a.cfg.HTTP.Port
			}
			if port == 0 {
				port = 8080
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return internal_http.StartServer(ctx, port, internal_http.NewServer(svc, a.bus))
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (overrides http.port)")
	return cmd
}
