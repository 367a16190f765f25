package cli

import (
	"context"
	"sync"
	"time"

	"docintel/app/api"
	"docintel/app/server"
	"docintel/logger"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(build Builder) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and background job workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := setup(ctx, build)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer app.Close()
			log := app.Logger

			handlers := server.Handlers{
				Request: api.NewRequestHandler(api.RequestHandlerParams{
					Extractor: app.Pipeline,
					Answerer:  app.Answerer,
					Ingester:  app.Ingester,
					Jobs:      app.Runner,
					Bucket:    app.Config.Storage.Bucket,
					Logger:    log.Named("api"),
				}),
				File:  api.NewFileHandler(app.Storage, app.Config.Storage.Bucket, log.Named("upload")),
				Check: api.NewCheckHandler(),
			}
			if app.Registry != nil {
				handlers.Metrics = promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{})
			}
			s := server.NewServer(app.Config.Server.Addr, app.Config.Server.BodyLimitMB, handlers, app.Metrics, log.Named("http"))

			jobsCtx, stopJobs := context.WithCancel(context.WithoutCancel(ctx))
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				app.Runner.Run(jobsCtx)
			}()

			errc := make(chan error, 1)
			go func() { errc <- s.Run() }()

			select {
			case <-ctx.Done():
				log.Info("received shutdown signal, shutting down server...")
			case err = <-errc:
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if serr := s.Stop(shutdownCtx); serr != nil {
				log.Error("error stopping server", zap.Error(serr))
			}
			stopJobs()
			wg.Wait()
			return err
		},
	}
}
