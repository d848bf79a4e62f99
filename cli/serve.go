package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/maploc/maploc/httpapi"
)

const serveShutdownTimeout = 10 * time.Second

// ServeAction runs the localization HTTP API until interrupted.
func ServeAction(c *cli.Context) error {
	l, err := localizerFromFlags(c)
	if err != nil {
		return err
	}
	logger := actionLogger(c)
	api := httpapi.NewServer(l, logger)

	srv := &http.Server{
		Addr:        c.String(serveFlagAddress),
		Handler:     api.Handler(),
		ReadTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(c.App.Writer, "listening on %s\n", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	case <-c.Context.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serveShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
