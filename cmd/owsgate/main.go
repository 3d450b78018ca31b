// owsgate is a demo map dispatch server with the content-length plugin
// installed. It serves a single WMS GetCapabilities operation whose JSON
// response streams without declaring its size, so every response observed on
// the wire carries the injected Content-Length header.
package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/owsgate/contentlength"
	"github.com/owsgate/contentlength/ows"
)

var (
	listenAddr string
	debug      bool
)

func main() {
	root := &cobra.Command{
		Use:           "owsgate",
		Short:         "Demo OWS dispatch server with forced Content-Length responses.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	root.Flags().StringVarP(&listenAddr, "listen", "l", ":8080", "Address to listen on.")
	root.Flags().BoolVar(&debug, "debug", false, "Enable debug logging.")

	if err := root.Execute(); err != nil {
		os.Stderr.WriteString("owsgate: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer func() {
		_ = log.Sync()
	}()

	service := &ows.Service{ID: "wms", Version: "1.3.0"}

	d := ows.NewDispatcher(log)
	d.Register(&capabilitiesResponse{})
	d.Handle(service, "GetCapabilities", func(_ *ows.Request, operation *ows.Operation) (any, error) {
		return &capabilities{
			Service:    operation.Service.ID,
			Version:    operation.Service.Version,
			Operations: []string{"getcapabilities"},
		}, nil
	})
	d.Callback(contentlength.NewPlugin(log))

	router := chi.NewRouter()
	router.Handle("/ows", d)

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           otelhttp.NewHandler(router, "owsgate"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", listenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	errs := srv.Shutdown(ctx)
	select {
	case err := <-errCh:
		errs = multierr.Append(errs, err)
	default:
	}

	return errs
}

func newLogger() (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}

	return zap.NewProduction()
}

type capabilities struct {
	Service    string   `json:"service"`
	Version    string   `json:"version"`
	Operations []string `json:"operations"`
}

// capabilitiesResponse streams the capabilities document as JSON. It never
// sets its own Content-Length; the plugin takes care of that.
type capabilitiesResponse struct{}

func (*capabilitiesResponse) Binding() reflect.Type {
	return reflect.TypeOf(&capabilities{})
}

func (*capabilitiesResponse) OutputFormats() []string {
	return []string{"application/json"}
}

func (*capabilitiesResponse) CanHandle(operation *ows.Operation) bool {
	return operation != nil && operation.ID == "getcapabilities"
}

func (*capabilitiesResponse) MimeType(_ any, _ *ows.Operation) (string, error) {
	return "application/json", nil
}

func (*capabilitiesResponse) Headers(_ any, _ *ows.Operation) ([]ows.Header, error) {
	return nil, nil
}

func (*capabilitiesResponse) Write(value any, out io.Writer, _ *ows.Operation) error {
	return json.NewEncoder(out).Encode(value)
}

func (*capabilitiesResponse) PreferredDisposition(_ any, _ *ows.Operation) string {
	return ""
}

func (*capabilitiesResponse) AttachmentFileName(_ any, _ *ows.Operation) string {
	return ""
}
