package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"screen-recorder/internal/platform/logger"
	"screen-recorder/internal/platform/metrics"
	"screen-recorder/internal/platform/storage"
	"screen-recorder/internal/recording"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func NewServeCmd(deps *Dependencies) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the recording control API",
		Long:  "Serve the HTTP control API: POST /recordings starts a recording, POST /recordings/{id}/{action} controls it.\nRunning recordings are stopped and finalized on shutdown.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port == "" {
				port = deps.Settings.Port
			}
			return runServe(deps, port)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "Listen port (default from settings or PORT)")
	return cmd
}

// newRouter mounts the control API, file listing and metrics on one chi router.
func newRouter(deps *Dependencies, svc *recording.Service, dir *storage.Dir, met *metrics.Metrics) http.Handler {
	log := deps.Log
	h := recording.NewHandler(svc, log, met)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveRecordings(svc.ActiveCount()) }).ServeHTTP(w, r)
	})
	r.Get("/files", func(w http.ResponseWriter, r *http.Request) {
		files, err := dir.List()
		if err != nil {
			log.Error("list recordings dir", "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(files)
	})
	h.Routes(r)
	return r
}

func runServe(deps *Dependencies, port string) error {
	log := deps.Log
	met := metrics.New()
	svc, dir, err := newService(deps, met)
	if err != nil {
		return err
	}

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: newRouter(deps, svc, dir, met)}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, draining connections")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		if cerr := svc.Close(sctx); cerr != nil {
			log.Error("stop recordings", "error", cerr)
		}
		return err
	})

	log.Info("server starting",
		"port", port,
		"recordings_dir", dir.Root(),
		"log_level", deps.Settings.LogLevel,
	)

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		return err
	}
	log.Info("server stopped")
	return nil
}
