// Command contour-quest serves the contouring trainer: timed drawing
// sessions against expert ground truth, scored and recorded for the
// department leaderboard.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/contour-quest/contour.quest/internal/api"
	"github.com/contour-quest/contour.quest/internal/config"
	"github.com/contour-quest/contour.quest/internal/fsutil"
	"github.com/contour-quest/contour.quest/internal/labelset"
	"github.com/contour-quest/contour.quest/internal/record"
	"github.com/contour-quest/contour.quest/internal/session"
	"github.com/contour-quest/contour.quest/internal/store"
	"github.com/contour-quest/contour.quest/internal/version"
)

var (
	configPath = flag.String("config", "config.json", "Path to the region configuration file")
	listen     = flag.String("listen", ":8080", "Listen address")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	log.Printf("contour-quest %s", version.String())

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open score database: %v", err)
	}
	defer db.Close()

	writer, err := record.NewWriter(fsutil.OSFileSystem{}, db, cfg.RecordsDir, cfg.Year)
	if err != nil {
		log.Fatalf("Failed to prepare records directory: %v", err)
	}

	sessions := session.NewManager(cfg, labelset.NewLoader(), nil, writer)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// admin debugging routes, served over the same listener
		db.AttachAdminRoutes(mux)

		srv := api.NewServer(cfg, sessions, db)
		mux.Handle("/api/", srv.ServeMux())

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s (%d regions, records in %s)",
				*listen, len(cfg.Regions), cfg.RecordsDir)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	<-ctx.Done()

	// Expire whatever is still drawing so every session leaves a
	// record, then let finalizations drain.
	sessions.Shutdown()
	for _, id := range sessions.IDs() {
		if s, ok := sessions.Get(id); ok {
			select {
			case <-s.Done():
			case <-time.After(30 * time.Second):
				log.Printf("session %s: finalization still pending at shutdown", id)
			}
		}
	}

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
