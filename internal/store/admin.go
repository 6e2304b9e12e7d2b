package store

import (
	"log"
	"net/http"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// AttachAdminRoutes mounts a tailSQL console over the score database
// on the debug mux. Read-only operator tooling; never exposed on the
// trainee-facing listener.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://scores.db", db.DB, &tailsql.DBOptions{
		Label: "Score DB",
	})

	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
}
