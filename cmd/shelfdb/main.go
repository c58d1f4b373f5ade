// Package main provides the shelfdb CLI for operating a shelfdb database.
//
// The CLI supports:
//   - migrate: Bootstrap the schema and apply pending migrations
//   - status: Show recorded and pending migrations
//   - doctor: Run health checks on the configured backend
//   - bootstrap: Apply the bundled schema only
//   - config show: Print the effective configuration
//   - config check: Validate the configuration without connecting
//
// Every database command opens the backend selected by database.backend
// (sqlite or postgres) through the same startup path the service uses.
package main

func main() {
	Execute()
}
