// Package integration exercises the protocol driver stack (dialect
// probing, publish, fetch, search) against a real OpenLDAP server run
// via testcontainers. These tests require Docker and are excluded from
// the default build.
//
// Run with: go test -tags=integration ./internal/integration/...
package integration
