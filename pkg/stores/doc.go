// Package stores records provisioning run history in SQLite.
//
// Each run is one row in runs and one row per action in action_results.
// The schema is embedded and applied with golang-migrate. SQLiteStore also
// implements engine.EventPublisher, so passing it to the executor records a
// run as it happens.
package stores
