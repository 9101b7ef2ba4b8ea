// Package sqlite contains the SQLite track store.
//
// Every tracking run is registered with a UUID, its start time, the tuning
// configuration it ran with and the build version. Per-frame cluster
// centers are stored against the run so trails can be queried after the
// fact or inspected live through the monitor's tailsql page.
//
// All SQL for the hull pipeline lives here; layer packages stay free of
// database code. The schema is versioned with golang-migrate and the
// migration files are embedded in the binary.
package sqlite
