// Package core provides the sync engine: table listing and browsing, CSV
// import and export, and all-tables archive orchestration.
//
// This package holds the domain logic independent of any transport. It is
// used by the web handlers and the operator CLI without modification.
//
// # Architecture
//
//   - Catalog: table and column metadata is read from the live schema on
//     every call via [catalog.Reader]; nothing is cached or registered.
//   - Service: the entry point for all operations.
//   - Limiter: [ImportLimiter] bounds concurrent imports.
//   - Snapshots: all-tables archives can be kept in a [snapshot.Store],
//     on demand or on a schedule ([Service.StartSnapshotScheduler]).
//
// # Import
//
// A single-table import runs in two phases:
//
//  1. The upload is decoded (BOM stripped, invalid UTF-8 repaired), parsed
//     and validated against the table's columns. Any header or cell error
//     rejects the file before a transaction is opened.
//  2. Rows are applied in file order inside one transaction. A row whose
//     single-column primary key is present is upserted; every other row is
//     inserted. The first database error rolls the whole file back.
//
// Outcomes report total, inserted, updated and skipped counts plus at most
// [MaxReportedErrors] row errors.
//
// # Archives
//
// [Service.ImportArchive] treats each {table}.csv entry as an independent
// single-table import. Entries with nested paths or unknown tables are
// ignored with a reason; a failing table does not affect its siblings.
//
// # Error Handling
//
// Failures are returned as [*Error] values classified by [ErrorKind]. The
// transport maps kinds to status codes and uses [MapError] for an
// operator-facing code:
//
//   - DB001-DB008: database constraint, type and connection errors
//   - VAL001-VAL005: header and cell validation errors
//   - FILE001-FILE006: file and request body errors
//   - UPL001-UPL003: import admission and cancellation
//   - ARC001-ARC004: archives and snapshots
package core
