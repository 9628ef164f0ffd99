/*
Package sqlstore is the Materializer's persistent backing store: an
embedded, cgo-free SQLite database holding one row per Materialized path
plus a schema-version table and an observability-only metadata table.

	materializer_state(path TEXT PRIMARY KEY, artifact_type TEXT, digest_size
	  INTEGER, digest_sha1 BLOB, file_is_executable INTEGER, symlink_target
	  TEXT, last_access_time INTEGER)
	versions(key TEXT PRIMARY KEY, value TEXT NULL)
	metadata(key TEXT PRIMARY KEY, value TEXT NULL)

Open compares the row `versions['schema']` against CurrentSchemaVersion. A
database that doesn't exist yet is simply initialized at the current
schema. A mismatch triggers a full wipe
of the database file and a fresh re-init — preferred over in-place ALTER
TABLE migration because the Materializer's own next-startup reconciliation
(re-declaring every path the build graph still wants) makes a stale
in-memory-vs-disk state no more expensive to detect than a subtle
migration bug.

Grounded on a GetSchemaVersion/tableExists migration pattern, adapted from
"patch forward" to "wipe and reinit", and on a bucket-per-entity-type
key/value layout translated into SQL columns.

All writes are serialized behind a single mutex since modernc.org/sqlite,
like most embedded SQLite drivers, does not tolerate concurrent writers.
*/
package sqlstore
