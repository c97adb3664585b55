// Package records persists uploaded media records and the artifacts each
// pipeline stage produces for them. One SQLite row per upload; stages
// overwrite the whole row atomically, so the latest write wins and a record
// is never left with a half-applied artifact set.
package records
