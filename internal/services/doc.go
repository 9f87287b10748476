// Package services implements the store and engine abstractions the
// migration engine drives.
//
// A [Store] is one side of the migration: either a query-capable remote
// org reached over HTTP ([OrgService]) or a local directory of CSV
// files ([FileStore]). Both answer describe-metadata and retrieval
// queries.
//
// An [Engine] performs CRUD against a store through a uniform
// create-job / execute-batch / poll / read-results protocol. Three
// implementations exist for orgs:
//
//   - [RestEngine] : synchronous per-record calls for small sets
//   - [BulkV1Engine] : the legacy asynchronous batch-job API
//   - [BulkV2Engine] : the ingest-job API with chunked CSV payloads
//
// The file store exposes a single synchronous engine that rewrites its
// CSV files in place.
package services
