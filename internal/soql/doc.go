// Package soql composes and rewrites queries in the SOQL-like subset
// the migration engine speaks: SELECT fields FROM object [WHERE ...]
// [GROUP BY ...] [HAVING ...] [ORDER BY ...] [LIMIT n] [OFFSET n].
//
// The engine never manipulates query text inline; all WHERE merging,
// LIMIT stripping, and IN-clause construction goes through this
// package. Parsing is clause-level only: clause bodies are kept as
// opaque substrings, which is all the planner needs.
package soql
