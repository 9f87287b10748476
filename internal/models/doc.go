// Package models defines the data model for record-set migration.
//
// The package contains three categories of types:
//
// 1. Records: open field/value bags exchanged between stores
//   - [Record] : a single record with reserved bookkeeping fields
//   - [RecordSet] : an ordered collection of records
//
// 2. Metadata: schema descriptions used for permission checks and casting
//   - [FieldDescribe] : one field's type, permissions, and reference targets
//   - [ObjectDescribe] : an object's field map and person/business split
//
// 3. Script: the declarative migration configuration
//   - [Script] : global knobs plus the ordered object list
//   - [ScriptObject] : one migrated entity with operation, external id,
//     filters, mock rules, and mapping rules
//
// Script types are immutable after load and shared by all tasks for an
// object.
package models
