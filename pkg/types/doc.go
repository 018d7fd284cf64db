/*
Package types holds ConcordKV's storage-core data model: Key, Value, Record,
EngineKind, and the small enums (Isolation, Priority, OpKind) shared across
the arena, engine, cache, WAL, transaction, coordinator, and batch packages.

Keeping these in one leaf package avoids import cycles — every other package
in this module depends on types, and types depends on nothing in this module.
*/
package types
