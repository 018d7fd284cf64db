// Package txn implements the local transaction manager: four isolation
// levels layered over the engine contract, each transaction holding an
// ordered op list used for commit application or eager-mode rollback.
package txn
