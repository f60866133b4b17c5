// Package state holds hopper's two durable collections: sessions and
// backlog items.
//
// # Durability
//
// Every mutating call rewrites the collection's line-delimited JSON file
// before it returns. The next version of the collection is built as a copy,
// saved, and only then swapped into memory, so a failed save leaves memory
// identical to what is on disk.
//
// # Locking
//
// Each collection has one mutex held across the in-memory change and its
// save. Callers never see internal slices; List and Get return copies.
//
// # Identifiers
//
// Session ids are "s1", "s2", ... and backlog ids "b1", "b2", ... drawn from
// a Sequence persisted in ids.json. Ids are never reused, including after a
// record is archived or the server restarts.
package state
