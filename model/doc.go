// Package model defines core types used throughout AIFS.
//
// # Identity Types
//
//   - ID: 32-byte BLAKE3-256 content address of an asset or chunk
//   - SnapshotID: 16-byte truncated BLAKE3 of merkle_root || timestamp
//   - TxID: UUID string identifying a transaction
//
// # Data Types
//
//   - Asset: a logical, immutable unit of stored data with metadata
//   - ChunkRef: a content-addressed chunk backing one or more assets
//   - LineageEdge: a DAG edge recording a parent/child transform relation
//   - Snapshot: an immutable, signed Merkle root over a set of asset ids
//   - Branch / Tag: named pointers from (namespace, name) to a snapshot
//
// All hex renderings of identifiers are lowercase.
package model
