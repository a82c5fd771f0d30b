// Package ring implements a consistent hashing ring with virtual nodes.
// It assigns every state name to exactly one shard and keeps most names in
// place when shards are added or removed.
package ring
