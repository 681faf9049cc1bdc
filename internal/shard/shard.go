// Package shard computes partition keys for the relationship and natural-key tables.
package shard

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
)

// MaxShards is the largest supported relationship shard count.
const MaxShards = 256

// RelationshipPK returns the partition key of the relationship row linking a
// dependent record to the record it references. With numShards <= 1 every
// row of a referenced record lands in shard "00"; otherwise rows spread
// across shards by a hash of the dependent's ref.
func RelationshipPK(targetRef, dependentRef string, numShards int) string {
	if numShards <= 1 {
		return ShardPK(targetRef, 0)
	}
	h := fnv.New32a()
	h.Write([]byte(dependentRef))
	return ShardPK(targetRef, int(h.Sum32()%uint32(numShards)))
}

// ShardPK returns the partition key of one shard of a referenced record.
func ShardPK(targetRef string, shard int) string {
	return fmt.Sprintf("%s#%02x", targetRef, shard)
}

// NaturalKeyPK returns the hash-distributed partition key claiming a natural
// key within a collection. key must be compact JSON.
func NaturalKeyPK(collection, key string) string {
	h := sha256.Sum256([]byte(collection + "#" + key))
	return hex.EncodeToString(h[:16])
}
