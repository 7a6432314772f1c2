package storage

import "strings"

// Key layout mirrors spec.md §4.4/§6's persisted layout: entities are
// sharded by the first two hex characters of their id into a 2-file
// system — a vector/graph file and a separate metadata file. The engine
// reads both files of every entity when it rebuilds its indexes on open;
// metadata is not loaded lazily per query.
const (
	nounVectorsPrefix   = "entities/nouns/vectors/"
	nounMetadataPrefix  = "entities/nouns/metadata/"
	verbVectorsPrefix   = "entities/verbs/vectors/"
	verbMetadataPrefix  = "entities/verbs/metadata/"
	countsKey           = "_system/counts"
	statisticsKey       = "_system/statistics"
)

// shard returns the 2-hex-character shard for id. Ids shorter than 2
// characters are padded so every id still lands in a shard.
func shard(id string) string {
	if len(id) >= 2 {
		return strings.ToLower(id[:2])
	}
	if len(id) == 1 {
		return strings.ToLower(id) + "0"
	}
	return "00"
}

// EntityVectorKey returns the key for an entity's vector/graph blob.
func EntityVectorKey(id string) string {
	return nounVectorsPrefix + shard(id) + "/" + id
}

// EntityMetadataKey returns the key for an entity's metadata blob.
func EntityMetadataKey(id string) string {
	return nounMetadataPrefix + shard(id) + "/" + id
}

// RelationVectorKey returns the key for a relationship's vector blob.
func RelationVectorKey(id string) string {
	return verbVectorsPrefix + shard(id) + "/" + id
}

// RelationMetadataKey returns the key for a relationship's metadata blob.
func RelationMetadataKey(id string) string {
	return verbMetadataPrefix + shard(id) + "/" + id
}

// CountsKey is the single record holding the corpus-wide entity and
// relation totals (not broken down by type).
func CountsKey() string { return countsKey }

// StatisticsKey is the single record holding metadata-field statistics.
func StatisticsKey() string { return statisticsKey }

// EntityVectorPrefix is the prefix under which every entity vector blob
// lives, usable with Adapter.List for a full corpus scan / rebuild.
func EntityVectorPrefix() string { return nounVectorsPrefix }

// RelationVectorPrefix is the verb-side equivalent of EntityVectorPrefix.
func RelationVectorPrefix() string { return verbVectorsPrefix }

// EntityMetadataPrefix is the prefix under which every entity metadata
// blob lives.
func EntityMetadataPrefix() string { return nounMetadataPrefix }

// RelationMetadataPrefix is the verb-side equivalent of
// EntityMetadataPrefix.
func RelationMetadataPrefix() string { return verbMetadataPrefix }

// IDFromKey recovers the id portion of a key produced under prefix with
// the shard/id layout above (prefix + 2-char shard + "/" + id).
func IDFromKey(prefix, key string) (string, bool) {
	rest := strings.TrimPrefix(key, prefix)
	if rest == key {
		return "", false
	}
	slash := strings.IndexByte(rest, '/')
	if slash < 0 || slash+1 >= len(rest) {
		return "", false
	}
	return rest[slash+1:], true
}
