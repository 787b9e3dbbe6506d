package sharding

import "hash/crc32"

// ShardCount is the fixed number of event partitions. Changing it remaps keys,
// so it must not change while events for a key are in flight.
const ShardCount = 16

// GetShardID maps a partition key (a to-do id) to its shard.
func GetShardID(key string) int {
	return int(crc32.ChecksumIEEE([]byte(key)) % ShardCount)
}

// Shards lists every shard id in ascending order.
func Shards() []int {
	out := make([]int, ShardCount)
	for i := range out {
		out[i] = i
	}
	return out
}
