package sharding

import (
	"fmt"
	"hash/crc32"
	"testing"
)

func TestGetShardID(t *testing.T) {
	for _, key := range []string{"user-1", "user-2", "todo-abc", ""} {
		t.Run(key, func(t *testing.T) {
			want := int(crc32.ChecksumIEEE([]byte(key)) % ShardCount)
			if got := GetShardID(key); got != want {
				t.Errorf("GetShardID(%q) = %v, want %v", key, got, want)
			}
			if got := GetShardID(key); got < 0 || got >= ShardCount {
				t.Errorf("GetShardID(%q) = %v out of range", key, got)
			}
		})
	}
}

func TestStableSharding(t *testing.T) {
	id := "3f1c2d8e-5d8b-4e9f-a0a1-6f1f6b8a1c2d"
	if GetShardID(id) != GetShardID(id) {
		t.Errorf("sharding is not deterministic for %q", id)
	}
}

func TestDistribution(t *testing.T) {
	distribution := make(map[int]int)
	for i := 0; i < 1000; i++ {
		distribution[GetShardID(fmt.Sprintf("key-%d", i))]++
	}
	if len(distribution) != ShardCount {
		t.Errorf("expected all %d shards to be used, got %d", ShardCount, len(distribution))
	}
}

func TestShards(t *testing.T) {
	shards := Shards()
	if len(shards) != ShardCount || shards[0] != 0 || shards[ShardCount-1] != ShardCount-1 {
		t.Fatalf("unexpected shards: %v", shards)
	}
}
