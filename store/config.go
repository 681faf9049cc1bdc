package store

import "github.com/abates/network-lab-runner/internal/shard"

// Config holds configuration for the Store.
type Config struct {
	// RelationshipTable is the name of the relationship table.
	// Default: "lab_fixture_relationships"
	RelationshipTable string `env:"RELATIONSHIP_TABLE"`

	// NaturalKeyTable is the name of the natural-key claim table.
	// Default: "lab_fixture_natural_keys"
	NaturalKeyTable string `env:"NATURAL_KEY_TABLE"`

	// TablePrefix is prepended to every collection table name.
	TablePrefix string `env:"TABLE_PREFIX"`

	// NumShards is the number of shards for the relationship table.
	// Higher values spread the dependents of a heavily referenced record
	// across partitions, at the cost of one query per shard when checking
	// for dependents.
	// Default: 1
	// Max: 256
	NumShards int `env:"SHARDS"`
}

// DefaultConfig returns sensible defaults for lab-sized fixture sets.
func DefaultConfig() Config {
	return Config{
		RelationshipTable: "lab_fixture_relationships",
		NaturalKeyTable:   "lab_fixture_natural_keys",
		NumShards:         1,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.RelationshipTable == "" {
		c.RelationshipTable = "lab_fixture_relationships"
	}
	if c.NaturalKeyTable == "" {
		c.NaturalKeyTable = "lab_fixture_natural_keys"
	}
	if c.NumShards < 1 {
		c.NumShards = 1
	}
	if c.NumShards > shard.MaxShards {
		c.NumShards = shard.MaxShards
	}
}
