package events

import (
	"fmt"

	"github.com/bwmarrin/snowflake"

	"levpool.com/pkg/pool"
)

var _ pool.IDGenerator = (*SnowflakeIDs)(nil)

// SnowflakeIDs 雪花算法仓位编号，重启后不会重复
type SnowflakeIDs struct {
	node *snowflake.Node
}

// NewSnowflakeIDs nodeID: 0-1023
func NewSnowflakeIDs(nodeID int64) (*SnowflakeIDs, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &SnowflakeIDs{node: node}, nil
}

// NextID 实现 pool.IDGenerator
func (s *SnowflakeIDs) NextID() int64 {
	return s.node.Generate().Int64()
}
