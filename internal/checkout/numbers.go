package checkout

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// NumberSource issues globally unique order numbers.
type NumberSource interface {
	Next() string
}

// SnowflakeNumbers derives order numbers from snowflake ids: a millisecond
// timestamp, the node id and a per-millisecond sequence.
type SnowflakeNumbers struct {
	Node   *snowflake.Node
	Prefix string
}

// NewSnowflakeNumbers builds a generator for node (0-1023).
func NewSnowflakeNumbers(node int64) (*SnowflakeNumbers, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("order number node %d: %w", node, err)
	}
	return &SnowflakeNumbers{Node: n, Prefix: "TT-"}, nil
}

// Next returns a new order number such as TT-1788010125029117952.
func (s *SnowflakeNumbers) Next() string {
	return s.Prefix + s.Node.Generate().String()
}
