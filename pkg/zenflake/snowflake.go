package zenflake

import (
	"fmt"
	"strconv"

	"github.com/bwmarrin/snowflake"
)

var (
	// NodeBits holds the number of bits to use for Node
	// Remember, you have a total 22 bits to share between Node/Step
	NodeBits uint8 = 10

	// StepBits holds the number of bits to use for Step
	// Remember, you have a total 22 bits to share between Node/Step
	StepBits uint8 = 12

	// internal values of bwmarrin/snowflake
	nodeMax   int64 = -1 ^ (-1 << NodeBits)
	nodeMask        = nodeMax << StepBits
	nodeShift       = StepBits
)

// Generator hands out time ordered unique ids rendered as decimal strings.
type Generator struct {
	node *snowflake.Node
}

func NewGenerator(nodeID int64) (*Generator, error) {
	snowflake.NodeBits = NodeBits
	snowflake.StepBits = StepBits
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node %d: %w", nodeID, err)
	}
	return &Generator{node: node}, nil
}

func (g *Generator) NextKey() int64 {
	return g.node.Generate().Int64()
}

func (g *Generator) NextID() string {
	return g.node.Generate().String()
}

// NodeID extracts the node the id was generated on.
func NodeID(id string) (int64, error) {
	key, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("id %q was not generated by zenflake: %w", id, err)
	}
	return (key & nodeMask) >> int64(nodeShift), nil
}
