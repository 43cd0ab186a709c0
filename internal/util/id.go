package util

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
)

var node *snowflake.Node

func init() {
	id, err := strconv.ParseInt(os.Getenv("NODE_ID"), 10, 64)
	if err != nil || id < 0 || id > 1023 {
		id = 1
	}
	node, _ = snowflake.NewNode(id)
}

// NewID returns a time-ordered snowflake id, optionally prefixed ("top_1799...").
func NewID(prefix string) string {
	id := node.Generate().String()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
