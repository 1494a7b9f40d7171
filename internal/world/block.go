package world

import (
	"fmt"
	"strings"
)

// BlockType is the one-byte block code stored in chunk buffers.
type BlockType byte

const (
	BlockAir BlockType = iota
	BlockStone
	BlockDirt
	BlockGrass
	BlockSand
	BlockWater
	BlockGravel
	BlockSnow
	BlockBedrock
	BlockClay
	BlockSandstone
	BlockIce

	numBlockTypes
)

var blockNames = [numBlockTypes]string{
	BlockAir:       "air",
	BlockStone:     "stone",
	BlockDirt:      "dirt",
	BlockGrass:     "grass",
	BlockSand:      "sand",
	BlockWater:     "water",
	BlockGravel:    "gravel",
	BlockSnow:      "snow",
	BlockBedrock:   "bedrock",
	BlockClay:      "clay",
	BlockSandstone: "sandstone",
	BlockIce:       "ice",
}

// IsSolid reports whether an entity can stand on the block.
func (b BlockType) IsSolid() bool {
	return b != BlockAir && b != BlockWater
}

func (b BlockType) String() string {
	if b < numBlockTypes {
		return blockNames[b]
	}
	return fmt.Sprintf("block(%d)", byte(b))
}

// MarshalText lets block types appear by name in YAML and logs.
func (b BlockType) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText accepts a block name such as "grass".
func (b *BlockType) UnmarshalText(text []byte) error {
	parsed, err := ParseBlockType(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// ParseBlockType resolves a block name case-insensitively.
func ParseBlockType(name string) (BlockType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range blockNames {
		if n == name {
			return BlockType(i), nil
		}
	}
	return BlockAir, fmt.Errorf("unknown block type %q", name)
}
