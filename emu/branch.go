package emu

import "github.com/sarchlab/socsim/insts"

// BranchUnit evaluates conditional branch predicates.
type BranchUnit struct{}

// NewBranchUnit creates a new BranchUnit.
func NewBranchUnit() *BranchUnit {
	return &BranchUnit{}
}

// Taken reports whether the branch op is taken for operands x and y.
func (b *BranchUnit) Taken(op insts.Op, x, y uint32) bool {
	switch op {
	case insts.OpBEQ:
		return x == y
	case insts.OpBNE:
		return x != y
	case insts.OpBLT:
		return int32(x) < int32(y)
	case insts.OpBGE:
		return int32(x) >= int32(y)
	case insts.OpBLTU:
		return x < y
	case insts.OpBGEU:
		return x >= y
	default:
		return false
	}
}
