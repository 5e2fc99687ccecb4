package orderbook

// DefaultLevelCap is the number of visible levels kept per side.
const DefaultLevelCap = 25

// CapPolicy is the single place where level-cap admission is decided.
//
// The rules are asymmetric:
//   - a zero-size removal is honoured only while the side holds MORE than
//     LevelCap levels, so the visible book never shrinks below the cap;
//   - a brand-new price is admitted only while the side holds FEWER than
//     LevelCap levels;
//   - the bid buffer admits only non-empty lists, while the ask buffer admits
//     any list that was present on the wire, including an empty one.
type CapPolicy struct {
	LevelCap int
}

// NewCapPolicy returns a policy, falling back to DefaultLevelCap.
func NewCapPolicy(levelCap int) CapPolicy {
	if levelCap <= 0 {
		levelCap = DefaultLevelCap
	}
	return CapPolicy{LevelCap: levelCap}
}

// AdmitRemoval reports whether a zero-size delta may delete a level.
func (p CapPolicy) AdmitRemoval(held int) bool {
	return held > p.LevelCap
}

// AdmitInsert reports whether a delta for an unknown price may add a level.
func (p CapPolicy) AdmitInsert(held int) bool {
	return held < p.LevelCap
}

// AdmitBatch reports whether an incoming delta list enters the side's
// accumulation buffer. present is false when the field was absent.
func (p CapPolicy) AdmitBatch(side Side, n int, present bool) bool {
	if side == Ask {
		return present && n >= 0
	}
	return n > 0
}

// ShouldFlush reports whether a buffer holding pending entries is due.
func (p CapPolicy) ShouldFlush(pending int) bool {
	return pending > p.LevelCap
}
