package card

import "slices"

// ContainsAll 判断 refs 是否全部在手牌中
func ContainsAll(hand, refs []Ref) bool {
	for _, r := range refs {
		if !slices.Contains(hand, r) {
			return false
		}
	}
	return true
}

// Without 返回移除 refs 后的手牌，保持原顺序
func Without(hand, refs []Ref) []Ref {
	out := make([]Ref, 0, len(hand))
	for _, r := range hand {
		if !slices.Contains(refs, r) {
			out = append(out, r)
		}
	}
	return out
}

// HasDuplicates 判断是否有重复的牌
func HasDuplicates(refs []Ref) bool {
	seen := make(map[Ref]struct{}, len(refs))
	for _, r := range refs {
		if _, ok := seen[r]; ok {
			return true
		}
		seen[r] = struct{}{}
	}
	return false
}
