package world

// ChangeLog is the append-only record of destruction batches. Its length is the map version.
type ChangeLog struct {
	batches [][]int
}

// Append records one batch. Empty batches are ignored and leave the version unchanged.
func (l *ChangeLog) Append(ids []int) bool {
	if len(ids) == 0 {
		return false
	}
	l.batches = append(l.batches, append([]int(nil), ids...))
	return true
}

func (l *ChangeLog) Version() int {
	return len(l.batches)
}

// Since returns the batches after version. Batches are never mutated once appended,
// so callers may hold on to them.
func (l *ChangeLog) Since(version int) [][]int {
	if version < 0 {
		version = 0
	}
	if version >= len(l.batches) {
		return [][]int{}
	}
	return append([][]int(nil), l.batches[version:]...)
}
