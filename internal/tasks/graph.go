package tasks

import "github.com/desertthunder/dmx/internal/models"

// typeObjectName is placed first in the task order: type records are
// pure reference data that any other object may point at.
const typeObjectName = "RecordType"

// buildGraph orders tasks so lookup-parents precede children while
// master-detail children never precede their required parent. The type
// object goes first, read-only objects next in their own order, and
// every remaining object is inserted by scanning the placed list from
// the end: it moves before a placed task it is a lookup-parent of,
// unless that task is a master-detail parent of it. Ties keep script
// order. Cycles are not detected here; the backwards passes resolve
// them operationally.
func buildGraph(tasks []*MigrationJobTask) []*MigrationJobTask {
	var typed, readonly, rest []*MigrationJobTask
	for _, t := range tasks {
		switch {
		case t.Object.Name == typeObjectName:
			typed = append(typed, t)
		case t.Object.Op() == models.OperationReadonly:
			readonly = append(readonly, t)
		default:
			rest = append(rest, t)
		}
	}

	ordered := make([]*MigrationJobTask, 0, len(tasks))
	ordered = append(ordered, typed...)
	ordered = append(ordered, readonly...)

	for _, t := range rest {
		idx := len(ordered)
		for i := len(ordered) - 1; i >= 0; i-- {
			placed := ordered[i]
			if t.isLookupParentOf(placed) && !placed.isMasterDetailParentOf(t) {
				idx = i
			}
		}
		ordered = append(ordered, nil)
		copy(ordered[idx+1:], ordered[idx:])
		ordered[idx] = t
	}
	return ordered
}

func taskOrder(tasks []*MigrationJobTask) []string {
	names := make([]string, len(tasks))
	for i, t := range tasks {
		names[i] = t.Object.Name
	}
	return names
}
