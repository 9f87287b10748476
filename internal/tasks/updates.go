package tasks

import "fmt"

// ProgressUpdate represents a progress event during a migration run.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Object  string // Object the update concerns, "" for job-level events
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	BuildGraph Phase = iota
	DescribeObjects
	DeleteOld
	RetrieveSource
	RetrieveTarget
	Transform
	Classify
	ExecuteInserts
	ExecuteUpdates
	ExecuteDeletes
	WriteResults
	PassDone
	JobDone
)

func (p Phase) String() string {
	switch p {
	case BuildGraph:
		return "build_graph"
	case DescribeObjects:
		return "describe_objects"
	case DeleteOld:
		return "delete_old"
	case RetrieveSource:
		return "retrieve_source"
	case RetrieveTarget:
		return "retrieve_target"
	case Transform:
		return "transform"
	case Classify:
		return "classify"
	case ExecuteInserts:
		return "execute_inserts"
	case ExecuteUpdates:
		return "execute_updates"
	case ExecuteDeletes:
		return "execute_deletes"
	case WriteResults:
		return "write_results"
	case PassDone:
		return "pass_done"
	case JobDone:
		return "job_done"
	default:
		return ""
	}
}

func graphUpdate(order []string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   BuildGraph,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Task order: %v", order),
		Data:    order,
	}
}

func describeUpdate(object string, step, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   DescribeObjects,
		Object:  object,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Describing %s...", step, total, object),
	}
}

func deleteOldUpdate(object string, count int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExecuteDeletes,
		Object:  object,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Deleting %d old records from %s...", count, object),
	}
}

func retrieveUpdate(phase Phase, object string, queries int) ProgressUpdate {
	side := "source"
	if phase == RetrieveTarget {
		side = "target"
	}
	return ProgressUpdate{
		Phase:   phase,
		Object:  object,
		Step:    1,
		Total:   queries,
		Message: fmt.Sprintf("Retrieving %s records for %s (%d queries)...", side, object, queries),
	}
}

func transformUpdate(object string, count int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Transform,
		Object:  object,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Transforming %d records for %s...", count, object),
	}
}

func classifyUpdate(object string, inserts, updates int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Classify,
		Object:  object,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("%s: %d to insert, %d to update", object, inserts, updates),
	}
}

func executeUpdate(phase Phase, object string, count int) ProgressUpdate {
	verb := "Inserting"
	switch phase {
	case ExecuteUpdates:
		verb = "Updating"
	case ExecuteDeletes:
		verb = "Deleting"
	}
	return ProgressUpdate{
		Phase:   phase,
		Object:  object,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("%s %d %s records...", verb, count, object),
	}
}

func passDoneUpdate(object string, pass int, stats ObjectStats) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PassDone,
		Object:  object,
		Step:    pass,
		Total:   pass,
		Message: fmt.Sprintf("✓ %s: %d inserted, %d updated, %d failed", object, stats.Inserted, stats.Updated, stats.Failed),
		Data:    stats,
	}
}

func jobDoneUpdate(result *RunResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   JobDone,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Migration finished: %d objects, %d passes", len(result.Objects), result.Passes),
		Data:    result,
	}
}
