package domain

import (
	"errors"
	"sort"
)

var ErrInvalidTransition = errors.New("invalid task transition")

type TaskEvent string

const (
	TaskRequestApproval TaskEvent = "REQUEST_APPROVAL"
	TaskApprove         TaskEvent = "APPROVE"
	TaskReject          TaskEvent = "REJECT"
	TaskComplete        TaskEvent = "COMPLETE"
	TaskReopen          TaskEvent = "REOPEN"
)

var priorityRank = map[TaskPriority]int{
	PriorityVeryHigh: 5,
	PriorityHigh:     4,
	PriorityMedium:   3,
	PriorityLow:      2,
	PriorityVeryLow:  1,
}

func ValidPriority(p TaskPriority) bool {
	_, ok := priorityRank[p]
	return ok
}

// NextTaskStatus returns the status reached by applying event to from. Only
// admins may approve, reject, complete or reopen.
func NextTaskStatus(from TaskStatus, event TaskEvent, admin bool) (TaskStatus, error) {
	switch event {
	case TaskRequestApproval:
		if from == TaskPending {
			return TaskWaitingApproval, nil
		}
	case TaskApprove:
		if admin && from == TaskWaitingApproval {
			return TaskCompleted, nil
		}
	case TaskReject:
		if admin && from == TaskWaitingApproval {
			return TaskPending, nil
		}
	case TaskComplete:
		if admin && (from == TaskPending || from == TaskWaitingApproval) {
			return TaskCompleted, nil
		}
	case TaskReopen:
		if admin && from == TaskCompleted {
			return TaskPending, nil
		}
	}
	return from, ErrInvalidTransition
}

// SortTasks orders open tasks first, then by priority (highest first), then by
// due date (earliest first).
func SortTasks(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		aDone, bDone := a.Status == TaskCompleted, b.Status == TaskCompleted
		if aDone != bDone {
			return !aDone
		}
		if priorityRank[a.Priority] != priorityRank[b.Priority] {
			return priorityRank[a.Priority] > priorityRank[b.Priority]
		}
		return a.DueDate.Before(b.DueDate)
	})
}
