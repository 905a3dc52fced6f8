package service

import (
	"sort"

	"github.com/vipul43/invoice-worker/internal/models"
	"github.com/vipul43/invoice-worker/internal/repository"
)

var batchTransitions = map[models.BatchStatus][]models.BatchStatus{
	models.BatchStatusPending:    {models.BatchStatusProcessing},
	models.BatchStatusProcessing: {models.BatchStatusCompleted, models.BatchStatusPartial, models.BatchStatusFailed},
	models.BatchStatusFailed:     {models.BatchStatusProcessing},
	models.BatchStatusPartial:    {models.BatchStatusProcessing},
}

var fileTransitions = map[models.FileStatus][]models.FileStatus{
	models.FileStatusPending:    {models.FileStatusProcessing},
	// back to pending only when a resume reclaims a file orphaned by a dead run
	models.FileStatusProcessing: {models.FileStatusProcessed, models.FileStatusFailed, models.FileStatusPending},
	models.FileStatusFailed:     {models.FileStatusPending},
}

// CanTransitionBatch reports whether a batch may move from one status to another.
func CanTransitionBatch(from, to models.BatchStatus) bool {
	for _, s := range batchTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransitionFile reports whether a batch file may move from one status to
// another. Processed files never move.
func CanTransitionFile(from, to models.FileStatus) bool {
	for _, s := range fileTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ResumableFileStatuses lists the file statuses a resume moves back to pending.
func ResumableFileStatuses() []models.FileStatus {
	var out []models.FileStatus
	for from := range fileTransitions {
		if CanTransitionFile(from, models.FileStatusPending) {
			out = append(out, from)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TerminalBatchStatus derives the final status of a run from its file counts.
func TerminalBatchStatus(counts repository.Counts) models.BatchStatus {
	switch {
	case counts.Failed > 0 && counts.Processed == 0:
		return models.BatchStatusFailed
	case counts.Failed > 0:
		return models.BatchStatusPartial
	default:
		return models.BatchStatusCompleted
	}
}

// CompletionPercentage is (processed+failed)/total as a whole percent, capped at 100.
func CompletionPercentage(processed, failed, total int) int {
	if total <= 0 {
		return 0
	}
	pct := (processed + failed) * 100
	// round half up
	rounded := (pct + total/2) / total
	if rounded > 100 {
		return 100
	}
	return rounded
}
