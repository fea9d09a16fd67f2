package store

import (
	"crypto/sha256"
	"fmt"
	"time"

	"compliance/engine-service/internal/models"
)

func ComputeHistoryHash(prevHash string, record models.StatusHistory) string {
	raw := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s|%s",
		prevHash,
		record.RequestID,
		record.Seq,
		record.From,
		record.To,
		record.Resume,
		record.ActorID,
		record.CreatedAt.UTC().Format(time.RFC3339Nano),
		record.Note,
	)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// ChainHistory sets sequence and hashes on record so it follows last. A zero
// last starts a new chain.
func ChainHistory(last models.StatusHistory, record models.StatusHistory) models.StatusHistory {
	record.Seq = last.Seq + 1
	record.PrevHash = last.Hash
	record.Hash = ComputeHistoryHash(record.PrevHash, record)
	return record
}

// VerifyHistory checks sequence continuity and every hash link.
func VerifyHistory(records []models.StatusHistory) error {
	prev := ""
	for i, record := range records {
		if record.Seq != i+1 {
			return fmt.Errorf("%w: seq %d at position %d", ErrHistoryTampered, record.Seq, i)
		}
		if record.PrevHash != prev {
			return fmt.Errorf("%w: prev hash mismatch at seq %d", ErrHistoryTampered, record.Seq)
		}
		if ComputeHistoryHash(prev, record) != record.Hash {
			return fmt.Errorf("%w: hash mismatch at seq %d", ErrHistoryTampered, record.Seq)
		}
		prev = record.Hash
	}
	return nil
}

// ReplayStatus rebuilds the current status and resume point from history.
func ReplayStatus(initial models.RequestStatus, records []models.StatusHistory) (models.RequestStatus, models.RequestStatus, error) {
	status := initial
	var resume models.RequestStatus
	for _, record := range records {
		if record.From != status {
			return "", "", fmt.Errorf("%w: seq %d starts from %s, expected %s", ErrHistoryTampered, record.Seq, record.From, status)
		}
		status = record.To
		resume = record.Resume
	}
	return status, resume, nil
}
