// internal/services/sync_service.go
package services

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/healthledger/attestation-service/internal/policy"
)

const MaxSyncBatch = 1000

type SyncItemResult struct {
	Index    int    `json:"index"`
	RecordID string `json:"record_id"`
	Success  bool   `json:"success"`
	Version  int64  `json:"version,omitempty"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
}

type SyncReport struct {
	Total     int              `json:"total"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Results   []SyncItemResult `json:"results"`
}

// SyncService imports historical records. Each item is stored in its own
// transaction so one bad item never aborts the batch.
type SyncService struct {
	records *RecordService
}

func NewSyncService(records *RecordService) *SyncService {
	return &SyncService{records: records}
}

func (s *SyncService) BulkSync(ctx context.Context, caller policy.Caller, items []PutRecordRequest) (*SyncReport, error) {
	if len(items) == 0 {
		return nil, invalidf("sync batch is empty")
	}
	if len(items) > MaxSyncBatch {
		return nil, invalidf("sync batch of %d exceeds %d items", len(items), MaxSyncBatch)
	}

	report := &SyncReport{Total: len(items), Results: make([]SyncItemResult, 0, len(items))}
	for i := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		item := &items[i]
		result := SyncItemResult{Index: i, RecordID: item.RecordID}
		stored, err := s.records.Put(ctx, caller, item)
		if err != nil {
			result.Code = ErrorCode(err)
			result.Message = err.Error()
			report.Failed++
		} else {
			result.Success = true
			result.Version = stored.Version
			report.Succeeded++
		}
		report.Results = append(report.Results, result)
	}

	logrus.WithFields(logrus.Fields{
		"org_id":    caller.OrgID,
		"total":     report.Total,
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
	}).Info("Bulk sync finished")
	return report, nil
}
