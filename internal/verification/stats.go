package verification

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/BoweryJG/clearverify-patient/internal/failure"
	"github.com/BoweryJG/clearverify-patient/internal/model"
)

// Stats summarizes the verifications recorded since the given time. The
// average execution time covers successful verifications only.
func (s *Service) Stats(ctx context.Context, since time.Time) (*model.Stats, error) {
	records, err := s.history.ListVerifications(ctx, since)
	if err != nil {
		return nil, eris.Wrap(err, "verification: list history")
	}
	supported, err := s.learner.Supported(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "verification: list supported insurers")
	}

	st := Summarize(records)
	st.SupportedInsurers = len(supported)
	return st, nil
}

// Summarize aggregates history records.
func Summarize(records []model.VerificationRecord) *model.Stats {
	st := &model.Stats{FailuresByCategory: make(map[failure.Category]int)}
	var total time.Duration
	for _, r := range records {
		st.TotalVerifications++
		if r.Success {
			st.SuccessfulVerifications++
			total += r.ExecutionTime
			continue
		}
		st.FailuresByCategory[failure.CategoryOf(r.ErrorKind)]++
	}
	if st.TotalVerifications > 0 {
		st.SuccessRate = float64(st.SuccessfulVerifications) / float64(st.TotalVerifications)
	}
	if st.SuccessfulVerifications > 0 {
		st.AverageExecutionTimeMs = (total / time.Duration(st.SuccessfulVerifications)).Milliseconds()
	}
	return st
}
