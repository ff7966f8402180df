package service

import (
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/ya-client/internal/core/domain"
)

// CandidateQueue holds remote ICE candidates received before the remote
// description was set.
type CandidateQueue struct {
	items []domain.Candidate
}

func (q *CandidateQueue) Push(c domain.Candidate) {
	q.items = append(q.items, c)
}

func (q *CandidateQueue) Len() int {
	return len(q.items)
}

func (q *CandidateQueue) Reset() {
	q.items = nil
}

// Drain applies every queued candidate in arrival order and empties the
// queue. A failing candidate is logged and skipped. It returns the number of
// failures.
func (q *CandidateQueue) Drain(apply func(domain.Candidate) error) int {
	items := q.items
	q.items = nil

	failed := 0
	for i, c := range items {
		if err := apply(c); err != nil {
			failed++
			log.Warn().Err(err).Int("index", i).Msg("Queued ICE candidate failed, skipping")
		}
	}
	return failed
}
