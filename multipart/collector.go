package multipart

import "fmt"

type partResult struct {
	commit *CommitRecord
	retry  *RetryCandidate
}

// collector accumulates part results. It is only touched by the pool's sink,
// which runs on the goroutine that called Run.
type collector struct {
	committed []CommitRecord
	retryable []RetryCandidate
}

func newCollector() *collector {
	return &collector{
		committed: []CommitRecord{},
		retryable: []RetryCandidate{},
	}
}

func (c *collector) add(r partResult) {
	if r.commit != nil {
		c.committed = append(c.committed, *r.commit)
	}
	if r.retry != nil {
		c.retryable = append(c.retryable, *r.retry)
	}
}

// outcome checks that each of the admitted parts produced exactly one record and reduces the records
// into either an Outcome or a *PartialFailureError.
func (c *collector) outcome(session UploadSession, admitted int) (*Outcome, error) {
	if got := len(c.committed) + len(c.retryable); got != admitted {
		return nil, fmt.Errorf("%w: %d parts uploaded, %d records collected", ErrIncompleteUpload, admitted, got)
	}

	seen := make(map[int]bool, admitted)
	for _, r := range c.committed {
		if seen[r.PartNumber] {
			return nil, fmt.Errorf("%w: part %d recorded twice", ErrIncompleteUpload, r.PartNumber)
		}
		seen[r.PartNumber] = true
	}
	for _, r := range c.retryable {
		if seen[r.PartNumber] {
			return nil, fmt.Errorf("%w: part %d recorded twice", ErrIncompleteUpload, r.PartNumber)
		}
		seen[r.PartNumber] = true
	}

	if len(c.retryable) > 0 {
		return nil, &PartialFailureError{
			SessionID: session.ID,
			Session:   session,
			Committed: c.committed,
			Retryable: c.retryable,
		}
	}

	return &Outcome{Parts: c.committed}, nil
}
