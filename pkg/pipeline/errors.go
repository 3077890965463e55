package pipeline

import "fmt"

// SynthesisError is the batch-level failure: the generation collaborator
// could not produce an article within the bounded retries. The batch is
// aborted and the origin notified; nothing is published.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("article synthesis: %v", e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }
