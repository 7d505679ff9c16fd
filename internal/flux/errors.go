package flux

import "fmt"

// SubmissionError is returned when a job could not be created.
type SubmissionError struct {
	Endpoint   string
	StatusCode int
	Body       string
	Err        error
}

func (e *SubmissionError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("generation request to %s failed: %v", e.Endpoint, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("generation request to %s failed. Status: %d. Content: %s", e.Endpoint, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("no task id returned from %s endpoint", e.Endpoint)
	}
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// PollError is returned when a status check could not be completed.
type PollError struct {
	ID         string
	StatusCode int
	Body       string
	Err        error
}

func (e *PollError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("get_result for task %s failed: %v", e.ID, e.Err)
	}
	return fmt.Sprintf("get_result for task %s failed. Status: %d. Content: %s", e.ID, e.StatusCode, e.Body)
}

func (e *PollError) Unwrap() error { return e.Err }

// JobFailedError carries the terminal status as reported by the service.
type JobFailedError struct {
	ID     string
	Status Status
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("task %s failed or was not found. Status: %s", e.ID, e.Status)
}

type MalformedResultError struct {
	ID string
}

func (e *MalformedResultError) Error() string {
	return fmt.Sprintf("task %s is ready, but 'sample' was not found in the result object", e.ID)
}

type TimeoutError struct {
	ID       string
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s was not ready after %d polling attempts", e.ID, e.Attempts)
}
