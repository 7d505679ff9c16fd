package flux

import "strings"

// Status is the job state reported by get_result. Values are compared
// case-insensitively; anything unrecognised is treated as still pending.
type Status string

const (
	StatusPending          Status = "Pending"
	StatusReady            Status = "Ready"
	StatusRequestModerated Status = "Request Moderated"
	StatusContentModerated Status = "Content Moderated"
	StatusNotFound         Status = "Task not found"
	StatusError            Status = "Error"
)

func (s Status) Is(other Status) bool {
	return strings.EqualFold(strings.TrimSpace(string(s)), string(other))
}

func (s Status) Ready() bool {
	return s.Is(StatusReady)
}

// Failed reports whether the job ended without producing an image.
func (s Status) Failed() bool {
	return s.Is(StatusError) || s.Is(StatusNotFound) ||
		s.Is(StatusRequestModerated) || s.Is(StatusContentModerated)
}
