package param

import "context"

// Fetcher resolves a named secret, such as the FLUX API key.
type Fetcher interface {
	Fetch(context.Context, string) (string, error)
}

// Static returns the same value for any name. It stands in for Parameter
// Store when the key is supplied directly.
type Static string

func (s Static) Fetch(context.Context, string) (string, error) {
	return string(s), nil
}
