package discovery

import "errors"

var (
	// ErrNoResponse means the server closed or never answered.
	ErrNoResponse = errors.New("discovery: no response")
)
