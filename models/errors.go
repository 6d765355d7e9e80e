package models

import "github.com/rotisserie/eris"

// Pre-flight errors returned before any request is issued.
var (
	ErrMissingAPIKey = eris.New("an API key is required")
	ErrNoURLs        = eris.New("at least one URL is required")
)
