// Package publish uploads finished artifacts to durable storage and mints
// time-limited retrieval references.
package publish

import (
	"context"
	"time"
)

// Artifact is a published output: a retrieval URL that expires, plus the
// object name for human-facing messaging.
type Artifact struct {
	URL       string
	ExpiresAt time.Time
	Name      string
}

// Publisher takes the final local artifact and makes it retrievable.
type Publisher interface {
	Publish(ctx context.Context, path string) (Artifact, error)
}
