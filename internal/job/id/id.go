// Package id provides unique identifier generation for loop jobs.
package id

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Generate creates a new unique loop job ID.
// Format: loop-<timestamp>-<random>
// Example: loop-1701432000-a1b2c3d4
func Generate() string {
	u := uuid.New()
	return fmt.Sprintf("loop-%d-%x", time.Now().Unix(), u[:4])
}
