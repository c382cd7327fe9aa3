package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// ContentHash returns the hex sha256 of an uploaded image.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// PredictionKey scopes cached results to a model so that swapping weights
// does not serve stale polygons.
func PredictionKey(model, contentHash string) string {
	return fmt.Sprintf("prediction:%s:%s", model, contentHash)
}

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("ratelimit:%s", client)
}
