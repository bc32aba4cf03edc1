package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcus/tablehub/internal/model"
)

// generateCursor produces an opaque unique identifier for an accepted event:
// the epoch milliseconds followed by 16 hex chars of a content hash. The hash
// disambiguates events within the same millisecond; ordering authority is the
// store's id column, never the cursor text.
func generateCursor(clientID string, op model.Operation) string {
	now := time.Now().UTC()
	opJSON, _ := json.Marshal(op)
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%s:%s", now.Format(time.RFC3339Nano), clientID, opJSON))
	return fmt.Sprintf("%d_%s", now.UnixMilli(), hex.EncodeToString(sum[:8]))
}
