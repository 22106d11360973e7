// ergosockets/common.go
package ergosockets

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// GenerateID creates a new random hex string ID. Used to name server-side sessions;
// correlation ids on the wire are integers allocated by the pending registry.
func GenerateID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("fallback-%x", TimeNow().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// TimeNow is a wrapper for time.Now, useful for testing if time needs to be mocked.
var TimeNow = time.Now
