package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/talkorder/talkorder-go/internal/order"
)

// Fingerprint hashes a reply decision so near-identical decisions made
// within the cooldown window collapse onto one reply slot. Missing
// fields are sorted first: two extractions that disagree only on field
// order are the same decision.
func Fingerprint(intent order.Intent, stage order.Stage, missing []string, draft order.Draft) string {
	sorted := make([]string, len(missing))
	copy(sorted, missing)
	sort.Strings(sorted)

	snapshot, err := json.Marshal(draft)
	if err != nil {
		snapshot = []byte(fmt.Sprintf("%+v", draft))
	}

	var b strings.Builder
	b.WriteString(string(intent))
	b.WriteString("|")
	b.WriteString(string(stage))
	b.WriteString("|")
	b.WriteString(strings.Join(sorted, ","))
	b.WriteString("|")
	b.Write(snapshot)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
