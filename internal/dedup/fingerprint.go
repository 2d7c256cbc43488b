package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/davidbz/hestia/internal/domain"
)

// fingerprintPreimage is the canonical hash input. Message content is
// whitespace-normalized so trivially reformatted duplicates still collapse.
type fingerprintPreimage struct {
	AgentID   string           `json:"agentId"`
	SessionID string           `json:"sessionId"`
	Messages  []domain.Message `json:"messages"`
}

// Fingerprint computes the deterministic identity of a logical request.
// Because agent and session ids are part of the preimage, two different
// sessions can only share a fingerprint through a SHA-256 collision.
func (t *Table) Fingerprint(agentID, sessionID string, messages []domain.Message) string {
	normalized := make([]domain.Message, len(messages))
	for i, msg := range messages {
		normalized[i] = domain.Message{
			Role:    msg.Role,
			Content: strings.TrimSpace(msg.Content),
		}
	}

	payload, err := json.Marshal(fingerprintPreimage{
		AgentID:   agentID,
		SessionID: sessionID,
		Messages:  normalized,
	})
	if err != nil {
		// Marshalling plain strings cannot fail; treat it as the
		// programming-invariant violation it would be.
		panic("dedup: fingerprint marshal failed: " + err.Error())
	}

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
