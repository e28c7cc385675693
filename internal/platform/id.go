// Package platform generates the identifiers stackd hands to Temporal.
package platform

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

const shortIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
const shortIDLength = 10

func NewID() string {
	return uuid.New().String()
}

// NewName returns prefix followed by a random lowercase suffix.
func NewName(prefix string) string {
	b := make([]byte, shortIDLength)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	for i := range b {
		b[i] = shortIDAlphabet[b[i]%byte(len(shortIDAlphabet))]
	}
	return prefix + string(b)
}

// StackWorkflowID is the workflow id of a stack's chain. Only one chain per
// stack can run under it at a time.
func StackWorkflowID(stackID int64) string {
	return fmt.Sprintf("stack-%d", stackID)
}

// NotificationWorkflowID is a unique workflow id for one delivery attempt.
func NotificationWorkflowID(kind string) string {
	return fmt.Sprintf("notification-%s-%s", kind, NewID())
}
