package model

import (
	"fmt"
	"strings"
	"time"
)

type Stack struct {
	ID           int64     `json:"id"`
	OwnerID      int64     `json:"owner_id"`
	BlueprintID  int64     `json:"blueprint_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Namespace    string    `json:"namespace"`
	Status       string    `json:"status"`
	StatusDetail string    `json:"status_detail"`
	Artifacts    Artifacts `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Slug names the stack's working directory and salt environment.
func (s Stack) Slug() string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s.Title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		return fmt.Sprintf("stack-%d", s.ID)
	}
	return fmt.Sprintf("%s-%d", slug, s.ID)
}

// Artifacts are the generated salt inputs persisted with a stack.
type Artifacts struct {
	Map         string `json:"map"`
	Pillar      string `json:"pillar"`
	Top         string `json:"top"`
	Orchestrate string `json:"orchestrate"`
}

// StackHistory is one append-only audit entry.
type StackHistory struct {
	ID           int64     `json:"id"`
	StackID      int64     `json:"stack_id"`
	Event        string    `json:"event"`
	Status       string    `json:"status"`
	StatusDetail string    `json:"status_detail"`
	Level        string    `json:"level"`
	CreatedAt    time.Time `json:"created_at"`
}

// StatusUpdate is the only input accepted by the store's SetStackStatus.
type StatusUpdate struct {
	Event  string
	Status string
	Detail string
	Level  string
}
