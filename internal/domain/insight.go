// Package domain contains core domain types for the GPA insight service.
package domain

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// ConversationMessage is a single turn sent to the model.
type ConversationMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// MaxHistory is the number of prior turns a caller may replay.
const MaxHistory = 3

// IncomingRequest is a validated insight request.
type IncomingRequest struct {
	Input string
	// Semester is the caller's academic payload, kept byte-for-byte so it
	// can be forwarded to the model without reinterpretation.
	Semester json.RawMessage
	History  []ConversationMessage
	Stage    Stage
}

// AIResult is the only reply shape the service returns.
type AIResult struct {
	Reply                string `json:"reply"`
	SuggestedImprovement string `json:"suggested_improvement,omitempty"`
}

// HasSuggestion returns true if the model offered an improvement.
func (r AIResult) HasSuggestion() bool {
	return r.SuggestedImprovement != ""
}

// InsightRecord is a persisted, completed insight exchange.
type InsightRecord struct {
	ID                   string    `json:"id"`
	ClientKey            string    `json:"client_key"`
	Stage                Stage     `json:"stage"`
	Input                string    `json:"input"`
	Reply                string    `json:"reply"`
	SuggestedImprovement string    `json:"suggested_improvement,omitempty"`
	ReconcileTier        string    `json:"reconcile_tier"`
	CreatedAt            time.Time `json:"created_at"`
}
