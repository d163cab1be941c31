// Package schema enforces the closed request and reply shapes of the
// insight endpoint.
//
// Both directions follow the same discipline: the payload must be a single
// JSON object, only known fields may appear, required strings must be
// non-empty and null is never accepted in place of a value. Failures are
// reported as one *ValidationError; callers never see a partially filled
// result.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/ashureev/gpa-insight/internal/domain"
	"github.com/tidwall/gjson"
)

// ErrInvalid is wrapped by every ValidationError.
var ErrInvalid = errors.New("schema violation")

// ValidationError describes the first deviation found in a payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

// Unwrap lets callers match with errors.Is(err, ErrInvalid).
func (e *ValidationError) Unwrap() error {
	return ErrInvalid
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

var (
	requestFields = map[string]bool{"input": true, "semester": true, "history": true, "stage": true}
	messageFields = map[string]bool{"role": true, "content": true}
	resultFields  = map[string]bool{"reply": true, "suggested_improvement": true}
)

// ParseRequest validates raw as an IncomingRequest.
func ParseRequest(raw []byte) (domain.IncomingRequest, error) {
	fields, err := decodeObject("", raw, requestFields)
	if err != nil {
		return domain.IncomingRequest{}, err
	}

	input, err := requiredString(fields, "input")
	if err != nil {
		return domain.IncomingRequest{}, err
	}

	semester, err := parseSemester(fields["semester"])
	if err != nil {
		return domain.IncomingRequest{}, err
	}

	history, err := parseHistory(fields["history"])
	if err != nil {
		return domain.IncomingRequest{}, err
	}

	stage, err := parseStage(fields["stage"])
	if err != nil {
		return domain.IncomingRequest{}, err
	}

	return domain.IncomingRequest{
		Input:    input,
		Semester: semester,
		History:  history,
		Stage:    stage,
	}, nil
}

// ParseResult validates raw as an AIResult.
func ParseResult(raw []byte) (domain.AIResult, error) {
	fields, err := decodeObject("", raw, resultFields)
	if err != nil {
		return domain.AIResult{}, err
	}

	reply, err := requiredString(fields, "reply")
	if err != nil {
		return domain.AIResult{}, err
	}

	var suggestion string
	if v, ok := fields["suggested_improvement"]; ok {
		suggestion, err = nonEmptyString("suggested_improvement", v)
		if err != nil {
			return domain.AIResult{}, err
		}
	}

	return domain.AIResult{Reply: reply, SuggestedImprovement: suggestion}, nil
}

// ValidateResult checks an already constructed AIResult against the reply
// contract.
func ValidateResult(r domain.AIResult) error {
	if r.Reply == "" {
		return invalid("reply", "must be a non-empty string")
	}
	return nil
}

// decodeObject decodes exactly one JSON object and rejects unknown keys.
func decodeObject(field string, raw []byte, allowed map[string]bool) (map[string]json.RawMessage, error) {
	if kind(raw) != '{' {
		if field == "" {
			return nil, invalid("", "body must be a JSON object")
		}
		return nil, invalid(field, "must be an object")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return nil, invalid(field, "malformed JSON: %v", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, invalid(field, "unexpected data after object")
	}
	if dup := duplicateKey(raw); dup != "" {
		return nil, invalid(field, "duplicate field %q", dup)
	}

	var unknown []string
	for k := range fields {
		if !allowed[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, invalid(field, "unexpected field %q", unknown[0])
	}
	return fields, nil
}

// duplicateKey returns the first top-level key that appears more than once.
func duplicateKey(raw []byte) string {
	seen := make(map[string]bool)
	var dup string
	gjson.ParseBytes(raw).ForEach(func(key, _ gjson.Result) bool {
		k := key.String()
		if seen[k] {
			dup = k
			return false
		}
		seen[k] = true
		return true
	})
	return dup
}

func requiredString(fields map[string]json.RawMessage, name string) (string, error) {
	v, ok := fields[name]
	if !ok {
		return "", invalid(name, "is required")
	}
	return nonEmptyString(name, v)
}

func nonEmptyString(field string, raw json.RawMessage) (string, error) {
	if kind(raw) != '"' {
		return "", invalid(field, "must be a string")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", invalid(field, "must be a string")
	}
	if s == "" {
		return "", invalid(field, "must not be empty")
	}
	return s, nil
}

func parseSemester(raw json.RawMessage) (json.RawMessage, error) {
	if raw == nil {
		return nil, invalid("semester", "is required")
	}
	if kind(raw) != '{' {
		return nil, invalid("semester", "must be an object")
	}

	var record map[string]json.RawMessage
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, invalid("semester", "must be an object")
	}
	for k := range record {
		if k == "" {
			return nil, invalid("semester", "keys must not be empty")
		}
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, invalid("semester", "malformed JSON: %v", err)
	}
	return json.RawMessage(buf.Bytes()), nil
}

func parseHistory(raw json.RawMessage) ([]domain.ConversationMessage, error) {
	if raw == nil {
		return nil, nil
	}
	if kind(raw) != '[' {
		return nil, invalid("history", "must be an array")
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, invalid("history", "must be an array")
	}
	if len(items) > domain.MaxHistory {
		return nil, invalid("history", "must contain at most %d messages", domain.MaxHistory)
	}

	history := make([]domain.ConversationMessage, 0, len(items))
	for i, item := range items {
		msg, err := parseMessage("history["+strconv.Itoa(i)+"]", item)
		if err != nil {
			return nil, err
		}
		history = append(history, msg)
	}
	return history, nil
}

func parseMessage(field string, raw json.RawMessage) (domain.ConversationMessage, error) {
	fields, err := decodeObject(field, raw, messageFields)
	if err != nil {
		return domain.ConversationMessage{}, err
	}

	role, err := requiredString(fields, "role")
	if err != nil {
		return domain.ConversationMessage{}, prefix(field, err)
	}
	if !domain.Role(role).Valid() {
		return domain.ConversationMessage{}, invalid(field+".role", "must be one of system, user, assistant")
	}

	content, err := requiredString(fields, "content")
	if err != nil {
		return domain.ConversationMessage{}, prefix(field, err)
	}

	return domain.ConversationMessage{Role: domain.Role(role), Content: content}, nil
}

func parseStage(raw json.RawMessage) (domain.Stage, error) {
	if raw == nil {
		return domain.DefaultStage, nil
	}
	c := kind(raw)
	if c != '-' && (c < '0' || c > '9') {
		return 0, invalid("stage", "must be an integer")
	}

	f, err := strconv.ParseFloat(string(bytes.TrimSpace(raw)), 64)
	if err != nil || f != math.Trunc(f) {
		return 0, invalid("stage", "must be an integer")
	}

	stage := domain.Stage(f)
	if float64(stage) != f || !stage.Valid() {
		return 0, invalid("stage", "must be 1, 2 or 3")
	}
	return stage, nil
}

func prefix(parent string, err error) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return &ValidationError{Field: parent + "." + ve.Field, Reason: ve.Reason}
	}
	return err
}

// kind returns the first significant byte of a JSON value.
func kind(raw []byte) byte {
	raw = bytes.TrimLeft(raw, " \t\r\n")
	if len(raw) == 0 {
		return 0
	}
	return raw[0]
}
