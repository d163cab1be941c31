// Package prompt assembles the conversation sent to the model for each
// insight stage.
package prompt

import (
	"encoding/json"
	"fmt"

	"github.com/ashureev/gpa-insight/internal/domain"
)

// SemesterFormat describes the semester payload to the model. The payload is
// forwarded as-is, so this is the only place its shape is explained.
const SemesterFormat = "semester is a JSON object produced by the student's grade tracker. " +
	"Typical keys include gpa (current semester GPA), cumulativeGpa, credits, targetGpa, " +
	"and courses (a list of objects with name, credits, grade and optional component scores). " +
	"All numbers are already computed and are already shown to the student."

const replyContract = `Reply with a single JSON object and nothing else, using exactly this shape:
{"reply": "<your message to the student>", "suggested_improvement": "<one concrete action>"}
"suggested_improvement" is optional: omit the key entirely when you have no recommendation, never send an empty string.`

const sharedRules = `Rules:
- The student already sees every figure in the semester data. Do not restate GPAs, grades, credits or percentages.
- Never recompute, estimate or correct any GPA or grade metric; treat all numbers as final.
- Do not wrap the JSON in markdown, code fences or any other text.
- Keep "reply" under 120 words, warm and direct, addressed to the student as "you".`

var instructions = map[domain.Stage]string{
	domain.StageOverview: `You are an academic advisor giving a student a short read on their semester.
Explain what the results suggest about how the semester went: strengths, weak spots and patterns across courses.
` + sharedRules + "\n" + replyContract,

	domain.StageTargetPrediction: `You are an academic advisor helping a student reason about reaching a target GPA.
Using the target and course information in the semester data, describe which courses matter most and what kind of performance the target calls for, in qualitative terms only.
` + sharedRules + "\n" + replyContract,

	domain.StageStudyPlan: `You are an academic advisor writing a focused study plan for the rest of the semester.
Prioritise courses by where effort will pay off most and give a weekly rhythm the student can follow.
` + sharedRules + "\n" + replyContract,
}

// Instructions returns the system instruction text for stage. Unknown stages
// fall back to the overview framing.
func Instructions(stage domain.Stage) string {
	if text, ok := instructions[stage]; ok {
		return text
	}
	return instructions[domain.DefaultStage]
}

// userTurn is the machine-readable content of the newest user message.
type userTurn struct {
	Input          string          `json:"input"`
	Semester       json.RawMessage `json:"semester"`
	SemesterFormat string          `json:"semester_format"`
}

// Build returns the ordered conversation for req: the stage's system
// message, the caller's history, then the new user turn.
func Build(req domain.IncomingRequest) ([]domain.ConversationMessage, error) {
	content, err := json.Marshal(userTurn{
		Input:          req.Input,
		Semester:       req.Semester,
		SemesterFormat: SemesterFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("encode user turn: %w", err)
	}

	messages := make([]domain.ConversationMessage, 0, len(req.History)+2)
	messages = append(messages, domain.ConversationMessage{
		Role:    domain.RoleSystem,
		Content: Instructions(req.Stage),
	})
	messages = append(messages, req.History...)
	messages = append(messages, domain.ConversationMessage{
		Role:    domain.RoleUser,
		Content: string(content),
	})
	return messages, nil
}
