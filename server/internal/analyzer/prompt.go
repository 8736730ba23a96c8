package analyzer

import (
	"fmt"
	"strings"

	"junction-sim/server/internal/llm"
	"junction-sim/server/internal/model"
	"junction-sim/server/internal/transcript"
)

const systemPrompt = "You are a conversation analyst that provides objective assessments in JSON format."

// BuildMessages 构建发给判断服务的消息。
// 完整窗口用于目标判断，最近窗口单独给出，用于情绪判断。
func BuildMessages(req model.AnalysisRequest) []llm.Message {
	var sb strings.Builder

	sb.WriteString("You are analyzing a conversation to determine if specific objectives have been achieved and what emotion the AI character should display.\n\n")
	sb.WriteString(fmt.Sprintf("Character: %s\n\n", req.CharacterName))

	sb.WriteString("Conversation:\n")
	sb.WriteString(renderWindow(req.CharacterName, req.FullWindow))
	sb.WriteString("\n\n")

	sb.WriteString("Most recent exchange (use ONLY this for the emotion):\n")
	sb.WriteString(renderWindow(req.CharacterName, req.RecentWindow))
	sb.WriteString("\n\n")

	sb.WriteString("Objectives to check:\n")
	for _, obj := range req.Objectives {
		sb.WriteString(fmt.Sprintf("- ID: %q | Description: %s\n", obj.ID, obj.Description))
	}
	sb.WriteString("\n")

	sb.WriteString(`Based on the conversation, respond with a JSON object with the following structure:
{
  "objectives": [
    { "id": "<objective id>", "completed": true, "reason": "brief explanation" }
  ],
  "emotion": "neutral" | "happy" | "sad" | "mad",
  "emotionReason": "brief explanation of why this emotion"
}

`)
	sb.WriteString(fmt.Sprintf("IMPORTANT: You MUST return exactly one entry for EVERY objective listed above (%d in total). Use the exact \"id\" values provided and do not invent new ids.\n\n", len(req.Objectives)))

	sb.WriteString(`Guidelines:
- Mark an objective as completed if there's clear evidence anywhere in the conversation that it has been achieved
- For emotion: judge only the character's reaction to the most recent exchange, not the whole history
- Choose "happy" if the character is pleased/satisfied, "sad" if disappointed/upset, "mad" if frustrated/angry, "neutral" for normal conversation
- Be strict but fair in your assessment
- Base your analysis only on what has actually been said in the conversation
- Return results for ALL objectives, even if not completed yet`)

	return []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: sb.String()},
	}
}

func renderWindow(characterName string, utterances []model.Utterance) string {
	if len(utterances) == 0 {
		return "(nothing said yet)"
	}
	return transcript.NewView(characterName, utterances).String()
}

// ResultSchema 返回判断结果的 JSON Schema（OpenAI strict 模式要求全部字段 required）。
func ResultSchema() *llm.JSONSchema {
	return &llm.JSONSchema{
		Name:   "conversation_analysis",
		Strict: true,
		Schema: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []string{"objectives", "emotion", "emotionReason"},
			"properties": map[string]any{
				"objectives": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type":                 "object",
						"additionalProperties": false,
						"required":             []string{"id", "completed", "reason"},
						"properties": map[string]any{
							"id":        map[string]any{"type": "string"},
							"completed": map[string]any{"type": "boolean"},
							"reason":    map[string]any{"type": "string"},
						},
					},
				},
				"emotion": map[string]any{
					"type": "string",
					"enum": []string{"neutral", "happy", "sad", "mad"},
				},
				"emotionReason": map[string]any{"type": "string"},
			},
		},
	}
}
