package openai

import (
	sdk "github.com/openai/openai-go/v2"

	"autosint/internal/llm"
)

// AdaptSchemas converts internal llm.ToolSchema definitions into OpenAI SDK tool params.
func AdaptSchemas(schemas []llm.ToolSchema) []sdk.ChatCompletionToolUnionParam {
	out := make([]sdk.ChatCompletionToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		def := sdk.FunctionDefinitionParam{
			Name:        s.Name,
			Description: sdk.String(s.Description),
			Parameters:  s.Parameters,
		}
		out = append(out, sdk.ChatCompletionFunctionTool(def))
	}
	return out
}

// AdaptMessages converts the portable llm.Message history (plus a separate
// system prompt) to OpenAI SDK message params.
func AdaptMessages(system string, msgs []llm.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if system != "" {
		out = append(out, sdk.SystemMessage(system))
	}
	for _, m := range msgs {
		switch m.Role {
		case "user":
			for _, b := range m.Content {
				switch b.Kind {
				case llm.BlockText:
					out = append(out, sdk.UserMessage(b.Text))
				case llm.BlockToolResult:
					content := b.Result.Content
					if content == "" {
						content = `{"error": "empty tool response"}`
					}
					out = append(out, sdk.ToolMessage(content, b.Result.ToolUseID))
				}
			}
		case "assistant":
			var asst sdk.ChatCompletionAssistantMessageParam
			text := m.Text()
			if text == "" {
				text = " "
			}
			asst.Content.OfString = sdk.String(text)
			for _, tc := range m.ToolCalls() {
				fn := sdk.ChatCompletionMessageFunctionToolCallParam{
					ID: tc.ID,
					Function: sdk.ChatCompletionMessageFunctionToolCallFunctionParam{
						Arguments: string(tc.Args),
						Name:      tc.Name,
					},
				}
				asst.ToolCalls = append(asst.ToolCalls, sdk.ChatCompletionMessageToolCallUnionParam{OfFunction: &fn})
			}
			out = append(out, sdk.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		}
	}
	return out
}
