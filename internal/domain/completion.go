package domain

import "encoding/json"

// CompletionChoice is one generated alternative.
type CompletionChoice struct {
	Text         string `json:"text"`
	Index        int    `json:"index"`
	FinishReason string `json:"finish_reason"`
}

// CompletionUsage is the token accounting returned with a completion.
type CompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the structured response of the completion service.
type Completion struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   CompletionUsage    `json:"usage"`
}

// Text returns the first choice's text, or "" when there are no choices.
func (c Completion) Text() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Text
}

// PrettyJSON renders the completion indented by four spaces for debug
// transcripts.
func (c Completion) PrettyJSON() (string, error) {
	b, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
