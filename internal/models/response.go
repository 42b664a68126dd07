package models

import "time"

// Response is one upstream reply, stored with the captures it was derived from.
type Response struct {
	ID           string         `json:"_id"`
	Message      string         `json:"message"`
	ResponseData map[string]any `json:"response_data"`
	CaptureIDs   []string       `json:"capture_ids"`
	Timestamp    time.Time      `json:"timestamp"`
}

// ResponseInput is what a caller supplies to persist a Response.
// A zero Timestamp means "now".
type ResponseInput struct {
	Message      string
	ResponseData map[string]any
	CaptureIDs   []string
	Timestamp    time.Time
}

// Content returns the text of the first choice in a chat-completion shaped
// ResponseData, or "" when the document has a different shape.
func (r Response) Content() string {
	return CompletionContent(r.ResponseData)
}

// CompletionContent extracts choices[0].message.content from a
// chat-completion document.
func CompletionContent(doc map[string]any) string {
	choices, ok := doc["choices"].([]any)
	if !ok || len(choices) == 0 {
		return ""
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return ""
	}
	msg, ok := choice["message"].(map[string]any)
	if !ok {
		return ""
	}
	content, _ := msg["content"].(string)
	return content
}
