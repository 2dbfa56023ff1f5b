package handler

type cardChoice struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Value string `json:"value"`
}

type cardElement struct {
	Type    string       `json:"type"`
	Text    string       `json:"text,omitempty"`
	ID      string       `json:"id,omitempty"`
	Style   string       `json:"style,omitempty"`
	Choices []cardChoice `json:"choices,omitempty"`
}

// AdaptiveCard is the chat widget payload returned for ticket answers.
type AdaptiveCard struct {
	Type    string        `json:"type"`
	Body    []cardElement `json:"body"`
	Actions []interface{} `json:"actions"`
}

func newFeedbackCard(text string) AdaptiveCard {
	return AdaptiveCard{
		Type: "adaptiveCard",
		Body: []cardElement{
			{Type: "TextBlock", Text: text},
			{Type: "TextBlock", Text: "Was I helpful?"},
			{
				Type:  "Button",
				ID:    "serviceType",
				Style: "expanded",
				Choices: []cardChoice{
					{ID: "Yes", Title: "Yes", Value: "Yes"},
					{ID: "No", Title: "No", Value: "No"},
				},
			},
		},
		Actions: []interface{}{},
	}
}
