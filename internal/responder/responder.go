// Package responder produces canned offline replies from keyword rules.
package responder

import (
	"context"
	"fmt"
	"strings"
)

const (
	greetingReply = "Hello! I'm Auryn, your offline AI assistant. How can I help you today?"
	helpReply     = "I'm here to assist you! I can help with conversations, answer questions, and more. " +
		"All processing is done locally on your device for privacy."
	weatherReply = "I'm currently running in offline mode and cannot access real-time weather data. " +
		"In a future update, you'll be able to enable online features for live information."
	echoTemplate = "I understand you said: '%s'. As an offline AI, I'm continuously learning to provide " +
		"better responses. This feature will be enhanced in future updates."
)

type rule struct {
	keywords []string
	reply    string
}

// Order matters: the first rule with a matching keyword wins.
var rules = []rule{
	{keywords: []string{"hello", "hi"}, reply: greetingReply},
	{keywords: []string{"help"}, reply: helpReply},
	{keywords: []string{"weather"}, reply: weatherReply},
}

// Generate maps an utterance to a reply. Matching is case-insensitive and by
// substring, so "hill" matches the greeting rule through "hi".
func Generate(input string) string {
	lower := strings.ToLower(input)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.reply
			}
		}
	}
	return fmt.Sprintf(echoTemplate, input)
}

// Keyword adapts Generate to the chat service's responder contract.
type Keyword struct{}

// Respond never fails.
func (Keyword) Respond(_ context.Context, input string) (string, error) {
	return Generate(input), nil
}
