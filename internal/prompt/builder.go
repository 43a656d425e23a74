// Package prompt assembles the chat messages sent to the completion API.
package prompt

import (
	"fmt"
	"strings"

	"github.com/schemapilot/schemapilot/internal/llm"
)

const defaultSystemInstruction = "You are an AI assistant that answers questions about database schemas and tables. " +
	"Your answer always includes information about the relevant tables, columns and their purpose. " +
	"You can also add a query to the answer if the user asked for a query."

const userTemplate = "Here are the tables in our database:\n%s\n\n" +
	"Based on the tables in our database given above, please answer the following question concisely and directly:\n%s"

// Builder turns retrieved table descriptions and a question into the
// two-message prompt the completion API expects.
type Builder struct {
	system string
}

// NewBuilder creates a Builder. An empty systemInstruction selects the
// built-in default.
func NewBuilder(systemInstruction string) *Builder {
	if systemInstruction == "" {
		systemInstruction = defaultSystemInstruction
	}
	return &Builder{system: systemInstruction}
}

// Build returns exactly two messages: the system instruction and a user
// message holding the contexts joined by newlines followed by the question.
func (b *Builder) Build(contexts []string, query string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: b.system},
		{Role: llm.RoleUser, Content: fmt.Sprintf(userTemplate, strings.Join(contexts, "\n"), query)},
	}
}
