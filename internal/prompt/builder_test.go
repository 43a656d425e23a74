package prompt

import (
	"strings"
	"testing"

	"github.com/schemapilot/schemapilot/internal/llm"
)

func TestBuilder_twoMessages(t *testing.T) {
	builder := NewBuilder("")
	messages := builder.Build([]string{"users: id, name"}, "what is users for?")

	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Role != llm.RoleSystem {
		t.Errorf("expected first message role system, got %s", messages[0].Role)
	}
	if messages[1].Role != llm.RoleUser {
		t.Errorf("expected second message role user, got %s", messages[1].Role)
	}
	if !strings.Contains(messages[0].Content, "database schemas and tables") {
		t.Errorf("expected default system instruction, got %q", messages[0].Content)
	}
}

func TestBuilder_joinsContextsWithNewline(t *testing.T) {
	builder := NewBuilder("")
	messages := builder.Build(
		[]string{"users: id, name", "orders: id, user_id", "items: id, sku"},
		"how do orders relate to users?",
	)

	want := "Here are the tables in our database:\n" +
		"users: id, name\norders: id, user_id\nitems: id, sku\n\n" +
		"Based on the tables in our database given above, please answer the following question concisely and directly:\n" +
		"how do orders relate to users?"
	if messages[1].Content != want {
		t.Errorf("user message mismatch:\nwant %q\ngot  %q", want, messages[1].Content)
	}
}

func TestBuilder_customSystemInstruction(t *testing.T) {
	builder := NewBuilder("Answer in French.")
	messages := builder.Build(nil, "bonjour?")

	if messages[0].Content != "Answer in French." {
		t.Errorf("expected custom system instruction, got %q", messages[0].Content)
	}
}

func TestBuilder_emptyContexts(t *testing.T) {
	builder := NewBuilder("")
	messages := builder.Build(nil, "anything out there?")

	want := "Here are the tables in our database:\n\n\n" +
		"Based on the tables in our database given above, please answer the following question concisely and directly:\n" +
		"anything out there?"
	if messages[1].Content != want {
		t.Errorf("user message mismatch:\nwant %q\ngot  %q", want, messages[1].Content)
	}
}

func TestBuilder_queryVerbatim(t *testing.T) {
	builder := NewBuilder("")
	query := "SELECT \"name\"?\nsecond line\ttabbed"
	messages := builder.Build([]string{"t"}, query)

	if !strings.HasSuffix(messages[1].Content, query) {
		t.Errorf("expected query preserved verbatim at end, got %q", messages[1].Content)
	}
}
