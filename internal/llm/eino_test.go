package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/dyike/cortexdesk/consts"
	"github.com/dyike/cortexdesk/models"
)

type echoModel struct {
	name string
	seen [][]*schema.Message
}

func (m *echoModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.seen = append(m.seen, input)
	return schema.AssistantMessage(m.name+" says BUY", nil), nil
}

func (m *echoModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, _ := m.Generate(ctx, input, opts...)
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *echoModel) BindTools(tools []*schema.ToolInfo) error { return nil }

func TestEinoInvokerRendersPromptAndPicksTier(t *testing.T) {
	quick := &echoModel{name: "quick"}
	deep := &echoModel{name: "deep"}
	inv, err := NewEinoInvoker(context.Background(), quick, deep)
	if err != nil {
		t.Fatalf("NewEinoInvoker: %v", err)
	}

	out, err := inv.Invoke(context.Background(), Request{
		Role:     consts.RoleResearchManager,
		System:   "You judge {debates}.",
		Sections: []models.Section{{Title: "Debate", Body: "bull vs bear"}},
		Deep:     true,
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != "deep says BUY" {
		t.Fatalf("out = %q", out)
	}
	if len(quick.seen) != 0 || len(deep.seen) != 1 {
		t.Fatalf("wrong tier used: quick=%d deep=%d", len(quick.seen), len(deep.seen))
	}
	msgs := deep.seen[0]
	if len(msgs) != 2 || msgs[0].Role != schema.System || msgs[1].Role != schema.User {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if msgs[0].Content != "You judge {debates}." {
		t.Fatalf("system prompt altered: %q", msgs[0].Content)
	}
	if !strings.Contains(msgs[1].Content, "## Debate\nbull vs bear") {
		t.Fatalf("sections not rendered: %q", msgs[1].Content)
	}
}

func TestRenderSections(t *testing.T) {
	got := RenderSections([]models.Section{{Title: "A", Body: " one \n"}, {Title: "B", Body: "two"}})
	want := "## A\none\n\n## B\ntwo"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
