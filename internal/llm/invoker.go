package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/dyike/cortexdesk/consts"
	"github.com/dyike/cortexdesk/models"
)

// Request is one reasoning call. System carries the role instructions and
// Sections the ordered context blocks.
type Request struct {
	Role     consts.Role
	System   string
	Sections []models.Section
	Deep     bool
}

// Invoker is the reasoning boundary. Implementations must be safe for
// concurrent use.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (string, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, req Request) (string, error)

func (f InvokerFunc) Invoke(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// RenderSections formats sections as markdown headings followed by bodies.
func RenderSections(sections []models.Section) string {
	var b strings.Builder
	for i, s := range sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n%s", s.Title, strings.TrimSpace(s.Body))
	}
	return b.String()
}
