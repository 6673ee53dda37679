package chat

import (
	"fmt"
	"strings"

	"github.com/lenslab/vision-gateway/internal/app/domain/analysis"
)

// BuildSystemPrompt renders the hidden system message for a conversation
// from the analysis fields. The assembly is deterministic so the prompt can
// be rebuilt and compared in tests; fields missing from the result are
// simply left out.
func BuildSystemPrompt(result analysis.Result) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant answering questions about a single image. ")
	b.WriteString("You cannot see the image; you only know the analysis findings below. ")
	b.WriteString("Answer from the findings and say so when they are not enough.")

	if result.Caption != "" {
		fmt.Fprintf(&b, "\nCaption: %s", result.Caption)
	}
	if len(result.Tags) > 0 {
		names := make([]string, len(result.Tags))
		for i, tag := range result.Tags {
			names[i] = tag.Name
		}
		fmt.Fprintf(&b, "\nTags: %s", strings.Join(names, ", "))
	}
	if len(result.Objects) > 0 {
		parts := make([]string, len(result.Objects))
		for i, obj := range result.Objects {
			parts[i] = fmt.Sprintf("%s at (%d, %d, %dx%d)", obj.Name, obj.Box.X, obj.Box.Y, obj.Box.W, obj.Box.H)
		}
		fmt.Fprintf(&b, "\nObjects: %s", strings.Join(parts, "; "))
	}
	if len(result.Text) > 0 {
		fmt.Fprintf(&b, "\nText in the image: %s", strings.Join(result.Text, " / "))
	}
	return b.String()
}
