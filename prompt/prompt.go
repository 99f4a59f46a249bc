// Package prompt assembles the model-facing prompt for a message. The layout
// is fixed: dataset identity, numeric summary, a slim projection of the rows,
// then (only for the code-execution path) the full data as base64 CSV, a
// separator, and finally the user's text.
package prompt

import (
	"encoding/base64"
	"fmt"
	"strings"

	"datachat/dataset"
	"datachat/intent"
	"datachat/prompts"
)

// Builder renders prompts. SlimRows caps the inline row projection; zero
// means every row.
type Builder struct {
	SlimRows int
}

// defaultQuestions stand in for empty user text on strategies that can run
// without one.
var defaultQuestions = map[intent.Strategy]string{
	intent.Stats:      "Summarize the key statistics of this dataset.",
	intent.MetricPlot: "Describe the trend shown by the plotted metric.",
}

// Build renders the prompt for one message. ds may be nil when no dataset is
// loaded, in which case the result is just the user text. The base64 payload
// is attached only for code execution; it never appears on any other path and
// is never stored.
func (b *Builder) Build(ds *dataset.Dataset, strategy intent.Strategy, userText string) string {
	userText = strings.TrimSpace(userText)
	if ds == nil {
		return userText
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Dataset: %s\n\n", ds.String())
	sb.WriteString("Summary:\n")
	sb.WriteString(dataset.SummaryText(ds))
	sb.WriteString("\nData (first rows):\n")
	sb.WriteString(dataset.SlimText(ds, nil, b.SlimRows))

	if strategy == intent.CodeExecution {
		sb.WriteByte('\n')
		sb.WriteString(prompts.CodeExecution())
		sb.WriteString("\nBase64 CSV:\n")
		sb.WriteString(base64.StdEncoding.EncodeToString([]byte(ds.CSVString())))
		sb.WriteByte('\n')
	}

	sb.WriteString("\n---\n")
	if userText == "" {
		if q, ok := defaultQuestions[strategy]; ok {
			userText = q
		}
	}
	sb.WriteString(userText)
	return sb.String()
}
