package scanner

import (
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	"pubsweep/internal/config"
	"pubsweep/internal/planner"
)

// PathData is the value rendered by naming convention templates.
type PathData struct {
	Partition string
	ChunkID   string
	Index     int
	Offset    int
	Length    int
	End       int
	Total     int
}

// NewPathData returns the template data for a chunk.
func NewPathData(chunk planner.Chunk) PathData {
	return PathData{
		Partition: chunk.Partition,
		ChunkID:   chunk.ID(),
		Index:     chunk.Index,
		Offset:    chunk.Offset,
		Length:    chunk.Length,
		End:       chunk.End(),
		Total:     chunk.Total,
	}
}

// Locator maps a chunk identity to one candidate output path. Locators are pure.
type Locator struct {
	Name          string
	SoleChunkOnly bool
	root          string
	tmpl          *template.Template
}

// NewLocators builds the ordered locator list for a pipeline: the first
// convention is current, the rest are legacy generations in fallback order.
func NewLocators(pipeline config.Pipeline) ([]Locator, error) {
	locators := make([]Locator, 0, len(pipeline.Conventions))
	for _, conv := range pipeline.Conventions {
		tmpl, err := template.New(conv.Name).Option("missingkey=error").Parse(conv.Pattern)
		if err != nil {
			return nil, fmt.Errorf("convention %q: %w", conv.Name, err)
		}
		locators = append(locators, Locator{
			Name:          conv.Name,
			SoleChunkOnly: conv.SoleChunkOnly,
			root:          pipeline.OutputDir,
			tmpl:          tmpl,
		})
	}
	if len(locators) == 0 {
		return nil, fmt.Errorf("pipeline %q has no naming conventions", pipeline.Name)
	}
	return locators, nil
}

// Applies reports whether the convention can name the chunk at all.
func (l Locator) Applies(chunk planner.Chunk) bool {
	return !l.SoleChunkOnly || chunk.Sole()
}

// Path renders the candidate path for chunk. Relative patterns resolve against
// the pipeline output directory.
func (l Locator) Path(chunk planner.Chunk) (string, error) {
	var b strings.Builder
	if err := l.tmpl.Execute(&b, NewPathData(chunk)); err != nil {
		return "", fmt.Errorf("render convention %q: %w", l.Name, err)
	}
	rendered := strings.TrimSpace(b.String())
	if rendered == "" {
		return "", fmt.Errorf("convention %q rendered an empty path", l.Name)
	}
	if !filepath.IsAbs(rendered) {
		rendered = filepath.Join(l.root, rendered)
	}
	return filepath.Clean(rendered), nil
}
