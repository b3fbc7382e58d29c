package vision

import (
	"fmt"

	"github.com/sammcj/pdf-ocr-compare/internal/stitch"
)

// DefaultPrompt is the instruction sent with every document
const DefaultPrompt = `Extract all of the text from this document exactly as it appears.
Preserve line breaks, reading order and the structure of any tables.
Return only the extracted text, with no commentary, summary or markdown fences.`

// GridInstructions describes the stitched layout so the model reads the cells
// in the order they were placed
func GridInstructions(layout stitch.Layout) string {
	return fmt.Sprintf(`Each page of this document is a grid of %d rows by %d columns holding up to %d original pages.
Read the cells left to right, top to bottom, and treat each cell as the next original page.
White cells are empty and carry no content.`, layout.Rows, layout.Cols, layout.BatchSize)
}

// BuildPrompt joins the base prompt with the grid description for stitched documents
func BuildPrompt(base string, layout stitch.Layout, stitched bool) string {
	if base == "" {
		base = DefaultPrompt
	}
	if !stitched {
		return base
	}
	return base + "\n\n" + GridInstructions(layout)
}
