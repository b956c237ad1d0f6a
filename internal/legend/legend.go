// Package legend builds the class-code → display-color mapping for
// rendered classification results.
package legend

// Entry maps one classification code to a display color and a
// human-readable description.
type Entry struct {
	Class       int    `json:"class"`
	Color       string `json:"color"`
	Description string `json:"description,omitempty"`
}

// palette is the fixed, finite set of fill colors used when the remote
// service returns bare class codes without legend information. Colors
// are assigned by class code modulo palette length, so a given code
// always lands on the same color; codes that collide modulo the palette
// share a color, which is acceptable for this use case.
var palette = []string{
	"#d73027",
	"#fc8d59",
	"#fee08b",
	"#d9ef8b",
	"#91cf60",
	"#1a9850",
	"#66c2a5",
	"#3288bd",
}

// PaletteSize returns the number of colors in the fixed palette.
func PaletteSize() int {
	return len(palette)
}

// ColorFor returns the palette color for a class code.
func ColorFor(class int) string {
	i := class % len(palette)
	if i < 0 {
		i += len(palette)
	}
	return palette[i]
}

// Build derives a legend from the class codes of a classification
// batch. Entries appear in first-encountered order; repeated codes
// produce a single entry. The result is recomputed from scratch for
// every batch and never persisted.
func Build(classes []int) []Entry {
	seen := make(map[int]bool, len(classes))
	entries := make([]Entry, 0, len(classes))
	for _, c := range classes {
		if seen[c] {
			continue
		}
		seen[c] = true
		entries = append(entries, Entry{
			Class: c,
			Color: ColorFor(c),
		})
	}
	return entries
}
