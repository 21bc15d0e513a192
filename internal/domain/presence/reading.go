// Package presence provides the tag reader reading model.
package presence

// Reading is one poll result from the tag reader.
type Reading struct {
	Present    bool
	Identifier string // Logical identifier stored on the tag (e.g. "spotify:album:<id>")
	Hint       string // Optional artist hint stored on the tag
}

// Absent returns a reading with no tag on the reader.
func Absent() Reading {
	return Reading{}
}

// Tag returns a reading with a tag present.
func Tag(identifier, hint string) Reading {
	return Reading{Present: true, Identifier: identifier, Hint: hint}
}

// SameTag reports whether both readings show the same tag on the reader.
func (r Reading) SameTag(other Reading) bool {
	return r.Present && other.Present && r.Identifier == other.Identifier
}
