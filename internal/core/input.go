package core

// Input is one resolved file whose content contributes to task identity.
type Input struct {
	// Path is slash-separated and anchored at the resolver's base dir.
	Path string

	// Content is the raw file content. Metadata such as mtime is ignored.
	Content []byte
}

// InputSet is sorted by Path.
type InputSet struct {
	Inputs []Input
}

// Paths returns the resolved paths in order.
func (s *InputSet) Paths() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.Inputs))
	for i, in := range s.Inputs {
		out[i] = in.Path
	}
	return out
}
