package warp

// AnalyzeShapes reports whether every requested output extent is identical.
// When it is, the shared extent is returned as well.
func AnalyzeShapes(sizes []Extent) (uniform bool, shared Extent, err error) {
	if len(sizes) == 0 {
		return false, Extent{}, preconditionf("empty batch")
	}
	for i, s := range sizes {
		if !s.Positive() {
			return false, Extent{}, preconditionf("sample %d: output extent %v is not positive", i, s)
		}
	}
	first := sizes[0]
	for _, s := range sizes[1:] {
		if s != first {
			return false, Extent{}, nil
		}
	}
	return true, first, nil
}
