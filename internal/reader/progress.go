package reader

// Record is the persisted summary of a reading position.
type Record struct {
	Chapter int
	Page    int
	Percent int
}

// Percent returns whole book progress for page of a chapter with total
// pages, truncated to an integer in [0, 100]. Every chapter weighs the
// same regardless of its page count.
func Percent(chapter, page, total, chapters int) int {
	if chapters <= 0 {
		return 0
	}
	total = max(total, 1)
	p := 100 * (chapter*total + page) / (total * chapters)
	return max(0, min(p, 100))
}
