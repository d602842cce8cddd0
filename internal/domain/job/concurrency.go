package job

// LLMConcurrency returns the number of simultaneous LLM calls allowed for a job with the given
// number of files. The tiers stay under typical provider rate limits.
func LLMConcurrency(files int) int {
	switch {
	case files <= 10:
		return 5
	case files <= 20:
		return 8
	default:
		return 12
	}
}

// Progress returns floor(processed / total * 100), clamped to 0..100.
func Progress(processed, total int) int {
	if total <= 0 || processed <= 0 {
		return 0
	}
	if processed >= total {
		return 100
	}
	return processed * 100 / total
}
