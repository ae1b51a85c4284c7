package llm

import "strings"

const (
	DefaultBatchSize = 3000
	BatchSeparator   = "\n\n---CLAUSE SEPARATOR---\n\n"
)

// BatchPrompts joins small prompts with separator so that each batch stays
// within maxSize characters. A prompt longer than maxSize is sent alone.
func BatchPrompts(prompts []string, maxSize int, separator string) []string {
	if len(prompts) == 0 {
		return nil
	}
	if maxSize <= 0 {
		maxSize = DefaultBatchSize
	}

	var (
		batches []string
		current []string
		size    int
	)
	flush := func() {
		if len(current) > 0 {
			batches = append(batches, strings.Join(current, separator))
		}
		current = nil
		size = 0
	}

	for _, p := range prompts {
		n := len(p)
		if n > maxSize {
			flush()
			batches = append(batches, p)
			continue
		}
		if size+n+len(separator) > maxSize {
			flush()
			current = []string{p}
			size = n
			continue
		}
		current = append(current, p)
		size += n + len(separator)
	}
	flush()
	return batches
}
