package discovery

import "github.com/steveyegge/bughunter/internal/types"

// Stats summarizes a discovery pass
type Stats struct {
	TotalFiles int   `json:"totalFiles"`
	TotalLines int   `json:"totalLines"`
	TotalBytes int64 `json:"totalBytes"`
	SkipCounts
	Languages map[string]int `json:"languages"`
}

// Statistics sums the records; it does no I/O.
func Statistics(files []types.FileRecord, skipped SkipCounts) Stats {
	st := Stats{
		SkipCounts: skipped,
		Languages:  make(map[string]int),
	}
	for _, f := range files {
		st.TotalFiles++
		st.TotalLines += f.Lines
		st.TotalBytes += f.Size
		lang := f.Language
		if lang == "" {
			lang = "other"
		}
		st.Languages[lang]++
	}
	return st
}
