package models

import "time"

// ChunkType tags a streamed fragment with the analysis stage that produced
// it.
type ChunkType string

const (
	ChunkAnalysis    ChunkType = "ANALYSIS"
	ChunkSecurity    ChunkType = "SECURITY"
	ChunkPerformance ChunkType = "PERFORMANCE"
	ChunkSuggestion  ChunkType = "SUGGESTION"
	ChunkCommentary  ChunkType = "COMMENTARY"
)

// ReviewChunk is one typed fragment of model output delivered while a review
// is streaming. Content may be an arbitrary slice of the embedded JSON
// document; consumers that need structure accumulate first.
type ReviewChunk struct {
	Type      ChunkType `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewChunk stamps a chunk with the current time.
func NewChunk(t ChunkType, content string) ReviewChunk {
	return ReviewChunk{Type: t, Content: content, Timestamp: time.Now().UTC()}
}
