package model

import "strconv"

// Chunk is a contiguous slice of a source document produced by the splitter.
// IDs are positional and only unique within a single ingestion call.
type Chunk struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Index int    `json:"index"`
}

func ChunkID(index int) string {
	return "chunk_" + strconv.Itoa(index)
}

type IngestStats struct {
	Collection        string `json:"collection"`
	ChunksTotal       int    `json:"chunks_total"`
	ChunksProcessed   int    `json:"chunks_processed"`
	ChunksSkipped     int    `json:"chunks_skipped"`
	TotalChars        int    `json:"total_chars"`
	TotalCharsStored  int    `json:"total_chars_stored"`
	CollectionRecords int    `json:"collection_records"` // records held by the collection after the call
}
