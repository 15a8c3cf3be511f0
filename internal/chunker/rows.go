package chunker

import (
	"fmt"
	"strings"
	"time"

	"litgraph/internal/models"
	"litgraph/internal/util"
)

// ChunkID derives the stable id for one chunk. It hashes the paper id, the
// paper-wide sequence number, the chunk's content hash, and the embedding
// model id, so re-chunking unchanged text under the same model reproduces
// the same ids while any edit or model switch mints new ones.
func ChunkID(paperID string, seq int, contentHash, modelID string) string {
	return util.SHA256Hex([]byte(fmt.Sprintf("%s:%d:%s:%s", paperID, seq, contentHash, modelID)))
}

// Rows cuts a paper's abstract and sections into persistable chunk rows.
// The abstract leads under its own label, then sections in document order,
// all sharing one paper-wide sequence.
func Rows(p models.Paper, modelID string, budget, overlap int) []models.Chunk {
	now := time.Now().UTC()
	rows := make([]models.Chunk, 0, 16)
	seq := 0
	add := func(label, text string) {
		for _, piece := range Chunk(text, label, budget, overlap) {
			hash := util.SHA256Hex([]byte(piece.Text))
			rows = append(rows, models.Chunk{
				ChunkID:     ChunkID(p.PaperID, seq, hash, modelID),
				PaperID:     p.PaperID,
				Seq:         seq,
				Section:     piece.Section,
				Text:        piece.Text,
				Overlap:     piece.Overlap,
				ContentHash: hash,
				EmbedModel:  modelID,
				CreatedAt:   now,
			})
			seq++
		}
	}
	if strings.TrimSpace(p.Abstract) != "" {
		add("Abstract", p.Abstract)
	}
	for _, s := range p.Sections {
		add(s.Label, s.Text)
	}
	return rows
}
