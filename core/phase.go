package core

import "fmt"

// PhaseOutputKind tags the variant carried by a PhaseOutput.
type PhaseOutputKind int

const (
	// PhaseOutputDocument carries a converted document ready for chunking.
	PhaseOutputDocument PhaseOutputKind = iota + 1
	// PhaseOutputChunks carries the chunk IDs produced by the chunker.
	PhaseOutputChunks
	// PhaseOutputEmbeddings reports the chunks embedded and the model used.
	PhaseOutputEmbeddings
	// PhaseOutputIndex reports the vector points upserted into the store.
	PhaseOutputIndex
	// PhaseOutputRetrieval carries retrieved context passages for generation.
	PhaseOutputRetrieval
	// PhaseOutputContent carries generated course content.
	PhaseOutputContent
)

func (k PhaseOutputKind) String() string {
	switch k {
	case PhaseOutputDocument:
		return "document"
	case PhaseOutputChunks:
		return "chunks"
	case PhaseOutputEmbeddings:
		return "embeddings"
	case PhaseOutputIndex:
		return "index"
	case PhaseOutputRetrieval:
		return "retrieval"
	case PhaseOutputContent:
		return "content"
	default:
		return "unknown"
	}
}

// PhaseOutput is the tagged result of one orchestrator phase. Exactly the
// fields belonging to Kind are populated; the orchestrator validates Kind
// before handing the output to the next phase. Outputs are persisted
// append-only and never mutated retroactively.
type PhaseOutput struct {
	Kind PhaseOutputKind

	// PhaseOutputDocument
	DocumentID string
	Text       string
	Headings   []Heading

	// PhaseOutputChunks
	ChunkIDs    []ID
	ParentCount int
	ChildCount  int

	// PhaseOutputEmbeddings
	EmbeddedCount int
	ModelVersion  string

	// PhaseOutputIndex
	PointCount int

	// PhaseOutputRetrieval
	Passages []string

	// PhaseOutputContent
	Content string
}

// ExpectKind returns an error unless the output carries the given variant.
func (o *PhaseOutput) ExpectKind(kind PhaseOutputKind) error {
	if o == nil {
		return fmt.Errorf("%w: output is nil, want %s", ErrUnexpectedPhaseOutput, kind)
	}
	if o.Kind != kind {
		return fmt.Errorf("%w: got %s, want %s", ErrUnexpectedPhaseOutput, o.Kind, kind)
	}
	return nil
}
