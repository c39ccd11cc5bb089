// Package ir defines the typed recognition tree produced from OCR output.
// The parser builds it once; the text reconstructor reads it without mutation.
package ir

// Document is the root of a recognition tree.
type Document struct {
	Version  string  `json:"version,omitempty"`  // FineReader schema version attribute
	Producer string  `json:"producer,omitempty"` // engine that produced the result
	Blocks   []Block `json:"blocks"`
}

// BlockType mirrors the blockType attribute of a recognition block.
type BlockType string

const (
	BlockTypeText    BlockType = "Text"
	BlockTypeTable   BlockType = "Table"
	BlockTypePicture BlockType = "Picture"
	BlockTypeBarcode BlockType = "Barcode"
)

// Block is a logical text region, e.g. a paragraph group or a table.
type Block struct {
	Type       BlockType   `json:"type,omitempty"`
	Paragraphs []Paragraph `json:"paragraphs"`
}

// NewDocument creates an empty document.
func NewDocument() *Document {
	return &Document{
		Blocks: make([]Block, 0),
	}
}

// AddBlock appends a block and returns a pointer to it.
// The pointer is valid until the next AddBlock call.
func (d *Document) AddBlock(t BlockType) *Block {
	d.Blocks = append(d.Blocks, Block{
		Type:       t,
		Paragraphs: make([]Paragraph, 0),
	})
	return &d.Blocks[len(d.Blocks)-1]
}

// AddParagraph appends a paragraph and returns a pointer to it.
func (b *Block) AddParagraph() *Paragraph {
	b.Paragraphs = append(b.Paragraphs, Paragraph{})
	return &b.Paragraphs[len(b.Paragraphs)-1]
}

// CharCount returns the number of character entries in the document.
func (d *Document) CharCount() int {
	n := 0
	for i := range d.Blocks {
		for j := range d.Blocks[i].Paragraphs {
			for _, line := range d.Blocks[i].Paragraphs[j].Lines {
				for _, run := range line.Runs {
					n += len(run.Chars)
				}
			}
		}
	}
	return n
}
