// Package corpus defines the document collection an experiment runs over:
// a manifest of text files plus per-document metadata.
package corpus

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"discernus/domain/core"
)

// ManifestEntry describes one corpus document in the manifest
type ManifestEntry struct {
	Filename   string            `yaml:"filename" json:"filename"`
	DocumentID string            `yaml:"document_id" json:"document_id"`
	Metadata   map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Manifest is the ordered list of corpus documents
type Manifest struct {
	Name      string          `yaml:"name,omitempty" json:"name,omitempty"`
	Documents []ManifestEntry `yaml:"documents" json:"documents"`
}

// Document is a loaded corpus document with its content hash
type Document struct {
	ID       core.DocumentID
	Filename string
	Text     string
	Hash     core.Hash
	Metadata map[string]string
	// EncodingWarning is set when the file was not valid UTF-8 and the
	// Latin-1 fallback was applied.
	EncodingWarning string
}

// ParseManifest decodes a YAML corpus manifest and validates it
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse corpus manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks structural invariants of the manifest
func (m *Manifest) Validate() error {
	if len(m.Documents) == 0 {
		return fmt.Errorf("corpus manifest lists no documents")
	}
	seen := make(map[string]bool, len(m.Documents))
	for i, entry := range m.Documents {
		if strings.TrimSpace(entry.Filename) == "" {
			return fmt.Errorf("manifest entry %d missing filename", i)
		}
		if strings.TrimSpace(entry.DocumentID) == "" {
			return fmt.Errorf("manifest entry %d (%s) missing document_id", i, entry.Filename)
		}
		if seen[entry.DocumentID] {
			return fmt.Errorf("duplicate document_id %q in manifest", entry.DocumentID)
		}
		seen[entry.DocumentID] = true
	}
	return nil
}

// LoadDocument reads one manifest entry from baseDir, decoding UTF-8 with a
// flagged Latin-1 fallback for files that fail strict validation.
func LoadDocument(baseDir string, entry ManifestEntry) (*Document, error) {
	path := filepath.Join(baseDir, entry.Filename)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", core.ErrDocumentNotFound, entry.Filename)
		}
		return nil, fmt.Errorf("read corpus document %s: %w", entry.Filename, err)
	}

	doc := &Document{
		ID:       core.DocumentID(entry.DocumentID),
		Filename: entry.Filename,
		Metadata: entry.Metadata,
	}

	if utf8.Valid(raw) {
		doc.Text = string(raw)
	} else {
		doc.Text = decodeLatin1(raw)
		doc.EncodingWarning = fmt.Sprintf("%s is not valid UTF-8; decoded as Latin-1", entry.Filename)
	}
	doc.Hash = core.NewHash([]byte(doc.Text))
	return doc, nil
}

// LoadAll loads every manifest entry, preserving manifest order
func (m *Manifest) LoadAll(baseDir string) ([]*Document, error) {
	docs := make([]*Document, 0, len(m.Documents))
	for _, entry := range m.Documents {
		doc, err := LoadDocument(baseDir, entry)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Hash computes the corpus identity from the canonical manifest plus the
// content hashes of every document, in manifest order.
func (m *Manifest) Hash(docs []*Document) (core.CorpusHash, error) {
	var data strings.Builder
	canonical, err := core.CanonicalJSON(m)
	if err != nil {
		return "", fmt.Errorf("hash corpus manifest: %w", err)
	}
	data.Write(canonical)
	for _, doc := range docs {
		data.WriteString("\x00")
		data.WriteString(doc.Hash.String())
	}
	return core.CorpusHash(core.NewHash([]byte(data.String()))), nil
}

func decodeLatin1(raw []byte) string {
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}
	return string(runes)
}
