// Package reader decodes a SCIP protobuf index into the flat symbol and
// occurrence records the ETL builder consumes.
package reader

import (
	"os"

	"ckbscip/internal/errors"

	scippb "github.com/sourcegraph/scip/bindings/go/scip"
	"google.golang.org/protobuf/proto"
)

// Symbol is a single SymbolInformation record extracted from the index,
// either from scip Index.ExternalSymbols or from a document's symbol table.
type Symbol struct {
	Name          string
	DisplayName   string
	Kind          string
	Signature     string
	Documentation string
}

// Occurrence is a single (document, occurrence) pair with its range fields
// normalized to an explicit start/end line/char quad.
type Occurrence struct {
	SymbolName     string
	DocumentIndex  int
	StartLine      int32
	StartChar      int32
	EndLine        int32
	EndChar        int32
	Role           int32
	EnclosingStart *Position
	EnclosingEnd   *Position
}

// Position is a (line, char) pair.
type Position struct {
	Line int32
	Char int32
}

// Document is a single indexed source file.
type Document struct {
	RelativePath string
	Language     string
}

// ToolInfo identifies the indexer that produced the SCIP file. Carried as
// pass-through diagnostics, never interpreted.
type ToolInfo struct {
	Name      string
	Version   string
	Arguments []string
}

// Index is the fully-decoded, flattened view of a SCIP protobuf index that
// the ETL builder operates on.
type Index struct {
	ProjectRoot string
	Tool        ToolInfo
	Symbols     []Symbol
	Documents   []Document
	Occurrences []Occurrence
}

// Read decodes the SCIP protobuf file at path into an Index.
func Read(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.DecodeError, "failed to read SCIP index file", err).
			WithDetails(map[string]string{"path": path})
	}

	var raw scippb.Index
	if err := proto.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(errors.DecodeError, "failed to parse SCIP protobuf index", err).
			WithDetails(map[string]string{"path": path})
	}

	idx := &Index{
		Symbols:     parseSymbols(&raw),
		Documents:   make([]Document, 0, len(raw.Documents)),
		Occurrences: make([]Occurrence, 0),
	}
	if raw.Metadata != nil {
		idx.ProjectRoot = raw.Metadata.ProjectRoot
		if raw.Metadata.ToolInfo != nil {
			idx.Tool = ToolInfo{
				Name:      raw.Metadata.ToolInfo.Name,
				Version:   raw.Metadata.ToolInfo.Version,
				Arguments: raw.Metadata.ToolInfo.Arguments,
			}
		}
	}

	for docIndex, doc := range raw.Documents {
		idx.Documents = append(idx.Documents, Document{
			RelativePath: doc.RelativePath,
			Language:     doc.Language,
		})
		for _, occ := range doc.Occurrences {
			idx.Occurrences = append(idx.Occurrences, extractOccurrence(occ, docIndex))
		}
	}

	return idx, nil
}

// parseSymbols returns external symbols first, then each document's own
// symbol table, matching the order the builder expects for external-symbol
// detection.
func parseSymbols(raw *scippb.Index) []Symbol {
	symbols := make([]Symbol, 0, len(raw.ExternalSymbols))
	for _, si := range raw.ExternalSymbols {
		symbols = append(symbols, extractSymbol(si))
	}
	for _, doc := range raw.Documents {
		for _, si := range doc.Symbols {
			symbols = append(symbols, extractSymbol(si))
		}
	}
	return symbols
}

func extractSymbol(si *scippb.SymbolInformation) Symbol {
	sym := Symbol{
		Name:        si.Symbol,
		DisplayName: si.DisplayName,
	}
	if si.Kind != 0 {
		sym.Kind = si.Kind.String()
	}
	if si.SignatureDocumentation != nil {
		sym.Signature = si.SignatureDocumentation.Text
	}
	if len(si.Documentation) > 0 {
		sym.Documentation = si.Documentation[0]
	}
	return sym
}

// extractOccurrence normalizes a SCIP range, which is encoded as a 2, 3, or
// 4-element int32 slice: [line, char], [line, startChar, endChar], or
// [startLine, startChar, endLine, endChar].
func extractOccurrence(occ *scippb.Occurrence, docIndex int) Occurrence {
	out := Occurrence{
		SymbolName:    occ.Symbol,
		DocumentIndex: docIndex,
		Role:          occ.SymbolRoles,
	}

	switch r := occ.Range; {
	case len(r) == 2:
		out.StartLine, out.StartChar = r[0], r[1]
		out.EndLine, out.EndChar = r[0], r[1]
	case len(r) == 3:
		out.StartLine, out.StartChar = r[0], r[1]
		out.EndLine, out.EndChar = r[0], r[2]
	case len(r) >= 4:
		out.StartLine, out.StartChar = r[0], r[1]
		out.EndLine, out.EndChar = r[2], r[3]
	default:
		if len(r) > 0 {
			out.StartLine = r[0]
		}
		out.EndLine = out.StartLine
	}

	if len(occ.EnclosingRange) >= 4 {
		er := occ.EnclosingRange
		out.EnclosingStart = &Position{Line: er[0], Char: er[1]}
		out.EnclosingEnd = &Position{Line: er[2], Char: er[3]}
	}

	return out
}
