// Package etl builds the relational SQLite store from a decoded SCIP
// index: symbols, documents, occurrences, and the two derived edge tables
// (symbol_references, call_graph) that make querying fast.
package etl

import (
	"fmt"
	"sort"
	"strings"
	"time"

	ckberrors "ckbscip/internal/errors"
	"ckbscip/internal/logging"
	"ckbscip/internal/reader"
	"ckbscip/internal/store"

	"github.com/google/uuid"
)

const (
	roleImport      = 2
	roleWriteAccess = 4
	roleReadAccess  = 8

	// eofLineMarker stands in for "end of file" when a definition has no
	// successor to bound its computed scope.
	eofLineMarker = 999999
)

// Report summarizes a completed build.
type Report struct {
	BuildID              string
	ProjectRoot          string
	IndexerTool          string
	SymbolCount          int
	DocumentCount        int
	OccurrenceCount      int
	SymbolReferenceCount int
	CallGraphCount       int
}

// Build reads the SCIP index at scipPath and writes a fresh relational
// store to dbPath. The caller is responsible for removing any existing
// file at dbPath beforehand; Build never deletes one itself, so it stays
// safe to call against a path under test control.
func Build(scipPath, dbPath string, logger *logging.Logger) (*Report, error) {
	buildID := uuid.NewString()
	started := time.Now()

	idx, err := reader.Read(scipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read SCIP index: %w", err)
	}

	db, err := store.Create(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	if err := db.CheckCapabilities(); err != nil {
		return nil, ckberrors.Wrap(ckberrors.StorageError, "storage engine too old for this store", err)
	}

	if err := db.SetBulkPragmas(); err != nil {
		return nil, err
	}

	symbolMap, symbolKind, err := insertSymbols(db, idx.Symbols)
	if err != nil {
		return nil, fmt.Errorf("failed to insert symbols: %w", err)
	}

	if err := insertExternalSymbols(db, idx.Occurrences, symbolMap, symbolKind); err != nil {
		return nil, fmt.Errorf("failed to insert external symbols: %w", err)
	}

	docMap, err := insertDocuments(db, idx.Documents)
	if err != nil {
		return nil, fmt.Errorf("failed to insert documents: %w", err)
	}

	if err := insertOccurrences(db, idx.Occurrences, symbolMap, docMap); err != nil {
		return nil, fmt.Errorf("failed to insert occurrences: %w", err)
	}

	occurrenceIDMap, err := loadOccurrenceIDMap(db)
	if err != nil {
		return nil, fmt.Errorf("failed to load occurrence id map: %w", err)
	}

	symbolRefCount, err := buildSymbolReferences(db, idx.Occurrences, symbolMap, symbolKind, docMap, occurrenceIDMap)
	if err != nil {
		return nil, fmt.Errorf("failed to build symbol_references: %w", err)
	}

	callGraphCount, err := buildCallGraph(db, idx.Occurrences, symbolMap, symbolKind, docMap, occurrenceIDMap)
	if err != nil {
		return nil, fmt.Errorf("failed to build call_graph: %w", err)
	}

	if err := db.CreateIndexes(); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	if err := db.RebuildFTS(); err != nil {
		return nil, fmt.Errorf("failed to rebuild symbols_fts: %w", err)
	}

	if err := db.SetReadPragmas(); err != nil {
		return nil, err
	}

	report := &Report{
		BuildID:              buildID,
		ProjectRoot:          idx.ProjectRoot,
		IndexerTool:          strings.TrimSpace(idx.Tool.Name + " " + idx.Tool.Version),
		SymbolCount:          len(symbolMap),
		DocumentCount:        len(docMap),
		OccurrenceCount:      len(idx.Occurrences),
		SymbolReferenceCount: symbolRefCount,
		CallGraphCount:       callGraphCount,
	}

	logger.Info("build complete", map[string]interface{}{
		"build_id":         buildID,
		"project_root":     idx.ProjectRoot,
		"indexer_tool":     idx.Tool.Name,
		"duration_ms":      time.Since(started).Milliseconds(),
		"symbol_count":     report.SymbolCount,
		"document_count":   report.DocumentCount,
		"occurrence_count": report.OccurrenceCount,
		"call_graph_count": report.CallGraphCount,
	})

	return report, nil
}

// determineRelationshipType classifies an occurrence's role bitmask into
// one of the four relationship tags. ReadAccess is checked before
// WriteAccess because it frequently combines with other bits (e.g. a
// compound assignment sets both).
func determineRelationshipType(role int32) string {
	switch {
	case role&roleReadAccess != 0:
		return "calls"
	case role&roleWriteAccess != 0:
		return "write"
	case role&roleImport != 0:
		return "import"
	default:
		return "reference"
	}
}

func insertSymbols(db *store.DB, symbols []reader.Symbol) (map[string]int64, map[string]string, error) {
	symbolMap := make(map[string]int64, len(symbols))
	symbolKind := make(map[string]string, len(symbols))

	stmt, err := db.Conn().Prepare(`
		INSERT INTO symbols (name, display_name, kind, signature, documentation, package_id, enclosing_symbol_id)
		VALUES (?, ?, ?, ?, ?, NULL, NULL)
	`)
	if err != nil {
		return nil, nil, err
	}
	defer stmt.Close()

	for _, sym := range symbols {
		res, err := stmt.Exec(sym.Name, nullableString(sym.DisplayName), nullableString(sym.Kind), nullableString(sym.Signature), nullableString(sym.Documentation))
		if err != nil {
			return nil, nil, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, nil, err
		}
		symbolMap[sym.Name] = id
		symbolKind[sym.Name] = sym.Kind
	}

	return symbolMap, symbolKind, nil
}

// insertExternalSymbols creates placeholder symbol rows for names
// referenced by occurrences but absent from the index's own symbol
// tables (e.g. stdlib or third-party symbols the indexer did not define).
func insertExternalSymbols(db *store.DB, occs []reader.Occurrence, symbolMap map[string]int64, symbolKind map[string]string) error {
	stmt, err := db.Conn().Prepare(`
		INSERT INTO symbols (name, display_name, kind, signature, documentation, package_id, enclosing_symbol_id)
		VALUES (?, ?, NULL, NULL, NULL, NULL, NULL)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	seen := make(map[string]bool)
	for _, occ := range occs {
		name := occ.SymbolName
		if _, ok := symbolMap[name]; ok {
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true

		display := externalDisplayName(name)
		res, err := stmt.Exec(name, display)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		symbolMap[name] = id
		symbolKind[name] = ""
	}

	return nil
}

func externalDisplayName(symbolName string) string {
	display := symbolName
	if idx := strings.LastIndexByte(display, '/'); idx >= 0 {
		display = display[idx+1:]
	}
	if len(display) > 0 && (display[len(display)-1] == '#' || display[len(display)-1] == '.') {
		display = display[:len(display)-1]
	}
	return display
}

func insertDocuments(db *store.DB, docs []reader.Document) (map[int]int64, error) {
	docMap := make(map[int]int64, len(docs))

	stmt, err := db.Conn().Prepare(`INSERT INTO documents (relative_path, language) VALUES (?, ?)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	for i, doc := range docs {
		res, err := stmt.Exec(doc.RelativePath, nullableString(doc.Language))
		if err != nil {
			return nil, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		docMap[i] = id
	}

	return docMap, nil
}

func insertOccurrences(db *store.DB, occs []reader.Occurrence, symbolMap map[string]int64, docMap map[int]int64) error {
	const batchSize = 1000

	stmt, err := db.Conn().Prepare(`
		INSERT INTO occurrences (
			symbol_id, document_id, start_line, start_char, end_line, end_char,
			role, enclosing_range_start_line, enclosing_range_start_char,
			enclosing_range_end_line, enclosing_range_end_char
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for start := 0; start < len(occs); start += batchSize {
		end := start + batchSize
		if end > len(occs) {
			end = len(occs)
		}
		for _, occ := range occs[start:end] {
			symbolID, ok := symbolMap[occ.SymbolName]
			if !ok {
				continue
			}
			docID, ok := docMap[occ.DocumentIndex]
			if !ok {
				continue
			}

			var encStartLine, encStartChar, encEndLine, encEndChar interface{}
			if occ.EnclosingStart != nil && occ.EnclosingEnd != nil {
				encStartLine, encStartChar = occ.EnclosingStart.Line, occ.EnclosingStart.Char
				encEndLine, encEndChar = occ.EnclosingEnd.Line, occ.EnclosingEnd.Char
			}

			if _, err := stmt.Exec(
				symbolID, docID, occ.StartLine, occ.StartChar, occ.EndLine, occ.EndChar,
				occ.Role, encStartLine, encStartChar, encEndLine, encEndChar,
			); err != nil {
				return err
			}
		}
	}

	return nil
}

type occKey struct {
	symbolID  int64
	docID     int64
	startLine int32
	startChar int32
}

func loadOccurrenceIDMap(db *store.DB) (map[occKey]int64, error) {
	rows, err := db.Query(`SELECT symbol_id, document_id, start_line, start_char, id FROM occurrences`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	idMap := make(map[occKey]int64)
	for rows.Next() {
		var k occKey
		var id int64
		if err := rows.Scan(&k.symbolID, &k.docID, &k.startLine, &k.startChar, &id); err != nil {
			return nil, err
		}
		idMap[k] = id
	}
	return idMap, rows.Err()
}

type computedRange struct {
	startLine, endLine int32
}

// computeEnclosingRanges derives a scope for every definition that has no
// protobuf enclosing_range: the scope runs from the definition's own line
// to one line before the next definition in the same document, or to
// eofLineMarker if it is the last definition.
func computeEnclosingRanges(occs []reader.Occurrence) map[string]computedRange {
	byDoc := make(map[int][]reader.Occurrence)
	for _, occ := range occs {
		byDoc[occ.DocumentIndex] = append(byDoc[occ.DocumentIndex], occ)
	}

	type defLine struct {
		symbolName string
		line       int32
	}

	result := make(map[string]computedRange)
	for docIndex, docOccs := range byDoc {
		var defs []defLine
		for _, occ := range docOccs {
			if occ.Role&roleDefinition == 0 {
				continue
			}
			if occ.EnclosingStart != nil {
				continue
			}
			defs = append(defs, defLine{occ.SymbolName, occ.StartLine})
		}
		sort.Slice(defs, func(i, j int) bool { return defs[i].line < defs[j].line })

		for i, d := range defs {
			var endLine int32
			if i+1 < len(defs) {
				endLine = defs[i+1].line - 1
			} else {
				endLine = eofLineMarker
			}
			result[computedRangeKey(docIndex, d.symbolName)] = computedRange{startLine: d.line, endLine: endLine}
		}
	}

	return result
}

func computedRangeKey(docIndex int, symbolName string) string {
	return fmt.Sprintf("%d\x00%s", docIndex, symbolName)
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
