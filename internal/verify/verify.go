// Package verify cross-checks a built relational store against the SCIP
// protobuf index it was built from: counts, a bounded random sample of
// each table's contents, document-set equality, and call_graph
// referential integrity.
package verify

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"math/big"
	"sort"

	"ckbscip/internal/errors"
	"ckbscip/internal/reader"
	"ckbscip/internal/store"

	"golang.org/x/crypto/blake2b"
)

const (
	maxSymbolSampleSize     = 100
	maxOccurrenceSampleSize = 1000
	maxCallGraphSampleSize  = 100
)

// Report mirrors the Python verifier's VerificationResult: every
// sub-check plus the sample sizes actually used, so a caller can tell a
// clean small index from a sample that happened to cover everything.
type Report struct {
	Passed                   bool
	SymbolCountMatch         bool
	OccurrenceCountMatch     bool
	DocumentsVerified        bool
	CallGraphFKValid         bool
	SymbolSampleVerified     bool
	OccurrenceSampleVerified bool
	CallGraphSampleVerified  bool
	Errors                   []string
	TotalErrors              int
	SymbolsSampled           int
	OccurrencesSampled       int
	CallGraphEdgesSampled    int

	// Fingerprint is a blake2b-256 digest of the sorted full symbol-name
	// set, computed independently of the four checks above. It exists so
	// two builds of the same SCIP index can be compared for byte-for-byte
	// symbol-set identity without re-running the whole verification; it
	// never influences Passed.
	Fingerprint string
}

// Verify reads the SCIP protobuf index at scipPath and the relational
// store at dbPath, and compares them.
func Verify(scipPath, dbPath string) (*Report, error) {
	idx, err := reader.Read(scipPath)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(dbPath, nil)
	if err != nil {
		return nil, errors.Wrap(errors.StorageError, "failed to open database for verification", err)
	}
	defer db.Close()

	report := &Report{}

	symbolCountMatch, symbolSampleOK, symbolsSampled, err := verifySymbols(db, idx, &report.Errors)
	if err != nil {
		return nil, err
	}
	report.SymbolCountMatch = symbolCountMatch
	report.SymbolSampleVerified = symbolSampleOK
	report.SymbolsSampled = symbolsSampled

	occCountMatch, occSampleOK, occsSampled, err := verifyOccurrences(db, idx, &report.Errors)
	if err != nil {
		return nil, err
	}
	report.OccurrenceCountMatch = occCountMatch
	report.OccurrenceSampleVerified = occSampleOK
	report.OccurrencesSampled = occsSampled

	documentsOK, err := verifyDocuments(db, idx, &report.Errors)
	if err != nil {
		return nil, err
	}
	report.DocumentsVerified = documentsOK

	fkValid, cgSampleOK, edgesSampled, err := verifyCallGraph(db, &report.Errors)
	if err != nil {
		return nil, err
	}
	report.CallGraphFKValid = fkValid
	report.CallGraphSampleVerified = cgSampleOK
	report.CallGraphEdgesSampled = edgesSampled

	report.TotalErrors = len(report.Errors)
	report.Passed = report.SymbolCountMatch && report.OccurrenceCountMatch &&
		report.DocumentsVerified && report.CallGraphFKValid &&
		report.SymbolSampleVerified && report.OccurrenceSampleVerified &&
		report.CallGraphSampleVerified

	report.Fingerprint = fingerprintSymbols(idx.Symbols)

	return report, nil
}

// verifySymbols compares the expected symbol count against the symbols
// table, then verifies a bounded random sample of individual rows. The
// expected count is the protobuf's own symbols plus every distinct
// occurrence symbol name absent from them — the builder synthesizes a
// placeholder row for each of those, and the store is wrong if it did not.
func verifySymbols(db *store.DB, idx *reader.Index, errs *[]string) (countMatch, sampleOK bool, sampled int, err error) {
	declared := make(map[string]bool, len(idx.Symbols))
	for _, sym := range idx.Symbols {
		declared[sym.Name] = true
	}
	external := make(map[string]bool)
	for _, occ := range idx.Occurrences {
		if !declared[occ.SymbolName] {
			external[occ.SymbolName] = true
		}
	}
	expectedCount := len(idx.Symbols) + len(external)

	var actualCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM symbols`).Scan(&actualCount); err != nil {
		return false, false, 0, errors.Wrap(errors.StorageError, "failed to count symbols", err)
	}

	countMatch = expectedCount == actualCount
	if !countMatch {
		*errs = append(*errs, fmt.Sprintf("Symbol count mismatch: expected: %d, actual: %d", expectedCount, actualCount))
	}

	sampleOK, sampled, err = verifySymbolSample(db, idx.Symbols, errs)
	if err != nil {
		return countMatch, false, 0, err
	}

	return countMatch, sampleOK, sampled, nil
}

func verifySymbolSample(db *store.DB, symbols []reader.Symbol, errs *[]string) (bool, int, error) {
	sampleSize := maxSymbolSampleSize
	if len(symbols) < sampleSize {
		sampleSize = len(symbols)
	}
	if len(symbols) == 0 || sampleSize == 0 {
		return true, 0, nil
	}

	indices, err := sampleIndices(len(symbols), sampleSize)
	if err != nil {
		return false, 0, err
	}

	stmt, err := db.Conn().Prepare(`SELECT display_name, kind FROM symbols WHERE name = ?`)
	if err != nil {
		return false, 0, errors.Wrap(errors.StorageError, "failed to prepare symbol sample query", err)
	}
	defer stmt.Close()

	ok := true
	sampled := 0
	for _, i := range indices {
		sym := symbols[i]
		var dbDisplayName sql.NullString
		var dbKind sql.NullString
		switch err := stmt.QueryRow(sym.Name).Scan(&dbDisplayName, &dbKind); {
		case err == sql.ErrNoRows:
			*errs = append(*errs, fmt.Sprintf("Symbol not found in database: %s", sym.Name))
			ok = false
		case err != nil:
			return false, sampled, errors.Wrap(errors.StorageError, "failed to query symbol sample", err)
		default:
			if sym.DisplayName != "" && dbDisplayName.String != sym.DisplayName {
				*errs = append(*errs, fmt.Sprintf(
					"Symbol display_name mismatch for %s: expected %s, actual %s",
					sym.Name, sym.DisplayName, dbDisplayName.String,
				))
				ok = false
			}
		}
		sampled++
	}

	return ok, sampled, nil
}

// verifyOccurrences compares the protobuf occurrence count against the
// occurrences table, then verifies a bounded random sample.
func verifyOccurrences(db *store.DB, idx *reader.Index, errs *[]string) (countMatch, sampleOK bool, sampled int, err error) {
	expectedCount := len(idx.Occurrences)

	var actualCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM occurrences`).Scan(&actualCount); err != nil {
		return false, false, 0, errors.Wrap(errors.StorageError, "failed to count occurrences", err)
	}

	countMatch = expectedCount == actualCount
	if !countMatch {
		*errs = append(*errs, fmt.Sprintf("Occurrence count mismatch: expected: %d, actual: %d", expectedCount, actualCount))
	}

	sampleOK, sampled, err = verifyOccurrenceSample(db, idx.Occurrences, errs)
	if err != nil {
		return countMatch, false, 0, err
	}

	return countMatch, sampleOK, sampled, nil
}

func verifyOccurrenceSample(db *store.DB, occs []reader.Occurrence, errs *[]string) (bool, int, error) {
	sampleSize := maxOccurrenceSampleSize
	if len(occs) < sampleSize {
		sampleSize = len(occs)
	}
	if len(occs) == 0 || sampleSize == 0 {
		return true, 0, nil
	}

	indices, err := sampleIndices(len(occs), sampleSize)
	if err != nil {
		return false, 0, err
	}

	stmt, err := db.Conn().Prepare(`
		SELECT COUNT(*) FROM occurrences o
		JOIN symbols s ON o.symbol_id = s.id
		WHERE s.name = ? AND o.start_line = ? AND o.start_char = ? AND o.role = ?
	`)
	if err != nil {
		return false, 0, errors.Wrap(errors.StorageError, "failed to prepare occurrence sample query", err)
	}
	defer stmt.Close()

	ok := true
	sampled := 0
	for _, i := range indices {
		occ := occs[i]
		var count int
		if err := stmt.QueryRow(occ.SymbolName, occ.StartLine, occ.StartChar, occ.Role).Scan(&count); err != nil {
			return false, sampled, errors.Wrap(errors.StorageError, "failed to query occurrence sample", err)
		}
		if count == 0 {
			*errs = append(*errs, fmt.Sprintf(
				"Occurrence not found in database: %s at line %d, char %d",
				occ.SymbolName, occ.StartLine, occ.StartChar,
			))
			ok = false
		}
		sampled++
	}

	return ok, sampled, nil
}

// verifyDocuments checks that every protobuf document exists in the
// store with a matching language, and flags any extra document the store
// has that the protobuf does not.
func verifyDocuments(db *store.DB, idx *reader.Index, errs *[]string) (bool, error) {
	expected := make(map[string]string, len(idx.Documents))
	for _, doc := range idx.Documents {
		expected[doc.RelativePath] = doc.Language
	}

	rows, err := db.Query(`SELECT relative_path, language FROM documents`)
	if err != nil {
		return false, errors.Wrap(errors.StorageError, "failed to query documents", err)
	}
	defer rows.Close()

	actual := make(map[string]string)
	for rows.Next() {
		var path string
		var lang sql.NullString
		if err := rows.Scan(&path, &lang); err != nil {
			return false, errors.Wrap(errors.StorageError, "failed to scan document row", err)
		}
		actual[path] = lang.String
	}
	if err := rows.Err(); err != nil {
		return false, errors.Wrap(errors.StorageError, "failed to iterate documents", err)
	}

	ok := true
	for path, expectedLang := range expected {
		actualLang, found := actual[path]
		if !found {
			*errs = append(*errs, fmt.Sprintf("Document path mismatch: expected %s not found in database", path))
			ok = false
			continue
		}
		if actualLang != expectedLang {
			*errs = append(*errs, fmt.Sprintf(
				"Document language mismatch for %s: expected %s, actual %s", path, expectedLang, actualLang,
			))
			ok = false
		}
	}

	var unexpected []string
	for path := range actual {
		if _, found := expected[path]; !found {
			unexpected = append(unexpected, path)
		}
	}
	sort.Strings(unexpected)
	for _, path := range unexpected {
		*errs = append(*errs, fmt.Sprintf("Document path mismatch: unexpected %s found in database", path))
		ok = false
	}

	return ok, nil
}

// verifyCallGraph checks that every call_graph edge references existing
// symbol rows, then verifies a bounded random sample of edges.
func verifyCallGraph(db *store.DB, errs *[]string) (fkValid, sampleOK bool, sampled int, err error) {
	fkValid = true

	rows, err := db.Query(`
		SELECT cg.id, cg.caller_symbol_id, cg.callee_symbol_id
		FROM call_graph cg
		LEFT JOIN symbols s1 ON cg.caller_symbol_id = s1.id
		LEFT JOIN symbols s2 ON cg.callee_symbol_id = s2.id
		WHERE s1.id IS NULL OR s2.id IS NULL
	`)
	if err != nil {
		return false, false, 0, errors.Wrap(errors.StorageError, "failed to check call_graph foreign keys", err)
	}
	for rows.Next() {
		var edgeID, callerID, calleeID int64
		if err := rows.Scan(&edgeID, &callerID, &calleeID); err != nil {
			rows.Close()
			return false, false, 0, errors.Wrap(errors.StorageError, "failed to scan call_graph fk row", err)
		}
		fkValid = false
		*errs = append(*errs, fmt.Sprintf(
			"Call graph foreign key violation: edge %d references invalid symbol ID (caller: %d, callee: %d)",
			edgeID, callerID, calleeID,
		))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, false, 0, errors.Wrap(errors.StorageError, "failed to iterate call_graph fk rows", err)
	}

	var totalEdges int
	if err := db.QueryRow(`SELECT COUNT(*) FROM call_graph`).Scan(&totalEdges); err != nil {
		return fkValid, false, 0, errors.Wrap(errors.StorageError, "failed to count call_graph edges", err)
	}

	sampleOK = true
	if totalEdges == 0 {
		return fkValid, sampleOK, 0, nil
	}

	sampleSize := maxCallGraphSampleSize
	if totalEdges < sampleSize {
		sampleSize = totalEdges
	}

	sampleRows, err := db.Query(`
		SELECT cg.caller_symbol_id, cg.callee_symbol_id, s1.name, s2.name
		FROM call_graph cg
		JOIN symbols s1 ON cg.caller_symbol_id = s1.id
		JOIN symbols s2 ON cg.callee_symbol_id = s2.id
		ORDER BY RANDOM()
		LIMIT ?
	`, sampleSize)
	if err != nil {
		return fkValid, false, 0, errors.Wrap(errors.StorageError, "failed to sample call_graph edges", err)
	}
	defer sampleRows.Close()

	for sampleRows.Next() {
		var callerID, calleeID int64
		var callerName, calleeName sql.NullString
		if err := sampleRows.Scan(&callerID, &calleeID, &callerName, &calleeName); err != nil {
			return fkValid, false, sampled, errors.Wrap(errors.StorageError, "failed to scan call_graph sample row", err)
		}
		if !callerName.Valid || !calleeName.Valid || callerName.String == "" || calleeName.String == "" {
			*errs = append(*errs, fmt.Sprintf(
				"Call graph edge has invalid symbol reference: caller_id=%d, callee_id=%d", callerID, calleeID,
			))
			sampleOK = false
		}
		sampled++
	}
	if err := sampleRows.Err(); err != nil {
		return fkValid, false, sampled, errors.Wrap(errors.StorageError, "failed to iterate call_graph sample", err)
	}

	return fkValid, sampleOK, sampled, nil
}

// sampleIndices picks n distinct indices in [0, count), or all of them
// when count <= n.
func sampleIndices(count, n int) ([]int, error) {
	if n >= count {
		indices := make([]int, count)
		for i := range indices {
			indices[i] = i
		}
		return indices, nil
	}

	chosen := make(map[int]bool, n)
	indices := make([]int, 0, n)
	for len(indices) < n {
		idx, err := randomInt(count)
		if err != nil {
			return nil, errors.Wrap(errors.Internal, "failed to generate random sample index", err)
		}
		if chosen[idx] {
			continue
		}
		chosen[idx] = true
		indices = append(indices, idx)
	}
	return indices, nil
}

func randomInt(n int) (int, error) {
	max := big.NewInt(int64(n))
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// fingerprintSymbols hashes the sorted symbol names of the decoded index,
// each followed by a NUL byte, with blake2b-256. It is independent of
// Passed and of the store: symbol IDs and row insertion order never
// factor into it.
func fingerprintSymbols(symbols []reader.Symbol) string {
	names := make([]string, len(symbols))
	for i, s := range symbols {
		names[i] = s.Name
	}
	sort.Strings(names)

	h, err := blake2b.New256(nil)
	if err != nil {
		return ""
	}
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
