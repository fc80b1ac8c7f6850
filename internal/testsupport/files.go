package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"
)

// Record is the row shape written by WriteParquet.
type Record struct {
	ItemID string `parquet:"item_id"`
	Value  string `parquet:"value"`
}

// ItemIDs returns n sequential item identifiers starting at start, zero padded
// so that lexical and numeric order agree.
func ItemIDs(prefix string, start, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s%08d", prefix, start+i)
	}
	return ids
}

// WriteManifest writes a CSV manifest with a header row listing ids and
// returns its path.
func WriteManifest(t testing.TB, dir, partitionID string, ids []string) string {
	t.Helper()

	path := filepath.Join(dir, partitionID+".csv")
	var b strings.Builder
	b.WriteString("item_id\n")
	for _, id := range ids {
		b.WriteString(id)
		b.WriteByte('\n')
	}
	mustWrite(t, path, []byte(b.String()))
	return path
}

// WriteParquet writes a parquet file holding one row per item ID.
func WriteParquet(t testing.TB, path string, ids []string) {
	t.Helper()

	rows := make([]Record, len(ids))
	for i, id := range ids {
		rows[i] = Record{ItemID: id, Value: "v"}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		t.Fatalf("write parquet %s: %v", path, err)
	}
}

// WriteLines writes newline separated lines to path.
func WriteLines(t testing.TB, path string, lines []string) {
	t.Helper()

	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	mustWrite(t, path, []byte(content))
}

func mustWrite(t testing.TB, path string, data []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
