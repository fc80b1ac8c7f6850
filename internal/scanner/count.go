package scanner

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// ErrUnsupportedFormat is returned for artifacts whose extension is not known.
var ErrUnsupportedFormat = errors.New("unsupported artifact format")

// Format is an output artifact encoding.
type Format string

const (
	FormatParquet Format = "parquet"
	FormatCSV     Format = "csv"
	FormatTSV     Format = "tsv"
	FormatJSONL   Format = "jsonl"
)

// idColumns are the header names accepted as the item identifier column.
var idColumns = []string{"item_id", "id", "pmid"}

// DetectFormat maps a path to its format by extension. A trailing .gz is
// accepted for line formats.
func DetectFormat(path string) (Format, bool, error) {
	lower := strings.ToLower(path)
	gz := strings.HasSuffix(lower, ".gz")
	lower = strings.TrimSuffix(lower, ".gz")
	switch {
	case strings.HasSuffix(lower, ".parquet") && !gz:
		return FormatParquet, false, nil
	case strings.HasSuffix(lower, ".csv"):
		return FormatCSV, gz, nil
	case strings.HasSuffix(lower, ".tsv"):
		return FormatTSV, gz, nil
	case strings.HasSuffix(lower, ".jsonl"), strings.HasSuffix(lower, ".ndjson"):
		return FormatJSONL, gz, nil
	}
	return "", false, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

// CountRows returns the number of data rows in an artifact. Parquet counts come
// from the file footer without decoding any pages; line formats are streamed.
func CountRows(path string) (int64, error) {
	format, gz, err := DetectFormat(path)
	if err != nil {
		return 0, err
	}
	if format == FormatParquet {
		return countParquet(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	r, closeFn, err := maybeGzip(f, gz)
	if err != nil {
		return 0, err
	}
	defer closeFn()

	switch format {
	case FormatJSONL:
		return countLines(r)
	default:
		return countDelimited(r, delimiter(format))
	}
}

func countParquet(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	pf, err := parquet.OpenFile(f, info.Size(), parquet.SkipPageIndex(true), parquet.SkipBloomFilters(true))
	if err != nil {
		return 0, fmt.Errorf("open parquet %s: %w", path, err)
	}
	return pf.NumRows(), nil
}

func countLines(r io.Reader) (int64, error) {
	br := bufio.NewReaderSize(r, 256*1024)
	var (
		count    int64
		nonBlank bool
	)
	for {
		line, err := br.ReadSlice('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			nonBlank = true
		}
		switch {
		case err == nil:
			if nonBlank {
				count++
			}
			nonBlank = false
		case errors.Is(err, bufio.ErrBufferFull):
			// Long line; keep reading until its newline.
		case errors.Is(err, io.EOF):
			if nonBlank {
				count++
			}
			return count, nil
		default:
			return count, err
		}
	}
}

func countDelimited(r io.Reader, comma rune) (int64, error) {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true
	reader.LazyQuotes = true

	var count int64
	first := true
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, err
		}
		if first {
			first = false
			if idColumnIndex(record) >= 0 {
				continue
			}
		}
		count++
	}
}

func delimiter(format Format) rune {
	if format == FormatTSV {
		return '\t'
	}
	return ','
}

func idColumnIndex(header []string) int {
	for _, want := range idColumns {
		for i, name := range header {
			if strings.EqualFold(strings.TrimSpace(name), want) {
				return i
			}
		}
	}
	return -1
}

func maybeGzip(r io.Reader, gz bool) (io.Reader, func(), error) {
	if !gz {
		return r, func() {}, nil
	}
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("open gzip stream: %w", err)
	}
	return zr, func() { _ = zr.Close() }, nil
}

// ReadIDs extracts the item identifier column from an artifact. The column is
// found by header name (item_id, id or pmid) or, for JSONL, by object key.
func ReadIDs(path string) ([]string, error) {
	format, gz, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	if format == FormatParquet {
		return readParquetIDs(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r, closeFn, err := maybeGzip(f, gz)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	if format == FormatJSONL {
		return readJSONLIDs(r)
	}
	return readDelimitedIDs(r, delimiter(format))
}

func readDelimitedIDs(r io.Reader, comma rune) ([]string, error) {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	col := idColumnIndex(header)
	if col < 0 {
		return nil, fmt.Errorf("no item id column in header %v", header)
	}
	var ids []string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return ids, nil
		}
		if err != nil {
			return ids, err
		}
		if col < len(record) {
			if id := strings.TrimSpace(record[col]); id != "" {
				ids = append(ids, id)
			}
		}
	}
}

func readJSONLIDs(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var (
		ids  []string
		line int
	)
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var row map[string]json.RawMessage
		if err := json.Unmarshal(raw, &row); err != nil {
			return ids, fmt.Errorf("line %d: %w", line, err)
		}
		if id, ok := jsonID(row); ok {
			ids = append(ids, id)
		}
	}
	return ids, scanner.Err()
}

func jsonID(row map[string]json.RawMessage) (string, bool) {
	for _, key := range idColumns {
		raw, ok := row[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return strings.TrimSpace(s), s != ""
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			return n.String(), true
		}
	}
	return "", false
}

func readParquetIDs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet %s: %w", path, err)
	}

	column := -1
	for _, name := range idColumns {
		if leaf, ok := pf.Schema().Lookup(name); ok {
			column = leaf.ColumnIndex
			break
		}
	}
	if column < 0 {
		return nil, fmt.Errorf("no item id column in %s", path)
	}

	ids := make([]string, 0, pf.NumRows())
	buf := make([]parquet.Row, 256)
	for _, rg := range pf.RowGroups() {
		rows := rg.Rows()
		err := func() error {
			defer rows.Close()
			for {
				n, err := rows.ReadRows(buf)
				for _, row := range buf[:n] {
					for _, v := range row {
						if v.Column() == column && !v.IsNull() {
							ids = append(ids, v.String())
							break
						}
					}
				}
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
			}
		}()
		if err != nil {
			return ids, fmt.Errorf("read parquet rows %s: %w", path, err)
		}
	}
	return ids, nil
}
