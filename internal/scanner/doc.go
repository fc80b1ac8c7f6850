// Package scanner measures how many items each chunk actually produced.
//
// A pipeline's output naming conventions form an ordered list of locators. The
// first is the current convention; the rest are legacy generations kept so
// older output is still found. Scan tries them in order and reads the row
// count of the first artifact that exists, using the Parquet footer when the
// artifact is Parquet and streaming CSV, TSV or JSONL otherwise.
package scanner
