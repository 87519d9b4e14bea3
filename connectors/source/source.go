// Package source loads provider cost documents whose text encoding is not known up front.
package source

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// Status describes what the loader found.
type Status string

const (
	Loaded      Status = "loaded"
	Missing     Status = "missing"
	Empty       Status = "empty"
	Undecodable Status = "undecodable"
)

// Result is the outcome of loading one document. Data is set only when Status is Loaded.
type Result struct {
	Status   Status
	Encoding string
	Data     json.RawMessage
	Err      error
}

// OK reports whether a document was loaded.
func (r Result) OK() bool { return r.Status == Loaded }

type candidate struct {
	name string
	enc  encoding.Encoding
	// utf8 candidates pass valid input through unchanged, so a U+FFFD in their output is real text.
	utf8 bool
}

// candidates are tried in order; the first that yields clean text holding a JSON object wins.
var candidates = []candidate{
	{"utf-8-sig", unicode.UTF8BOM, true},
	{"utf-16", unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM), false},
	{"utf-16-le", unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), false},
	{"utf-16-be", unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), false},
	{"utf-8", unicode.UTF8, true},
}

// LoadFile reads and decodes the document at path. It never returns an error;
// problems are reported through Status.
func LoadFile(path string) Result {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Warn("source.file.missing", "path", path)
			return Result{Status: Missing, Err: err}
		}
		slog.Warn("source.file.read.failed", "path", path, "error", err)
		return Result{Status: Undecodable, Err: fmt.Errorf("failed to read %s: %w", path, err)}
	}
	res := Decode(b)
	if res.OK() {
		slog.Info("source.file.loaded", "path", path, "encoding", res.Encoding, "bytes", len(b))
	} else {
		slog.Warn("source.file.unusable", "path", path, "status", res.Status)
	}
	return res
}

// Decode tries each candidate encoding over b.
func Decode(b []byte) Result {
	if len(bytes.TrimSpace(b)) == 0 {
		return Result{Status: Empty}
	}
	var lastErr error
	for _, c := range candidates {
		text, err := c.enc.NewDecoder().Bytes(b)
		if err != nil {
			lastErr = err
			continue
		}
		if c.utf8 && !utf8.Valid(b) {
			continue
		}
		// a replacement character from a UTF-16 decode marks a wrong byte order guess
		if !c.utf8 && (!utf8.Valid(text) || bytes.ContainsRune(text, utf8.RuneError)) {
			continue
		}
		text = bytes.TrimSpace(text)
		if len(text) == 0 {
			return Result{Status: Empty, Encoding: c.name}
		}
		if !isObject(text) {
			lastErr = errors.New("not a JSON object")
			continue
		}
		return Result{Status: Loaded, Encoding: c.name, Data: json.RawMessage(text)}
	}
	if lastErr == nil {
		lastErr = errors.New("no candidate encoding produced clean text")
	}
	return Result{Status: Undecodable, Err: lastErr}
}

func isObject(text []byte) bool {
	if !strings.HasPrefix(string(text), "{") {
		return false
	}
	var v map[string]json.RawMessage
	return json.Unmarshal(text, &v) == nil
}
