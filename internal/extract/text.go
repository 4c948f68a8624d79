package extract

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/htmlindex"

	"filesift/internal/errs"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeText detects the character set of b and returns the decoded string
// with the name of the detected encoding.
func DecodeText(b []byte) (string, string, error) {
	if bytes.HasPrefix(b, utf8BOM) {
		return string(b[len(utf8BOM):]), "utf-8-sig", nil
	}
	if utf8.Valid(b) {
		if isASCII(b) {
			return string(b), "ascii", nil
		}
		return string(b), "utf-8", nil
	}

	res, err := chardet.NewTextDetector().DetectBest(b)
	if err != nil {
		return "", "", errs.Wrap(errs.FileProcessingFailed, "", err)
	}
	enc, err := htmlindex.Get(res.Charset)
	if err != nil {
		// Detected charsets without a decoder fall back to windows-1252,
		// which maps every byte.
		enc, _ = htmlindex.Get("windows-1252")
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", "", errs.Wrap(errs.FileProcessingFailed, "", err)
	}
	return string(out), strings.ToLower(res.Charset), nil
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// TextStats returns the line, word and character counts shared by the text
// family. Lines are counted by splitting on "\n" without trimming a
// trailing newline.
func TextStats(text string) Metadata {
	return Metadata{
		"num_lines": len(strings.Split(text, "\n")),
		"num_words": len(strings.Fields(text)),
		"num_chars": utf8.RuneCountInString(text),
	}
}
