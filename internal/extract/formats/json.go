package formats

import (
	"encoding/json"
	"strings"

	"filesift/internal/errs"
	"filesift/internal/extract"
)

// RegisterJSON registers JSON documents.
func RegisterJSON(r *extract.Registry) {
	r.Register(NewJSON, ".json", ".geojson")
}

// NewJSON builds a JSON extractor. A document that does not parse is a
// FileCorruptionError.
func NewJSON(path string, openFile bool) (extract.Extractor, error) {
	return newText(path, openFile, enrichJSON)
}

func enrichJSON(x *Text, meta extract.Metadata) error {
	if !json.Valid([]byte(x.text)) {
		return errs.New(errs.FileCorruption, x.Path(), "invalid JSON document")
	}

	dec := json.NewDecoder(strings.NewReader(x.text))
	dec.UseNumber()
	var stats jsonStats
	tok, err := dec.Token()
	if err != nil {
		return errs.Wrap(errs.FileCorruption, x.Path(), err)
	}
	if _, err := stats.value(dec, tok); err != nil {
		return errs.Wrap(errs.FileCorruption, x.Path(), err)
	}

	keys := stats.keys
	if keys == nil {
		keys = []string{}
	}
	meta["num_keys"] = len(keys)
	meta["empty_values"] = stats.empty
	meta["key_names"] = keys
	return nil
}

// jsonStats walks the token stream so keys keep document order.
type jsonStats struct {
	keys  []string
	empty int
}

// value consumes the value starting at tok and reports whether it is empty
// (null, "", [] or {}). Keys and empty values are counted through nested
// objects; arrays are skipped as opaque values.
func (s *jsonStats) value(dec *json.Decoder, tok json.Token) (bool, error) {
	switch t := tok.(type) {
	case json.Delim:
		if t == '{' {
			return s.object(dec)
		}
		return skipArray(dec)
	case nil:
		return true, nil
	case string:
		return t == "", nil
	}
	return false, nil
}

func (s *jsonStats) object(dec *json.Decoder) (bool, error) {
	n := 0
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return false, err
		}
		s.keys = append(s.keys, keyTok.(string))
		n++

		valTok, err := dec.Token()
		if err != nil {
			return false, err
		}
		empty, err := s.value(dec, valTok)
		if err != nil {
			return false, err
		}
		if empty {
			s.empty++
		}
	}
	if _, err := dec.Token(); err != nil { // closing brace
		return false, err
	}
	return n == 0, nil
}

func skipArray(dec *json.Decoder) (bool, error) {
	n := 0
	for dec.More() {
		var discard json.RawMessage
		if err := dec.Decode(&discard); err != nil {
			return false, err
		}
		n++
	}
	if _, err := dec.Token(); err != nil { // closing bracket
		return false, err
	}
	return n == 0, nil
}
