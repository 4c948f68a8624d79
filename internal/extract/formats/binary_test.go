package formats

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filesift/internal/errs"
	"filesift/internal/extract"
)

func TestZipMembers(t *testing.T) {
	dir := t.TempDir()
	p := writeZip(t, filepath.Join(dir, "bundle.zip"), map[string]string{
		"a.txt":       "alpha",
		"docs/b.TXT":  "beta",
		"img/c.png":   "png",
		"docs/README": "readme",
	})

	x, err := NewZip(p, true)
	require.NoError(t, err)
	m := x.Metadata()
	assert.Equal(t, 4, m["num_files"])
	assert.Equal(t, map[string]int{".txt": 2, ".png": 1, "": 1}, m["file_types"])
	assert.ElementsMatch(t, []string{"a.txt", "docs/b.TXT", "img/c.png", "docs/README"}, m["file_names"])

	out, err := x.(*Zip).Extract("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "bundle"), out)
	data, err := os.ReadFile(filepath.Join(out, "docs", "b.TXT"))
	require.NoError(t, err)
	assert.Equal(t, "beta", string(data))
}

func TestZipExtractRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	p := writeZip(t, filepath.Join(dir, "evil.zip"), map[string]string{"../escape.txt": "x"})

	x, err := NewZip(p, true)
	require.NoError(t, err)
	_, err = x.(*Zip).Extract(filepath.Join(dir, "out"))
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "escape.txt"))
}

const testWheelMetadata = `Metadata-Version: 2.1
Name: sample
Version: 1.2.0
Requires-Python: >=3.8
Author-email: Ada <ada@example.com>
Classifier: Programming Language :: Python :: 3
Classifier: Operating System :: OS Independent
Classifier: Operating System :: POSIX :: Linux
Requires-Dist: requests>=2.0
Requires-Dist: pytest; extra == "test"
Requires-Dist: black; python_version >= "3.9" and extra == 'dev'

Long description here.
`

func TestWheelMetadata(t *testing.T) {
	p := writeZip(t, filepath.Join(t.TempDir(), "sample-1.2.0-7-py3-none-any.whl"), map[string]string{
		"sample/__init__.py":              "",
		"sample/core.py":                  "",
		"sample-1.2.0.dist-info/METADATA": testWheelMetadata,
		"sample-1.2.0.dist-info/RECORD":   "",
	})

	x, err := NewWheel(p, true)
	require.NoError(t, err)
	m := x.Metadata()
	assert.Equal(t, "sample", m["name"])
	assert.Equal(t, "1.2.0", m["version"])
	assert.Equal(t, ">=3.8", m["requires_python"])
	assert.Equal(t, "Ada <ada@example.com>", m["author"])
	assert.Equal(t, []string{"OS Independent", "POSIX :: Linux"}, m["operating_systems"])
	assert.Equal(t, []string{"requests>=2.0"}, m["dependencies"])
	assert.Equal(t, map[string][]string{
		"test": {"pytest"},
		"dev":  {`black; python_version >= "3.9"`},
	}, m["optional_dependencies"])
	assert.Equal(t, "7", m["build_tag"])
	assert.Equal(t, 4, m["num_files"])
	assert.NotContains(t, m, "file_names")
}

func TestWheelBuildTag(t *testing.T) {
	assert.Equal(t, "", wheelBuildTag("pkg-1.0-py3-none-any.whl"))
	assert.Equal(t, "12abc", wheelBuildTag("pkg-1.0-12abc-py3-none-any.whl"))
}

// ggufHeader encodes a GGUF v3 stream with the given KV pairs and a single
// F16 tensor.
func ggufHeader(t *testing.T, kv func(w *bytes.Buffer) int) []byte {
	t.Helper()
	var body bytes.Buffer
	n := kv(&body)

	var b bytes.Buffer
	le := binary.LittleEndian
	b.WriteString("GGUF")
	require.NoError(t, binary.Write(&b, le, uint32(3)))
	require.NoError(t, binary.Write(&b, le, uint64(1)))
	require.NoError(t, binary.Write(&b, le, uint64(n)))
	b.Write(body.Bytes())

	putGGUFString(&b, "token_embd.weight")
	require.NoError(t, binary.Write(&b, le, uint32(2)))
	require.NoError(t, binary.Write(&b, le, []uint64{4096, 32000}))
	require.NoError(t, binary.Write(&b, le, uint32(1)))
	require.NoError(t, binary.Write(&b, le, uint64(0)))
	return b.Bytes()
}

func putGGUFString(b *bytes.Buffer, s string) {
	_ = binary.Write(b, binary.LittleEndian, uint64(len(s)))
	b.WriteString(s)
}

func TestGGUFHeader(t *testing.T) {
	le := binary.LittleEndian
	data := ggufHeader(t, func(w *bytes.Buffer) int {
		putGGUFString(w, "general.name")
		_ = binary.Write(w, le, ggufString)
		putGGUFString(w, "tiny")

		putGGUFString(w, "general.alignment")
		_ = binary.Write(w, le, ggufUint32)
		_ = binary.Write(w, le, uint32(32))

		putGGUFString(w, "tokenizer.scores")
		_ = binary.Write(w, le, ggufArray)
		_ = binary.Write(w, le, ggufFloat32)
		_ = binary.Write(w, le, uint64(2))
		_ = binary.Write(w, le, []float32{0.5, -1})

		putGGUFString(w, "general.quantized")
		_ = binary.Write(w, le, ggufBool)
		w.WriteByte(1)
		return 4
	})
	p := filepath.Join(t.TempDir(), "tiny.gguf")
	require.NoError(t, os.WriteFile(p, data, 0o644))

	x, err := NewGGUF(p, true)
	require.NoError(t, err)
	m := x.Metadata()
	assert.Equal(t, "GGUF", m["magic_number"])
	assert.Equal(t, 3, m["version"])
	assert.Equal(t, uint64(1), m["tensor_count"])
	assert.Equal(t, uint64(4), m["kv_count"])
	assert.Equal(t, uint64(32), m["alignment"])

	kv := m["metadata"].(map[string]any)
	assert.Equal(t, "tiny", kv["general.name"])
	assert.Equal(t, []any{float32(0.5), float32(-1)}, kv["tokenizer.scores"])
	assert.Equal(t, true, kv["general.quantized"])

	tensors := m["tensors"].([]map[string]any)
	require.Len(t, tensors, 1)
	assert.Equal(t, "token_embd.weight", tensors[0]["name"])
	assert.Equal(t, "F16", tensors[0]["type"])
	assert.Equal(t, []uint64{4096, 32000}, tensors[0]["dimensions"])
}

func TestGGUFErrors(t *testing.T) {
	valid := ggufHeader(t, func(*bytes.Buffer) int { return 0 })

	t.Run("bad_magic", func(t *testing.T) {
		data := bytes.Clone(valid)
		data[0] = 0x00
		p := filepath.Join(t.TempDir(), "bad.gguf")
		require.NoError(t, os.WriteFile(p, data, 0o644))

		x, err := NewGGUF(p, true)
		require.Error(t, err)
		assert.Equal(t, errs.FileProcessingFailed, errs.KindOf(err))
		assert.Contains(t, err.Error(), "Invalid GGUF magic number.")
		assert.Equal(t, "FileProcessingFailedError", x.Metadata()[extract.KeyError])
	})

	t.Run("wrong_version", func(t *testing.T) {
		data := bytes.Clone(valid)
		binary.LittleEndian.PutUint32(data[4:], 2)
		_, err := ReadGGUF(bytes.NewReader(data))
		assert.Equal(t, errs.FileProcessingFailed, errs.KindOf(err))
	})

	t.Run("unknown_value_type", func(t *testing.T) {
		data := ggufHeader(t, func(w *bytes.Buffer) int {
			putGGUFString(w, "x")
			_ = binary.Write(w, binary.LittleEndian, uint32(99))
			return 1
		})
		_, err := ReadGGUF(bytes.NewReader(data))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Unknown GGUF value type 99.")
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := ReadGGUF(bytes.NewReader(valid[:12]))
		assert.Equal(t, errs.FileProcessingFailed, errs.KindOf(err))
	})
}

func TestParseThreadOldestFirst(t *testing.T) {
	body := "Sounds good, see you then.\r\n\r\n" +
		"From: Bob <bob@example.com>\r\n" +
		"Sent: Tuesday, March 3, 2020 10:00 AM\r\n" +
		"To: Alice <alice@example.com>\r\n" +
		"Subject: RE: Lunch\r\n" +
		"\r\n" +
		"Tuesday works.\r\n" +
		"\r\n" +
		"From: Alice <alice@example.com>\r\n" +
		"Date: Monday, March 2, 2020 9:00 AM\r\n" +
		"To: Bob <bob@example.com>\r\n" +
		"Subject: Lunch\r\n" +
		"\r\n" +
		"Lunch this week?\r\n"
	outer := &ThreadMessage{From: "Alice <alice@example.com>", Subject: "RE: RE: Lunch"}

	root := ParseThread(body, outer)
	require.NotNil(t, root)
	assert.Equal(t, "Lunch", root.Subject)
	assert.Equal(t, "Lunch this week?", root.Body)
	assert.Equal(t, "Monday, March 2, 2020 9:00 AM", root.Date)

	require.NotNil(t, root.Reply)
	assert.Equal(t, "RE: Lunch", root.Reply.Subject)
	assert.Equal(t, "Tuesday works.", root.Reply.Body)

	require.Same(t, outer, root.Reply.Reply)
	assert.Equal(t, "Sounds good, see you then.", outer.Body)
	assert.Nil(t, outer.Reply)

	m := root.Map()
	assert.Equal(t, "Bob <bob@example.com>", m["reply"].(map[string]any)["from"])
}

func TestParseThreadUnparseableBlockJoinsOuter(t *testing.T) {
	body := "Top text\nFrom: nobody in particular\nno headers here\n"
	outer := &ThreadMessage{Subject: "s"}

	root := ParseThread(body, outer)
	assert.Same(t, outer, root)
	assert.Equal(t, "Top text\nFrom: nobody in particular\nno headers here", root.Body)
}

func TestMSGGarbageIsCorruption(t *testing.T) {
	p := writeFile(t, t.TempDir(), "mail.msg", "not a compound file at all, just text")

	_, err := NewMSG(p, true)
	assert.Equal(t, errs.FileCorruption, errs.KindOf(err))
}

func TestFiletime(t *testing.T) {
	// 2020-01-01T00:00:00Z
	assert.Equal(t, int64(1577836800), filetime(132223104000000000).Unix())
}

func TestEXE(t *testing.T) {
	p := writeFile(t, t.TempDir(), "tool.exe", "MZ but nothing useful")

	_, err := NewEXE(p, true)
	assert.Equal(t, errs.FileCorruption, errs.KindOf(err))

	assert.Equal(t, 0.0, entropy(nil))
	assert.Equal(t, 0.0, entropy([]byte("aaaa")))
	assert.InDelta(t, 1.0, entropy([]byte("abab")), 1e-9)
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	assert.InDelta(t, 8.0, entropy(all), 1e-9)
}
