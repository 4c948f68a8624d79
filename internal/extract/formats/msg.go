package formats

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/richardlehane/mscfb"
	"golang.org/x/text/encoding/unicode"

	"filesift/internal/errs"
	"filesift/internal/extract"
)

// RegisterMSG registers Outlook message files.
func RegisterMSG(r *extract.Registry) {
	r.Register(NewMSG, ".msg")
}

// MAPI property ids used by the extractor.
const (
	propSubject      = "0037"
	propBody         = "1000"
	propSenderName   = "0C1A"
	propSenderEmail  = "0C1F"
	propDisplayTo    = "0E04"
	propRecipName    = "3001"
	propRecipAddress = "3003"
	propRecipSMTP    = "39FE"

	tagClientSubmitTime = 0x00390040
	tagDeliveryTime     = 0x0E060040
)

// MSG reads an Outlook compound-file message.
type MSG struct {
	extract.Base
}

// NewMSG builds a message extractor.
func NewMSG(path string, openFile bool) (extract.Extractor, error) {
	x := &MSG{}
	err := x.Init(path, openFile, x.read)
	return x, err
}

// message holds the properties of one CFB message.
type message struct {
	strings    map[string]string
	props      []byte
	recipients map[string]map[string]string
}

func (x *MSG) read() (extract.Metadata, error) {
	data, err := x.ReadAll()
	if err != nil {
		return nil, err
	}
	m, err := readMessage(data)
	if err != nil {
		return nil, errs.Wrap(errs.FileCorruption, x.Path(), err)
	}

	sender := m.strings[propSenderName]
	if addr := m.strings[propSenderEmail]; addr != "" {
		if sender == "" {
			sender = addr
		} else if !strings.Contains(sender, addr) {
			sender = fmt.Sprintf("%s <%s>", sender, addr)
		}
	}
	date := ""
	if t, ok := m.time(tagClientSubmitTime); ok {
		date = t.Format(time.RFC1123Z)
	} else if t, ok := m.time(tagDeliveryTime); ok {
		date = t.Format(time.RFC1123Z)
	}
	body := m.strings[propBody]
	recipients := m.recipientList()
	outer := &ThreadMessage{
		From:    sender,
		Date:    date,
		To:      strings.Join(recipients, "; "),
		Subject: m.strings[propSubject],
	}

	return extract.Metadata{
		"subject":       outer.Subject,
		"sender":        sender,
		"date":          date,
		"recipients":    recipients,
		"body":          body,
		extract.KeyText: body,
		"thread":        ParseThread(body, outer).Map(),
	}, nil
}

func readMessage(data []byte) (*message, error) {
	doc, err := mscfb.New(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	m := &message{strings: map[string]string{}, recipients: map[string]map[string]string{}}
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		parents := storagePath(entry.Path)
		switch {
		case len(parents) == 0 && entry.Name == "__properties_version1.0":
			if m.props, err = io.ReadAll(entry); err != nil {
				return nil, err
			}
		case len(parents) == 0:
			if id, s, ok := stringProp(entry); ok {
				m.strings[id] = s
			}
		case len(parents) == 1 && strings.HasPrefix(parents[0], "__recip_version1.0_"):
			if id, s, ok := stringProp(entry); ok {
				r := m.recipients[parents[0]]
				if r == nil {
					r = map[string]string{}
					m.recipients[parents[0]] = r
				}
				r[id] = s
			}
		}
	}
	return m, nil
}

func storagePath(path []string) []string {
	out := path[:0:0]
	for _, p := range path {
		if p != "Root Entry" && p != "" {
			out = append(out, p)
		}
	}
	return out
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// stringProp decodes a __substg1.0_XXXXTTTT stream holding a unicode (001F)
// or 8-bit (001E) string.
func stringProp(entry *mscfb.File) (id, value string, ok bool) {
	name, found := strings.CutPrefix(entry.Name, "__substg1.0_")
	if !found || len(name) != 8 {
		return "", "", false
	}
	raw, err := io.ReadAll(entry)
	if err != nil {
		return "", "", false
	}
	switch name[4:] {
	case "001F":
		b, err := utf16le.NewDecoder().Bytes(raw)
		if err != nil {
			return "", "", false
		}
		value = string(b)
	case "001E":
		value = string(raw)
	default:
		return "", "", false
	}
	return name[:4], strings.TrimRight(value, "\x00"), true
}

// time looks up a PT_SYSTIME property in the top-level property stream:
// a 32-byte header followed by 16-byte entries.
func (m *message) time(tag uint32) (time.Time, bool) {
	const header, entry = 32, 16
	for off := header; off+entry <= len(m.props); off += entry {
		if binary.LittleEndian.Uint32(m.props[off:]) != tag {
			continue
		}
		ft := binary.LittleEndian.Uint64(m.props[off+8:])
		if ft == 0 {
			return time.Time{}, false
		}
		return filetime(ft), true
	}
	return time.Time{}, false
}

// filetime converts 100ns ticks since 1601-01-01 to a UTC time.
func filetime(ft uint64) time.Time {
	const epochDelta = 116444736000000000
	ns := (int64(ft) - epochDelta) * 100
	return time.Unix(0, ns).UTC()
}

func (m *message) recipientList() []string {
	if len(m.recipients) == 0 {
		if to := m.strings[propDisplayTo]; to != "" {
			var out []string
			for _, p := range strings.Split(to, ";") {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			return out
		}
		return []string{}
	}

	keys := make([]string, 0, len(m.recipients))
	for k := range m.recipients {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		r := m.recipients[k]
		addr := r[propRecipSMTP]
		if addr == "" {
			addr = r[propRecipAddress]
		}
		name := r[propRecipName]
		switch {
		case name != "" && addr != "" && name != addr:
			out = append(out, fmt.Sprintf("%s <%s>", name, addr))
		case addr != "":
			out = append(out, addr)
		case name != "":
			out = append(out, name)
		}
	}
	return out
}

// Save copies the message bytes.
func (x *MSG) Save(outputPath string) error { return x.CopyTo(outputPath) }

// ThreadMessage is one node of a reconstructed reply chain. Reply points to
// the next newer message.
type ThreadMessage struct {
	From    string
	Date    string
	To      string
	Subject string
	Body    string
	Reply   *ThreadMessage
}

// Map renders the chain as nested maps.
func (t *ThreadMessage) Map() map[string]any {
	m := map[string]any{
		"from":    t.From,
		"date":    t.Date,
		"to":      t.To,
		"subject": t.Subject,
		"body":    t.Body,
		"reply":   nil,
	}
	if t.Reply != nil {
		m["reply"] = t.Reply.Map()
	}
	return m
}

var (
	fromLine   = regexp.MustCompile(`(?m)^From:\s`)
	headerLine = regexp.MustCompile(`^(From|Sent|Date|To|Subject):\s*(.*)$`)
)

// ParseThread splits a body into quoted messages at lines starting with
// "From: ". Quoted blocks appear newest first in the body; the result is
// rooted at the oldest and ends with outer. Blocks without a From and a
// Sent/Date header are appended to outer's body.
func ParseThread(body string, outer *ThreadMessage) *ThreadMessage {
	starts := fromLine.FindAllStringIndex(body, -1)
	lead := body
	if len(starts) > 0 {
		lead = body[:starts[0][0]]
	}
	extra := []string{strings.TrimSpace(lead)}

	var quoted []*ThreadMessage
	for i, s := range starts {
		end := len(body)
		if i+1 < len(starts) {
			end = starts[i+1][0]
		}
		block := body[s[0]:end]
		if msg, ok := parseBlock(block); ok {
			quoted = append(quoted, msg)
		} else {
			extra = append(extra, strings.TrimSpace(block))
		}
	}

	outer.Body = strings.TrimSpace(strings.Join(extra, "\n"))
	slices.Reverse(quoted)
	root := outer
	for i := len(quoted) - 1; i >= 0; i-- {
		quoted[i].Reply = root
		root = quoted[i]
	}
	return root
}

func parseBlock(block string) (*ThreadMessage, bool) {
	msg := &ThreadMessage{}
	lines := strings.Split(strings.ReplaceAll(block, "\r\n", "\n"), "\n")
	i := 0
	for ; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			i++
			break
		}
		m := headerLine.FindStringSubmatch(line)
		if m == nil {
			break
		}
		switch m[1] {
		case "From":
			msg.From = m[2]
		case "Sent", "Date":
			msg.Date = m[2]
		case "To":
			msg.To = m[2]
		case "Subject":
			msg.Subject = m[2]
		}
	}
	if msg.From == "" || msg.Date == "" {
		return nil, false
	}
	msg.Body = strings.TrimSpace(strings.Join(lines[i:], "\n"))
	return msg, true
}
