package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/abema/go-mp4"
	"github.com/bogem/id3v2/v2"
	"github.com/dhowden/tag"
	"github.com/go-audio/aiff"
	"github.com/go-audio/wav"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
	"github.com/jfreymuth/oggvorbis"
	"github.com/tcolgate/mp3"

	"filesift/internal/errs"
	"filesift/internal/extract"
)

// RegisterAudio registers audio containers.
func RegisterAudio(r *extract.Registry) {
	r.Register(NewAudio, ".mp3", ".wav", ".flac", ".ogg", ".m4a", ".mp4", ".aiff", ".aif")
}

// Tags are the writable audio tag fields.
type Tags struct {
	Artist       string
	Date         string
	Title        string
	Organization string
}

// streamInfo is what the container decoders report.
type streamInfo struct {
	bitrate    int
	length     float64
	sampleRate int
	channels   int
}

// Audio reads stream info and tags, dispatching on the container.
type Audio struct {
	extract.Base
	tags Tags
}

// NewAudio builds an audio extractor.
func NewAudio(path string, openFile bool) (extract.Extractor, error) {
	x := &Audio{}
	err := x.Init(path, openFile, x.read)
	return x, err
}

func (x *Audio) read() (extract.Metadata, error) {
	f, err := x.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var info streamInfo
	var tags Tags
	switch x.Attributes().Extension {
	case ".mp3":
		info, err = mp3Info(f)
		if err == nil {
			tags, err = id3Tags(x.Path())
		}
	case ".wav":
		info, tags, err = wavInfo(f)
	case ".aiff", ".aif":
		info, tags, err = aiffInfo(f)
	case ".flac":
		info, tags, err = flacInfo(x.Path())
	case ".ogg":
		info, err = oggInfo(f)
		if err == nil {
			tags, err = genericTags(f)
		}
	case ".m4a", ".mp4":
		info, err = mp4Info(f)
		if err == nil {
			tags, err = genericTags(f)
		}
	default:
		return nil, errs.Newf(errs.UnsupportedFileType, x.Path(), "no audio decoder for %s", x.Attributes().Extension)
	}
	if err != nil {
		return nil, errs.Wrap(errs.FileCorruption, x.Path(), err)
	}
	if info.bitrate == 0 && info.length > 0 {
		info.bitrate = int(float64(x.Attributes().Size*8) / info.length)
	}
	x.tags = tags

	return extract.Metadata{
		"bitrate":      info.bitrate,
		"length":       info.length,
		"sample_rate":  info.sampleRate,
		"channels":     info.channels,
		"artist":       tags.Artist,
		"date":         tags.Date,
		"title":        tags.Title,
		"organization": tags.Organization,
	}, nil
}

func mp3Info(r io.Reader) (streamInfo, error) {
	var (
		info    streamInfo
		frame   mp3.Frame
		skipped int
		total   time.Duration
		size    int
		frames  int
	)
	d := mp3.NewDecoder(r)
	for {
		if err := d.Decode(&frame, &skipped); err != nil {
			if frames == 0 {
				return info, err
			}
			break
		}
		if frames == 0 {
			h := frame.Header()
			info.sampleRate = int(h.SampleRate())
			info.channels = 2
			if h.ChannelMode() == mp3.SingleChannel {
				info.channels = 1
			}
		}
		frames++
		total += frame.Duration()
		size += frame.Size()
	}
	info.length = total.Seconds()
	if info.length > 0 {
		info.bitrate = int(float64(size*8) / info.length)
	}
	return info, nil
}

func id3Tags(path string) (Tags, error) {
	t, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return Tags{}, err
	}
	defer t.Close()
	return tagsFromID3(t), nil
}

func tagsFromID3(t *id3v2.Tag) Tags {
	return Tags{
		Artist:       t.Artist(),
		Date:         t.Year(),
		Title:        t.Title(),
		Organization: t.GetTextFrame(t.CommonID("Publisher")).Text,
	}
}

func wavInfo(f *os.File) (streamInfo, Tags, error) {
	var info streamInfo
	d := wav.NewDecoder(f)
	d.ReadInfo()
	if !d.IsValidFile() {
		return info, Tags{}, errors.New("invalid WAV header")
	}
	info.sampleRate = int(d.SampleRate)
	info.channels = int(d.NumChans)
	info.bitrate = int(d.SampleRate) * int(d.BitDepth) * int(d.NumChans)
	if err := d.FwdToPCM(); err != nil {
		return info, Tags{}, err
	}
	if bytesPerSec := info.bitrate / 8; bytesPerSec > 0 {
		info.length = float64(d.PCMLen()) / float64(bytesPerSec)
	}

	// The LIST chunk usually trails the PCM data, so metadata is read by a
	// second decoder from the start of the file.
	var tags Tags
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return info, tags, err
	}
	md := wav.NewDecoder(f)
	md.ReadMetadata()
	if md.Metadata != nil {
		tags.Artist = md.Metadata.Artist
		tags.Title = md.Metadata.Title
		tags.Date = md.Metadata.CreationDate
		tags.Organization = md.Metadata.Product
	}
	return info, tags, nil
}

func aiffInfo(f *os.File) (streamInfo, Tags, error) {
	var info streamInfo
	d := aiff.NewDecoder(f)
	d.ReadInfo()
	if !d.IsValidFile() {
		return info, Tags{}, errors.New("invalid AIFF header")
	}
	info.sampleRate = d.SampleRate
	info.channels = int(d.NumChans)
	info.bitrate = d.SampleRate * int(d.BitDepth) * int(d.NumChans)
	if d.SampleRate > 0 {
		info.length = float64(d.NumSampleFrames) / float64(d.SampleRate)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return info, Tags{}, err
	}
	tags, err := aiffID3(f)
	return info, tags, err
}

// aiffID3 walks the IFF chunks looking for an embedded "ID3 " chunk. A file
// without one reports empty tags.
func aiffID3(r io.Reader) (Tags, error) {
	var form [12]byte
	if _, err := io.ReadFull(r, form[:]); err != nil {
		return Tags{}, err
	}
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return Tags{}, nil
		}
		size := int64(binary.BigEndian.Uint32(hdr[4:]))
		if string(hdr[:4]) == "ID3 " || string(hdr[:4]) == "id3 " {
			data := make([]byte, size)
			if _, err := io.ReadFull(r, data); err != nil {
				return Tags{}, err
			}
			t, err := id3v2.ParseReader(bytes.NewReader(data), id3v2.Options{Parse: true})
			if err != nil {
				return Tags{}, err
			}
			return tagsFromID3(t), nil
		}
		if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
			return Tags{}, nil
		}
	}
}

func flacInfo(path string) (streamInfo, Tags, error) {
	var info streamInfo
	f, err := flac.ParseFile(path)
	if err != nil {
		return info, Tags{}, err
	}
	si, err := f.GetStreamInfo()
	if err != nil {
		return info, Tags{}, err
	}
	info.sampleRate = si.SampleRate
	info.channels = si.ChannelCount
	if si.SampleRate > 0 {
		info.length = float64(si.SampleCount) / float64(si.SampleRate)
	}

	var tags Tags
	for _, block := range f.Meta {
		if block.Type != flac.VorbisComment {
			continue
		}
		cmts, err := flacvorbis.ParseFromMetaDataBlock(*block)
		if err != nil {
			return info, tags, err
		}
		tags.Artist = firstComment(cmts, flacvorbis.FIELD_ARTIST)
		tags.Date = firstComment(cmts, flacvorbis.FIELD_DATE)
		tags.Title = firstComment(cmts, flacvorbis.FIELD_TITLE)
		tags.Organization = firstComment(cmts, flacvorbis.FIELD_ORGANIZATION)
	}
	return info, tags, nil
}

func firstComment(c *flacvorbis.MetaDataBlockVorbisComment, field string) string {
	vals, err := c.Get(field)
	if err != nil || len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func oggInfo(r io.ReadSeeker) (streamInfo, error) {
	var info streamInfo
	samples, format, err := oggvorbis.GetLength(r)
	if err != nil {
		return info, err
	}
	info.sampleRate = format.SampleRate
	info.channels = format.Channels
	if format.SampleRate > 0 {
		info.length = float64(samples) / float64(format.SampleRate)
	}
	return info, nil
}

func mp4Info(r io.ReadSeeker) (streamInfo, error) {
	var info streamInfo
	p, err := mp4.Probe(r)
	if err != nil {
		return info, err
	}
	if p.Timescale > 0 {
		info.length = float64(p.Duration) / float64(p.Timescale)
	}
	for _, t := range p.Tracks {
		if t.MP4A != nil {
			info.channels = int(t.MP4A.ChannelCount)
			if t.Timescale > 0 {
				info.sampleRate = int(t.Timescale)
			}
			break
		}
	}
	return info, nil
}

// genericTags reads Vorbis comments and iTunes atoms.
func genericTags(r io.ReadSeeker) (Tags, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return Tags{}, err
	}
	m, err := tag.ReadFrom(r)
	if errors.Is(err, tag.ErrNoTagsFound) {
		return Tags{}, nil
	}
	if err != nil {
		return Tags{}, err
	}
	t := Tags{Artist: m.Artist(), Title: m.Title()}
	if y := m.Year(); y != 0 {
		t.Date = strconv.Itoa(y)
	}
	for k, v := range m.Raw() {
		if strings.EqualFold(k, "organization") {
			if s, ok := v.(string); ok {
				t.Organization = s
			}
		}
	}
	return t, nil
}

// Tags returns the tags read from the file or set since.
func (x *Audio) Tags() Tags { return x.tags }

// SetTags replaces the tags written by the next Save.
func (x *Audio) SetTags(t Tags) { x.tags = t }

// Save writes tags back. Only mp3 (ID3v2) and flac (Vorbis comments) have
// tag writers; other containers refuse.
func (x *Audio) Save(outputPath string) error {
	if !x.Opened() {
		return x.CopyTo(outputPath)
	}
	target := x.Target(outputPath)
	switch x.Attributes().Extension {
	case ".mp3":
		if err := x.CopyTo(target); err != nil {
			return err
		}
		return x.saveID3(target)
	case ".flac":
		return x.saveFLAC(target)
	}
	return x.Base.Save(outputPath)
}

func (x *Audio) saveID3(target string) error {
	t, err := id3v2.Open(target, id3v2.Options{Parse: true})
	if err != nil {
		return errs.Wrap(errs.FileProcessingFailed, target, err)
	}
	defer t.Close()
	t.SetDefaultEncoding(id3v2.EncodingUTF8)
	t.SetArtist(x.tags.Artist)
	t.SetTitle(x.tags.Title)
	t.SetYear(x.tags.Date)
	t.AddTextFrame(t.CommonID("Publisher"), id3v2.EncodingUTF8, x.tags.Organization)
	if err := t.Save(); err != nil {
		return errs.Wrap(errs.FileProcessingFailed, target, err)
	}
	return nil
}

func (x *Audio) saveFLAC(target string) error {
	f, err := flac.ParseFile(x.Path())
	if err != nil {
		return errs.Wrap(errs.FileProcessingFailed, x.Path(), err)
	}

	idx := -1
	cmts := flacvorbis.New()
	for i, block := range f.Meta {
		if block.Type == flac.VorbisComment {
			idx = i
			if cmts, err = flacvorbis.ParseFromMetaDataBlock(*block); err != nil {
				return errs.Wrap(errs.FileProcessingFailed, x.Path(), err)
			}
			break
		}
	}

	set := map[string]string{
		flacvorbis.FIELD_ARTIST:       x.tags.Artist,
		flacvorbis.FIELD_DATE:         x.tags.Date,
		flacvorbis.FIELD_TITLE:        x.tags.Title,
		flacvorbis.FIELD_ORGANIZATION: x.tags.Organization,
	}
	kept := cmts.Comments[:0]
	for _, c := range cmts.Comments {
		key, _, _ := strings.Cut(c, "=")
		if _, replaced := set[strings.ToUpper(key)]; !replaced {
			kept = append(kept, c)
		}
	}
	cmts.Comments = kept
	for _, field := range []string{flacvorbis.FIELD_ARTIST, flacvorbis.FIELD_DATE, flacvorbis.FIELD_TITLE, flacvorbis.FIELD_ORGANIZATION} {
		if v := set[field]; v != "" {
			if err := cmts.Add(field, v); err != nil {
				return errs.Wrap(errs.FileProcessingFailed, x.Path(), err)
			}
		}
	}

	block := cmts.Marshal()
	if idx >= 0 {
		f.Meta[idx] = &block
	} else {
		f.Meta = append(f.Meta, &block)
	}
	if err := f.Save(target); err != nil {
		return errs.Wrap(errs.FileProcessingFailed, target, err)
	}
	return nil
}
