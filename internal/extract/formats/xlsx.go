package formats

import (
	"strings"

	"github.com/xuri/excelize/v2"

	"filesift/internal/errs"
	"filesift/internal/extract"
)

// Xlsx extracts Excel workbooks.
type Xlsx struct {
	extract.Base
	author, lastModifiedBy string
}

// NewXlsx builds a workbook extractor.
func NewXlsx(path string, openFile bool) (extract.Extractor, error) {
	x := &Xlsx{}
	err := x.Init(path, openFile, x.read)
	return x, err
}

func (x *Xlsx) read() (extract.Metadata, error) {
	f, err := x.Open()
	if err != nil {
		return nil, err
	}
	locked, err := isEncrypted(f)
	f.Close()
	if err != nil {
		return nil, err
	}
	if locked {
		return lockedMetadata(), nil
	}

	wb, err := excelize.OpenFile(x.Path())
	if err != nil {
		return nil, errs.Wrap(errs.FileCorruption, x.Path(), err)
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	active := ""
	if i := wb.GetActiveSheetIndex(); i >= 0 && i < len(sheets) {
		active = sheets[i]
	}

	data := make(map[string][][]string, len(sheets))
	var lines []string
	for _, sheet := range sheets {
		rows, err := wb.GetRows(sheet)
		if err != nil {
			return nil, errs.Wrap(errs.FileProcessingFailed, x.Path(), err)
		}
		data[sheet] = rows
		for _, row := range rows {
			lines = append(lines, strings.Join(row, " | "))
		}
	}

	props, err := wb.GetDocProps()
	if err != nil {
		return nil, errs.Wrap(errs.FileCorruption, x.Path(), err)
	}
	x.author, x.lastModifiedBy = props.Creator, props.LastModifiedBy

	return extract.Metadata{
		"has_password":     false,
		extract.KeyText:    strings.Join(lines, "\n"),
		"author":           props.Creator,
		"last_modified_by": props.LastModifiedBy,
		"sheet_names":      sheets,
		"active_sheet":     active,
		"data":             data,
	}, nil
}

// SetAuthor sets the author written by the next Save.
func (x *Xlsx) SetAuthor(s string) { x.author = s }

// SetLastModifiedBy sets the last-modified-by written by the next Save.
func (x *Xlsx) SetLastModifiedBy(s string) { x.lastModifiedBy = s }

// Save writes the workbook with its document properties updated.
func (x *Xlsx) Save(outputPath string) error {
	if !x.Opened() {
		return x.CopyTo(outputPath)
	}
	if locked, _ := x.Meta()["has_password"].(bool); locked {
		return errs.New(errs.FileProcessingFailed, x.Path(), "cannot save a password protected workbook")
	}

	wb, err := excelize.OpenFile(x.Path())
	if err != nil {
		return errs.Wrap(errs.FileProcessingFailed, x.Path(), err)
	}
	defer wb.Close()

	props, err := wb.GetDocProps()
	if err != nil {
		return errs.Wrap(errs.FileProcessingFailed, x.Path(), err)
	}
	props.Creator = x.author
	props.LastModifiedBy = x.lastModifiedBy
	if err := wb.SetDocProps(props); err != nil {
		return errs.Wrap(errs.FileProcessingFailed, x.Path(), err)
	}
	buf, err := wb.WriteToBuffer()
	if err != nil {
		return errs.Wrap(errs.FileProcessingFailed, x.Path(), err)
	}
	return extract.WriteFile(x.Target(outputPath), buf.Bytes())
}
