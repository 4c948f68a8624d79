package formats

import "filesift/internal/extract"

// GenericMessage is the metadata message of the fallback extractor.
const GenericMessage = "This is a generic processor. Limited functionality available. File was not opened"

// Generic handles extensions without a dedicated extractor. It never reads
// content.
type Generic struct {
	extract.Base
}

// NewGeneric builds the fallback extractor.
func NewGeneric(path string, openFile bool) (extract.Extractor, error) {
	x := &Generic{}
	err := x.Init(path, openFile, func() (extract.Metadata, error) {
		return extract.Metadata{extract.KeyMessage: GenericMessage}, nil
	})
	return x, err
}

// Save copies the bytes when a destination is given.
func (x *Generic) Save(outputPath string) error {
	if outputPath == "" {
		return nil
	}
	return x.CopyTo(outputPath)
}
