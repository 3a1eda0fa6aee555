package importer

import (
	"bytes"
	"encoding/csv"
	"io"
)

// TemplateFileName is the suggested name of the downloadable template.
const TemplateFileName = "price_upload_template.csv"

// WriteTemplate writes the canonical header row as UTF-8 CSV.
func WriteTemplate(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(TemplateHeader()); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// Template returns the template file contents.
func Template() []byte {
	var buf bytes.Buffer
	_ = WriteTemplate(&buf)
	return buf.Bytes()
}
