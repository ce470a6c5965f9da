package document

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// maxDocxXML caps the decompressed size of word/document.xml.
const maxDocxXML = 64 << 20

// extractDocx returns the paragraph text of a WordprocessingML package, one
// paragraph per line. Paragraphs styled as headings or titles are prefixed
// with "# " so Split treats them as section boundaries.
func extractDocx(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var body *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			body = f
			break
		}
	}
	if body == nil {
		return "", fmt.Errorf("%w: word/document.xml not found", ErrCorrupt)
	}

	rc, err := body.Open()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer rc.Close()

	return paragraphText(io.LimitReader(rc, maxDocxXML))
}

func paragraphText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var out strings.Builder
	var para strings.Builder
	inText := false
	heading := false

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				para.Reset()
				heading = false
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			case "br", "cr":
				para.WriteByte('\n')
			case "pStyle":
				for _, a := range t.Attr {
					if a.Name.Local == "val" && isHeadingStyle(a.Value) {
						heading = true
					}
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				line := para.String()
				if heading && strings.TrimSpace(line) != "" {
					line = "# " + strings.TrimSpace(line)
				}
				out.WriteString(line)
				out.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	return out.String(), nil
}

func isHeadingStyle(style string) bool {
	s := strings.ToLower(style)
	return strings.HasPrefix(s, "heading") || s == "title"
}
