package loader

import (
	"bytes"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/leapstack-labs/hdbgraph/internal/procedure"
	"github.com/leapstack-labs/hdbgraph/internal/sqlscan"
	"github.com/leapstack-labs/hdbgraph/internal/sqlview"
)

// Type is the detected artifact type of a file.
type Type string

// Artifact types.
const (
	CalcView  Type = "calcview"
	View      Type = "view"
	Procedure Type = "procedure"
	Unknown   Type = "unknown"
)

// typeByExt maps unambiguous extensions to their artifact type. Extensions
// mapped to Unknown are recognized but need a look at the content.
var typeByExt = map[string]Type{
	".hdbcalculationview": CalcView,
	".calculationview":    CalcView,
	".xml":                CalcView,
	".hdbview":            View,
	".hdbprocedure":       Procedure,
	".sql":                Unknown,
	".txt":                Unknown,
}

// Supported reports whether name has an extension the loader reads.
func Supported(name string) bool {
	_, ok := typeByExt[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Detect classifies an artifact by file extension and, when the extension
// is ambiguous, by content. Procedure headers take precedence over view
// headers; markup content is a calculation view.
func Detect(name, text string) Type {
	if t, ok := typeByExt[strings.ToLower(filepath.Ext(name))]; ok && t != Unknown {
		return t
	}
	return DetectContent(text)
}

// DetectContent classifies artifact text without a file name.
func DetectContent(text string) Type {
	trimmed := strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(trimmed, "<"):
		return CalcView
	case procedure.ExtractName(withCreate(text, "PROCEDURE")) != procedure.UnknownProcedure:
		return Procedure
	case sqlview.ExtractName(withCreate(text, "VIEW")) != sqlview.UnknownView:
		return View
	default:
		return Unknown
	}
}

// withCreate turns an HDI design-time definition, which starts with a bare
// PROCEDURE or VIEW keyword, into a CREATE statement. Other text is
// returned unchanged.
func withCreate(text string, keywords ...string) string {
	tokens := sqlscan.Tokenize(text)
	if len(tokens) == 0 || !tokens[0].Is(keywords...) {
		return text
	}
	return text[:tokens[0].Start] + "CREATE " + text[tokens[0].Start:]
}

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}

	xmlEncodingDecl = regexp.MustCompile(`^(<\?xml[^>]*?)\s+encoding\s*=\s*["'][^"']*["']`)
)

// decode converts data that starts with a byte order mark to UTF-8 and
// reports whether it did so. Data without a BOM is returned as is.
func decode(data []byte) ([]byte, bool, error) {
	if !bytes.HasPrefix(data, bomUTF8) && !bytes.HasPrefix(data, bomUTF16LE) && !bytes.HasPrefix(data, bomUTF16BE) {
		return data, false, nil
	}
	out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// dropEncodingDecl removes the encoding attribute from an XML declaration
// once the document has been transcoded to UTF-8.
func dropEncodingDecl(data []byte) []byte {
	return xmlEncodingDecl.ReplaceAll(data, []byte("$1"))
}
