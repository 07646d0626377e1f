package value

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Code pages with a dedicated codec.
const (
	CodePageUnicode = 1200
	CodePageASCII   = 20127
	CodePageWestern = 1252
	CodePageUTF8    = 65001
)

var codePages = map[uint32]encoding.Encoding{
	437:   charmap.CodePage437,
	850:   charmap.CodePage850,
	852:   charmap.CodePage852,
	855:   charmap.CodePage855,
	858:   charmap.CodePage858,
	860:   charmap.CodePage860,
	862:   charmap.CodePage862,
	863:   charmap.CodePage863,
	865:   charmap.CodePage865,
	866:   charmap.CodePage866,
	874:   charmap.Windows874,
	1200:  unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM),
	1201:  unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM),
	1250:  charmap.Windows1250,
	1251:  charmap.Windows1251,
	1252:  charmap.Windows1252,
	1253:  charmap.Windows1253,
	1254:  charmap.Windows1254,
	1255:  charmap.Windows1255,
	1256:  charmap.Windows1256,
	1257:  charmap.Windows1257,
	1258:  charmap.Windows1258,
	20866: charmap.KOI8R,
	21866: charmap.KOI8U,
	28591: charmap.ISO8859_1,
	28592: charmap.ISO8859_2,
	28593: charmap.ISO8859_3,
	28594: charmap.ISO8859_4,
	28595: charmap.ISO8859_5,
	28596: charmap.ISO8859_6,
	28597: charmap.ISO8859_7,
	28598: charmap.ISO8859_8,
	28599: charmap.ISO8859_9,
	28605: charmap.ISO8859_15,
}

// DecodeText decodes raw in the given code page and drops trailing NULs.
// Code page 0 is the engine default, Windows-1252; 20127 is plain ASCII and
// 65001 UTF-8. Unknown code pages fall back to Windows-1252.
func DecodeText(raw []byte, codePage uint32) (string, error) {
	var s string
	switch codePage {
	case CodePageUTF8:
		s = strings.ToValidUTF8(string(raw), "�")
	case CodePageASCII:
		b := make([]byte, len(raw))
		for i, c := range raw {
			if c >= 0x80 {
				c = '?'
			}
			b[i] = c
		}
		s = string(b)
	default:
		enc, ok := codePages[codePage]
		if !ok {
			enc = charmap.Windows1252
		}
		out, err := enc.NewDecoder().Bytes(raw)
		if err != nil {
			return "", fmt.Errorf("value: decode code page %d: %w", codePage, err)
		}
		s = string(out)
	}
	return strings.TrimRight(s, "\x00"), nil
}
