// Package screen assigns stable identities to UI states. A screen is
// identified by a composite hash over its normalized UI tree and the
// foreground activity; volatile attributes are stripped so the same
// logical screen hashes identically across visits.
package screen

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"sort"
	"strings"
)

// volatileAttrs change between visits of the same logical screen and
// are excluded from the fingerprint.
var volatileAttrs = map[string]bool{
	"text":      true,
	"bounds":    true,
	"index":     true,
	"instance":  true,
	"focused":   true,
	"selected":  true,
	"checked":   true,
	"enabled":   true,
	"displayed": true,
	"focusable": true,
}

// Fingerprint computes the composite hash of a UI tree and activity.
// The result is a 16-hex-character digest, stable across attribute
// ordering and volatile attribute churn.
func Fingerprint(uiTree, activity string) string {
	var b strings.Builder
	b.WriteString(activity)
	b.WriteByte('\n')
	normalizeTree(uiTree, &b)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:16]
}

// normalizeTree walks the XML token stream and writes a canonical
// one-line-per-element rendering. Parse errors end the walk; whatever
// was consumed still contributes, so a truncated dump hashes
// deterministically.
func normalizeTree(uiTree string, b *strings.Builder) {
	dec := xml.NewDecoder(strings.NewReader(uiTree))
	dec.Strict = false
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return
		}
		switch t := tok.(type) {
		case xml.StartElement:
			b.WriteString(strings.Repeat(" ", depth))
			b.WriteString(t.Name.Local)

			attrs := make([]string, 0, len(t.Attr))
			for _, a := range t.Attr {
				if volatileAttrs[a.Name.Local] {
					continue
				}
				attrs = append(attrs, a.Name.Local+"="+a.Value)
			}
			sort.Strings(attrs)
			for _, a := range attrs {
				b.WriteByte(' ')
				b.WriteString(a)
			}
			b.WriteByte('\n')
			depth++
		case xml.EndElement:
			depth--
		}
	}
}
