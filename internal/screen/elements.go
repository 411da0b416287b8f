package screen

import (
	"encoding/json"
	"encoding/xml"
	"regexp"
	"strconv"
	"strings"
)

// Element is one interactive node of the UI tree, simplified for the
// model prompt.
type Element struct {
	Class       string `json:"class,omitempty"`
	ResourceID  string `json:"resource_id,omitempty"`
	Text        string `json:"text,omitempty"`
	ContentDesc string `json:"content_desc,omitempty"`
	Bounds      []int  `json:"bounds,omitempty"` // x1,y1,x2,y2
	Clickable   bool   `json:"clickable,omitempty"`
	Scrollable  bool   `json:"scrollable,omitempty"`
	Password    bool   `json:"password,omitempty"`
}

var boundsRe = regexp.MustCompile(`\[(-?\d+),(-?\d+)\]\[(-?\d+),(-?\d+)\]`)

func parseBounds(s string) []int {
	m := boundsRe.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	out := make([]int, 4)
	for i := 0; i < 4; i++ {
		out[i], _ = strconv.Atoi(m[i+1])
	}
	return out
}

// SimplifyTree extracts the elements a model can act on: anything
// clickable, scrollable, or carrying text or a description. Container
// noise is dropped.
func SimplifyTree(uiTree string) []Element {
	dec := xml.NewDecoder(strings.NewReader(uiTree))
	dec.Strict = false

	var out []Element
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		var el Element
		for _, a := range start.Attr {
			switch a.Name.Local {
			case "class":
				el.Class = a.Value
			case "resource-id":
				el.ResourceID = shortResourceID(a.Value)
			case "text":
				el.Text = a.Value
			case "content-desc":
				el.ContentDesc = a.Value
			case "bounds":
				el.Bounds = parseBounds(a.Value)
			case "clickable":
				el.Clickable = a.Value == "true"
			case "scrollable":
				el.Scrollable = a.Value == "true"
			case "password":
				el.Password = a.Value == "true"
			}
		}
		if el.Clickable || el.Scrollable || el.Text != "" || el.ContentDesc != "" {
			out = append(out, el)
		}
	}
	return out
}

// shortResourceID strips the package prefix so prompts stay compact
// and the model echoes back the bare id the device layer re-qualifies.
func shortResourceID(id string) string {
	if i := strings.Index(id, ":id/"); i >= 0 {
		return id[i+len(":id/"):]
	}
	return id
}

// ElementsJSON renders the simplified tree for the prompt.
func ElementsJSON(uiTree string) string {
	els := SimplifyTree(uiTree)
	if len(els) == 0 {
		return "[]"
	}
	data, err := json.MarshalIndent(els, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(data)
}
