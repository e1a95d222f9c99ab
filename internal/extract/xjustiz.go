package extract

import (
	"bytes"
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/registry-crawler/internal/model"
)

// XJustizNamespace is the namespace of structured register content (SI).
const XJustizNamespace = "http://www.xjustiz.de"

// Role code of a managing director in a beteiligung.
const roleGeschaeftsfuehrer = "086"

// Country code used by XJustiz for Germany.
const countryGermany = "000"

// node is a minimal element tree. Matching is done on local names so
// documents with and without namespace prefixes read the same way.
type node struct {
	name     string
	text     string
	comments []string
	children []*node
}

func (n *node) child(name string) *node {
	if n == nil {
		return nil
	}
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// find returns the first descendant (depth first) named name.
func (n *node) find(name string) *node {
	if n == nil {
		return nil
	}
	for _, c := range n.children {
		if c.name == name {
			return c
		}
		if hit := c.find(name); hit != nil {
			return hit
		}
	}
	return nil
}

// findAll returns every descendant named name.
func (n *node) findAll(name string) []*node {
	if n == nil {
		return nil
	}
	var out []*node
	for _, c := range n.children {
		if c.name == name {
			out = append(out, c)
		}
		out = append(out, c.findAll(name)...)
	}
	return out
}

func (n *node) value() string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.text)
}

// allText concatenates the text and comments of the subtree.
func (n *node) allText() string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(n.text)
	for _, c := range n.comments {
		b.WriteString(" ")
		b.WriteString(c)
	}
	for _, c := range n.children {
		b.WriteString(" ")
		b.WriteString(c.allText())
	}
	return b.String()
}

// hasCode reports whether any descendant code element equals code.
func (n *node) hasCode(code string) bool {
	for _, c := range n.findAll("code") {
		if c.value() == code {
			return true
		}
	}
	return false
}

func parseTree(r io.Reader) (*node, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "xjustiz: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}

	root := &node{}
	stack := []*node{root}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "xjustiz: decode")
		}
		top := stack[len(stack)-1]
		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{name: t.Name.Local}
			top.children = append(top.children, n)
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			top.text += string(t)
		case xml.Comment:
			top.comments = append(top.comments, string(bytes.TrimSpace(t)))
		}
	}
	if len(root.children) == 0 {
		return nil, eris.New("xjustiz: empty document")
	}
	return root.children[0], nil
}

// XJustiz extracts fields from a structured register content document.
func XJustiz(r io.Reader) (*Extraction, error) {
	root, err := parseTree(r)
	if err != nil {
		return nil, err
	}
	e := NewExtraction()

	if reg := root.find("register"); reg != nil {
		typ := reg.child("code").value()
		num := root.find("laufendeNummer").value()
		if typ != "" && num != "" {
			e.Set(model.FieldRegisternummer, model.StripSpaces(typ+num))
		}
	}

	if court := root.find("gericht"); court != nil {
		code := court.find("code").value()
		if c, ok := LookupCourt(code); ok {
			e.Set(model.FieldHandelsregister, c.City)
			e.Set(model.FieldGerichtsstand, c.Name)
		} else if code != "" {
			e.Extras["gericht_code"] = code
		}
	}

	var directors []string
	for _, b := range root.findAll("beteiligung") {
		if !b.hasCode(roleGeschaeftsfuehrer) {
			continue
		}
		first := b.find("vorname").value()
		last := b.find("nachname").value()
		if name := strings.TrimSpace(first + " " + last); name != "" {
			directors = append(directors, name)
		}
	}
	if len(directors) > 0 {
		e.Set(model.FieldGeschaeftsfuehrer, directors)
	}

	if addr := root.find("anschrift"); addr != nil {
		street, no := addr.find("strasse").value(), addr.find("hausnummer").value()
		plz, city := addr.find("postleitzahl").value(), addr.find("ort").value()
		if street != "" && no != "" && plz != "" && city != "" {
			e.Set(model.FieldGeschaeftsadresse, street+" "+no+", "+plz+" "+city)
		}
		if addr.child("staat").find("code").value() == countryGermany {
			e.Set(model.FieldLandDesHauptsitzes, "Deutschland")
		}
	}
	if e.Fields[model.FieldLandDesHauptsitzes] == nil {
		for _, staat := range root.findAll("staat") {
			if strings.Contains(staat.allText(), "Deutschland") {
				e.Set(model.FieldLandDesHauptsitzes, "Deutschland")
				break
			}
		}
	}

	purpose := collapseSpaces(root.find("basisdatenRegister").child("gegenstand").value())
	if purpose != "" && purpose != "Strukturierter Registerinhalt" {
		e.Set(model.FieldUnternehmenszweck, purpose)
		if mentions34c(purpose) {
			e.Set(model.FieldParagraph34GewO, true)
		}
	}

	if raw := root.find("stammkapital").child("zahl").value(); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			e.Extras["stammkapital"] = v
		}
	}
	if v := root.find("letzteEintragung").value(); v != "" {
		e.Extras["letzte_eintragung"] = v
	}
	if v := root.find("letzteAenderung").find("aenderungsdatum").value(); v != "" {
		e.Extras["letzte_aenderung"] = v
	}
	if v := root.find("abrufdatum").value(); v != "" {
		e.Extras["abrufdatum"] = v
	}
	if v := root.find("geburtsdatum").value(); v != "" {
		e.Extras["geburtsdatum_geschaeftsfuehrer"] = v
	}
	if v := root.find("bezeichnung.aktuell").value(); v != "" {
		e.Extras["bezeichnung"] = v
	}
	return e, nil
}
