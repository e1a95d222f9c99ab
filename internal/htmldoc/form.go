package htmldoc

import (
	"net/url"

	"github.com/PuerkitoBio/goquery"
)

// Form is the submittable state of a form element.
type Form struct {
	ID     string
	Action string
	Method string
	Values url.Values
}

// ReadForm collects the current values of the controls inside f: inputs
// (checked boxes and radios only), selected options and textareas. Submit
// buttons are left out; callers add the one they press.
func ReadForm(f *goquery.Selection) *Form {
	f = f.First()
	form := &Form{
		ID:     f.AttrOr("id", ""),
		Action: f.AttrOr("action", ""),
		Method: f.AttrOr("method", ""),
		Values: url.Values{},
	}

	f.Find("input[name]").Each(func(_ int, in *goquery.Selection) {
		switch in.AttrOr("type", "") {
		case "submit", "button", "image", "reset", "file":
			return
		case "checkbox", "radio":
			if _, ok := in.Attr("checked"); !ok {
				return
			}
		}
		form.Values.Add(in.AttrOr("name", ""), in.AttrOr("value", ""))
	})
	f.Find("textarea[name]").Each(func(_ int, ta *goquery.Selection) {
		form.Values.Add(ta.AttrOr("name", ""), Text(ta))
	})
	f.Find("select[name]").Each(func(_ int, sel *goquery.Selection) {
		chosen := sel.Find("option[selected]").First()
		if chosen.Length() == 0 {
			chosen = sel.Find("option").First()
		}
		if chosen.Length() == 0 {
			return
		}
		v, ok := chosen.Attr("value")
		if !ok {
			v = Text(chosen)
		}
		form.Values.Set(sel.AttrOr("name", ""), v)
	})
	return form
}

// FindForm returns the form with the given id, or nil.
func FindForm(doc *goquery.Document, id string) *Form {
	f := doc.Find("form").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.AttrOr("id", "") == id
	})
	if f.Length() == 0 {
		return nil
	}
	return ReadForm(f)
}
