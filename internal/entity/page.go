package entity

// Page is a wiki page in one locale.
type Page struct {
	Base
	Body string
}

func (p *Page) ID() string { return p.PageID() }
func (p *Page) Kind() Kind { return KindPage }
func (*Page) sealed()      {}

func buildPage(p *Page) *Document {
	d := &Document{ID: p.ID(), Kind: KindPage}
	d.addBase(p.Base)
	d.text(FieldFullText, joinText(append(p.fullText(), p.Body)), false)
	return d
}
