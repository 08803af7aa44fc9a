// Package htmltable decomposes an HTML document into candidate tables of
// plain cell text.
package htmltable

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/araeLaver/busan-auction-analyzer-sub000/models"
)

const maxColspan = 20

// Parse returns every <table> in document order, outer tables before the
// tables nested in them. The header is the first row holding a <th>, or the
// first row when none does; rows above the header are dropped. Rows are
// padded to a common width.
func Parse(r io.Reader) ([]models.Table, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmltable: parse: %w", err)
	}
	var tables []models.Table
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			case atom.Table:
				if t, ok := buildTable(n); ok {
					tables = append(tables, t)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return tables, nil
}

// ParseString is Parse over a string.
func ParseString(s string) ([]models.Table, error) {
	return Parse(strings.NewReader(s))
}

type row struct {
	cells  []string
	header bool
}

func buildTable(table *html.Node) (models.Table, bool) {
	var rows []row
	for _, tr := range tableRows(table) {
		var r row
		for c := tr.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode || (c.DataAtom != atom.Td && c.DataAtom != atom.Th) {
				continue
			}
			if c.DataAtom == atom.Th {
				r.header = true
			}
			r.cells = append(r.cells, cellText(c))
			for i := 1; i < colspan(c); i++ {
				r.cells = append(r.cells, "")
			}
		}
		if !blank(r.cells) {
			rows = append(rows, r)
		}
	}
	if len(rows) == 0 {
		return models.Table{}, false
	}

	// Rows above the header, such as a caption in a spanning cell, are dropped.
	for i, r := range rows {
		if r.header {
			rows = rows[i:]
			break
		}
	}

	width := 0
	for _, r := range rows {
		if len(r.cells) > width {
			width = len(r.cells)
		}
	}

	t := models.Table{Header: pad(rows[0].cells, width)}
	for _, r := range rows[1:] {
		t.Rows = append(t.Rows, pad(r.cells, width))
	}
	return t, true
}

// tableRows returns the <tr> elements that belong to table itself, looking
// through thead/tbody/tfoot but not into nested tables.
func tableRows(table *html.Node) []*html.Node {
	var out []*html.Node
	for c := table.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.DataAtom {
		case atom.Tr:
			out = append(out, c)
		case atom.Thead, atom.Tbody, atom.Tfoot:
			for tr := c.FirstChild; tr != nil; tr = tr.NextSibling {
				if tr.Type == html.ElementNode && tr.DataAtom == atom.Tr {
					out = append(out, tr)
				}
			}
		}
	}
	return out
}

// cellText is the whitespace-collapsed text of a cell, without the text of
// nested tables or scripts.
func cellText(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			parts = append(parts, strings.Fields(n.Data)...)
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Table, atom.Script, atom.Style:
				return
			case atom.Br:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, " ")
}

func colspan(n *html.Node) int {
	for _, a := range n.Attr {
		if a.Key != "colspan" {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(a.Val))
		if err != nil || v < 1 {
			return 1
		}
		if v > maxColspan {
			return maxColspan
		}
		return v
	}
	return 1
}

func blank(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}

func pad(cells []string, width int) []string {
	out := make([]string, width)
	copy(out, cells)
	return out
}
