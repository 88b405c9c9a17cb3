package document

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/vango-dev/resume/pkg/snapshot"
)

const (
	// ScriptType is the type attribute of snapshot script elements.
	ScriptType = "resume/json"

	// ContainerAttr names the container anchor of a snapshot element.
	ContainerAttr = "data-container"
)

// ErrNotFound is returned when a document has no snapshot for the anchor.
var ErrNotFound = errors.New("document: snapshot not found")

// Write writes the snapshot script element for anchor. An empty anchor uses
// the snapshot's container id.
func Write(w io.Writer, anchor string, snap *snapshot.Snapshot) error {
	body, err := scriptBody(snap)
	if err != nil {
		return err
	}
	if anchor == "" {
		anchor = snap.Container
	}

	if _, err := fmt.Fprintf(w, `<script type="%s" %s="%s">`, ScriptType, ContainerAttr, escapeAttr(anchor)); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if _, err := w.Write([]byte("</script>")); err != nil {
		return err
	}
	return nil
}

// Embed copies the HTML document from r to w with the snapshot element
// appended to the body. An existing element for the same anchor is replaced.
func Embed(w io.Writer, r io.Reader, anchor string, snap *snapshot.Snapshot) error {
	doc, err := html.Parse(r)
	if err != nil {
		return fmt.Errorf("document: parse: %w", err)
	}
	body, err := scriptBody(snap)
	if err != nil {
		return err
	}
	if anchor == "" {
		anchor = snap.Container
	}

	for _, n := range scripts(doc) {
		if attr(n, ContainerAttr) == anchor {
			n.Parent.RemoveChild(n)
		}
	}

	target := findElement(doc, atom.Body)
	if target == nil {
		target = doc
	}
	el := &html.Node{
		Type:     html.ElementNode,
		Data:     "script",
		DataAtom: atom.Script,
		Attr: []html.Attribute{
			{Key: "type", Val: ScriptType},
			{Key: ContainerAttr, Val: anchor},
		},
	}
	el.AppendChild(&html.Node{Type: html.TextNode, Data: string(body)})
	target.AppendChild(el)

	return html.Render(w, doc)
}

// Read returns the snapshot embedded for anchor. An empty anchor selects the
// first snapshot element in document order.
func Read(r io.Reader, anchor string) (*snapshot.Snapshot, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("document: parse: %w", err)
	}
	for _, n := range scripts(doc) {
		if anchor != "" && attr(n, ContainerAttr) != anchor {
			continue
		}
		return parseScript(n)
	}
	if anchor == "" {
		return nil, ErrNotFound
	}
	return nil, fmt.Errorf("%w: container %q", ErrNotFound, anchor)
}

// ReadAll returns every snapshot in the document keyed by anchor.
func ReadAll(r io.Reader) (map[string]*snapshot.Snapshot, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("document: parse: %w", err)
	}
	out := make(map[string]*snapshot.Snapshot)
	for _, n := range scripts(doc) {
		anchor := attr(n, ContainerAttr)
		if _, dup := out[anchor]; dup {
			return nil, fmt.Errorf("document: duplicate container %q", anchor)
		}
		snap, err := parseScript(n)
		if err != nil {
			return nil, err
		}
		out[anchor] = snap
	}
	return out, nil
}

func scriptBody(snap *snapshot.Snapshot) ([]byte, error) {
	data, err := snap.Marshal()
	if err != nil {
		return nil, fmt.Errorf("document: marshal snapshot: %w", err)
	}
	return escapeScript(data), nil
}

func parseScript(n *html.Node) (*snapshot.Snapshot, error) {
	var text strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			text.WriteString(c.Data)
		}
	}
	snap, err := snapshot.Parse([]byte(text.String()))
	if err != nil {
		return nil, fmt.Errorf("document: container %q: %w", attr(n, ContainerAttr), err)
	}
	return snap, nil
}

// scripts returns the snapshot script elements in document order.
func scripts(doc *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Script && attr(n, "type") == ScriptType {
			out = append(out, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
