package ingestion

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Parser turns the bytes of one data file into a Document.
type Parser interface {
	Parse(ctx context.Context, file SourceFile) (*Document, error)
}

// Document is the parsed form of a file. Exactly one of Table and Tree is set,
// matching Format.
type Document struct {
	Path   string
	Format Format
	Class  Classification
	Table  *Table
	Tree   *Node
}

// Table holds CSV content. Each row maps header names to cell values.
type Table struct {
	Header []string
	Rows   []map[string]string
}

// Node is a generic XML element.
type Node struct {
	Name     string
	Attrs    map[string]string
	Text     string
	Children []*Node
}

// Find returns the direct children named name.
func (n *Node) Find(name string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	for _, child := range n.Children {
		if child.Name == name {
			out = append(out, child)
		}
	}
	return out
}

var registeredParsers = map[string]Parser{
	".csv": csvParser{},
	".xml": xmlParser{},
}

// ResolveParsers builds the extension to parser table for one run. Every
// allowed extension must have a parser.
func ResolveParsers(exts []string) (map[string]Parser, error) {
	exts = NormalizeExtensions(exts)
	if len(exts) == 0 {
		return nil, &ConfigurationError{Reason: "no allowed extensions"}
	}

	table := make(map[string]Parser, len(exts))
	for _, ext := range exts {
		p, ok := registeredParsers[ext]
		if !ok {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("no parser for extension %q", ext)}
		}
		table[ext] = p
	}
	return table, nil
}

type csvParser struct{}

func (csvParser) Parse(_ context.Context, file SourceFile) (*Document, error) {
	content := bytes.TrimPrefix(file.Content, []byte("\ufeff"))
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, &FormatError{Path: file.Path, Format: FormatCSV, Err: err}
	}

	table := &Table{}
	if len(records) > 0 {
		table.Header = records[0]
		table.Rows = make([]map[string]string, 0, len(records)-1)
		for _, record := range records[1:] {
			table.Rows = append(table.Rows, rowMap(table.Header, record))
		}
	}

	return &Document{Path: file.Path, Format: FormatCSV, Table: table}, nil
}

// rowMap pairs a record with the header. Missing trailing cells become empty
// strings; cells beyond the header are kept under "column<N>" (1-based).
func rowMap(header, record []string) map[string]string {
	row := make(map[string]string, len(header))
	for i, name := range header {
		if i < len(record) {
			row[name] = record[i]
		} else {
			row[name] = ""
		}
	}
	for i := len(header); i < len(record); i++ {
		row[fmt.Sprintf("column%d", i+1)] = record[i]
	}
	return row
}

type xmlParser struct{}

func (xmlParser) Parse(_ context.Context, file SourceFile) (*Document, error) {
	root, err := decodeTree(bytes.NewReader(file.Content))
	if err != nil {
		return nil, &FormatError{Path: file.Path, Format: FormatXML, Err: err}
	}
	return &Document{Path: file.Path, Format: FormatXML, Tree: root}, nil
}

func decodeTree(r io.Reader) (*Node, error) {
	dec := xml.NewDecoder(r)

	var (
		root  *Node
		stack []*Node
		text  []*strings.Builder
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if root != nil && len(stack) == 0 {
				return nil, fmt.Errorf("multiple root elements: <%s>", t.Name.Local)
			}
			node := &Node{Name: t.Name.Local}
			if len(t.Attr) > 0 {
				node.Attrs = make(map[string]string, len(t.Attr))
				for _, attr := range t.Attr {
					node.Attrs[attr.Name.Local] = attr.Value
				}
			}
			if len(stack) == 0 {
				root = node
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, node)
			}
			stack = append(stack, node)
			text = append(text, &strings.Builder{})
		case xml.EndElement:
			last := len(stack) - 1
			stack[last].Text = strings.TrimSpace(text[last].String())
			stack = stack[:last]
			text = text[:last]
		case xml.CharData:
			if len(text) > 0 {
				text[len(text)-1].Write(t)
			}
		}
	}

	if root == nil {
		return nil, errors.New("no root element")
	}
	return root, nil
}

// BuildCSV writes a table back to CSV with "\n" line endings. Without a header
// the columns of the first row are used in sorted order.
func BuildCSV(table Table) ([]byte, error) {
	header := table.Header
	if len(header) == 0 {
		if len(table.Rows) == 0 {
			return nil, errors.New("build csv: empty table")
		}
		for name := range table.Rows[0] {
			header = append(header, name)
		}
		sort.Strings(header)
	}

	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("build csv: %w", err)
	}
	record := make([]string, len(header))
	for _, row := range table.Rows {
		for i, name := range header {
			record[i] = row[name]
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("build csv: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("build csv: %w", err)
	}
	return buf.Bytes(), nil
}
