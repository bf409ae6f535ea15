// Package schema parses raw pipe-delimited bulk files into typed rows
// against versioned header definitions.
package schema

import (
	_ "embed"
	"encoding/csv"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/campaignfin/internal/model"
)

//go:embed headers.yaml
var defaultHeaders []byte

// FieldType is the declared type of a column.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeDecimal FieldType = "decimal"
	TypeDate    FieldType = "date"
	TypeYear    FieldType = "year"
	TypeInt     FieldType = "int"
)

// Table names of the bulk files the pipeline reads.
const (
	TableCandidates   = "cn"
	TableCommittees   = "cm"
	TableLinkages     = "ccl"
	TableIndividual   = "itcont"
	TableCmteToCmte   = "itoth"
	TableOperatingExp = "oppexp"
)

type headerFile struct {
	Aliases map[string]string    `yaml:"aliases"`
	Tables  map[string]tableSpec `yaml:"tables"`
}

type tableSpec struct {
	Description string               `yaml:"description"`
	Types       map[string]FieldType `yaml:"types"`
	Versions    []versionSpec        `yaml:"versions"`
}

type versionSpec struct {
	ID      string   `yaml:"id"`
	Columns []string `yaml:"columns"`
}

// Layout is one resolved header version of one table.
type Layout struct {
	Table   string
	Version string
	Columns []string
	Types   []FieldType
	index   map[string]int
}

// Index returns the position of a column, or -1.
func (l *Layout) Index(col string) int {
	if i, ok := l.index[col]; ok {
		return i
	}
	return -1
}

// Registry holds every known layout keyed by table.
type Registry struct {
	aliases map[string]string
	layouts map[string][]*Layout
}

// DefaultRegistry returns the registry built from the embedded layouts.
func DefaultRegistry() *Registry {
	r, err := ParseRegistry(defaultHeaders)
	if err != nil {
		panic(err)
	}
	return r
}

// LoadRegistry reads a layout file from disk. An empty path yields the
// embedded default.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "schema: read header spec %s", path)
	}
	return ParseRegistry(data)
}

// ParseRegistry builds a registry from YAML layout definitions.
func ParseRegistry(data []byte) (*Registry, error) {
	var hf headerFile
	if err := yaml.Unmarshal(data, &hf); err != nil {
		return nil, eris.Wrap(err, "schema: parse header spec")
	}

	r := &Registry{
		aliases: make(map[string]string, len(hf.Aliases)),
		layouts: make(map[string][]*Layout, len(hf.Tables)),
	}
	for k, v := range hf.Aliases {
		r.aliases[canonicalColumn(k)] = canonicalColumn(v)
	}

	for table, spec := range hf.Tables {
		if len(spec.Versions) == 0 {
			return nil, eris.Errorf("schema: table %s has no versions", table)
		}
		for _, v := range spec.Versions {
			l := &Layout{
				Table:   table,
				Version: v.ID,
				Columns: make([]string, len(v.Columns)),
				Types:   make([]FieldType, len(v.Columns)),
				index:   make(map[string]int, len(v.Columns)),
			}
			for i, c := range v.Columns {
				c = canonicalColumn(c)
				if _, dup := l.index[c]; dup {
					return nil, eris.Errorf("schema: %s %s: duplicate column %s", table, v.ID, c)
				}
				l.Columns[i] = c
				l.index[c] = i
				l.Types[i] = TypeString
				if t, ok := spec.Types[c]; ok {
					l.Types[i] = t
				}
			}
			r.layouts[table] = append(r.layouts[table], l)
		}
	}

	return r, nil
}

// Tables returns the known table names, sorted.
func (r *Registry) Tables() []string {
	out := make([]string, 0, len(r.layouts))
	for t := range r.layouts {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Latest returns the newest layout for a table. It is used for files that
// ship without a header.
func (r *Registry) Latest(table string) (*Layout, error) {
	ls := r.layouts[table]
	if len(ls) == 0 {
		return nil, eris.Wrapf(model.ErrSchemaMismatch, "schema: unknown table %s", table)
	}
	return ls[len(ls)-1], nil
}

// Resolve picks the layout whose column list equals header after alias
// folding. Any drift from every known version is a SchemaMismatch.
func (r *Registry) Resolve(table string, header []string) (*Layout, error) {
	ls := r.layouts[table]
	if len(ls) == 0 {
		return nil, eris.Wrapf(model.ErrSchemaMismatch, "schema: unknown table %s", table)
	}

	cols := make([]string, len(header))
	for i, h := range header {
		c := canonicalColumn(h)
		if a, ok := r.aliases[c]; ok {
			c = a
		}
		cols[i] = c
	}

	for i := len(ls) - 1; i >= 0; i-- {
		if slices.Equal(ls[i].Columns, cols) {
			return ls[i], nil
		}
	}

	return nil, eris.Wrapf(model.ErrSchemaMismatch,
		"schema: %s header matches no known version (%d columns: %s)",
		table, len(cols), strings.Join(cols, ","))
}

// ReadHeader reads the single comma-separated header line that accompanies
// each bulk file.
func ReadHeader(rd io.Reader) ([]string, error) {
	cr := csv.NewReader(rd)
	cr.FieldsPerRecord = -1
	rec, err := cr.Read()
	if err == io.EOF {
		return nil, eris.Wrap(model.ErrSchemaMismatch, "schema: empty header file")
	}
	if err != nil {
		return nil, eris.Wrap(err, "schema: read header")
	}
	return rec, nil
}

func canonicalColumn(s string) string {
	return strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(s, "\ufeff")))
}
