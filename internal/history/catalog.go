package history

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/*.json
var schemaFS embed.FS

// Variant registers one details type with the catalog.
type Variant struct {
	Tag    Tag
	Schema []byte
	New    func() Details
}

type entry struct {
	tag    Tag
	schema *jsonschema.Schema
	known  memberSet
	newFn  func() Details
}

// Catalog maps tags to compiled schemas and constructors. It is immutable after
// construction and safe for concurrent use.
type Catalog struct {
	entries map[Tag]*entry
}

func builtinVariants() []Variant {
	return []Variant{
		{Tag: TagReadRaw, New: func() Details { return &ReadRaw{} }},
		{Tag: TagReadModified, New: func() Details { return &ReadModified{} }},
		{Tag: TagReadAtTime, New: func() Details { return &ReadAtTime{} }},
		{Tag: TagReadProcessed, New: func() Details { return &ReadProcessed{} }},
		{Tag: TagReadEvents, New: func() Details { return &ReadEvents{} }},
		{Tag: TagInsertValues, New: func() Details { return &InsertValues{} }},
		{Tag: TagReplaceValues, New: func() Details { return &ReplaceValues{} }},
		{Tag: TagDeleteValues, New: func() Details { return &DeleteValues{} }},
		{Tag: TagDeleteRange, New: func() Details { return &DeleteRange{} }},
		{Tag: TagReadAnnotations, New: func() Details { return &ReadAnnotations{} }},
		{Tag: TagUpsertValues, New: func() Details { return &UpsertValues{} }},
		{Tag: TagInsertEvents, New: func() Details { return &InsertEvents{} }},
		{Tag: TagReplaceEvents, New: func() Details { return &ReplaceEvents{} }},
		{Tag: TagUpsertEvents, New: func() Details { return &UpsertEvents{} }},
		{Tag: TagDeleteEvents, New: func() Details { return &DeleteEvents{} }},
	}
}

// DefaultCatalog compiles the embedded schemas of all built-in variants.
func DefaultCatalog() (*Catalog, error) {
	variants := builtinVariants()
	for i := range variants {
		data, err := schemaFS.ReadFile("schema/" + string(variants[i].Tag) + ".json")
		if err != nil {
			return nil, fmt.Errorf("failed to read schema for %s: %w", variants[i].Tag, err)
		}
		variants[i].Schema = data
	}
	return NewCatalog(variants...)
}

// NewCatalog compiles the given variants. Tags must be unique.
func NewCatalog(variants ...Variant) (*Catalog, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true

	c := &Catalog{entries: make(map[Tag]*entry, len(variants))}
	for _, v := range variants {
		if v.Tag == "" || v.New == nil {
			return nil, fmt.Errorf("variant %q is incomplete", v.Tag)
		}
		if _, dup := c.entries[v.Tag]; dup {
			return nil, fmt.Errorf("duplicate variant tag %q", v.Tag)
		}
		if got := v.New().Tag(); got != v.Tag {
			return nil, fmt.Errorf("variant %q constructs details tagged %q", v.Tag, got)
		}

		url := string(v.Tag) + ".json"
		if err := compiler.AddResource(url, bytes.NewReader(v.Schema)); err != nil {
			return nil, fmt.Errorf("failed to add schema resource %s: %w", url, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", url, err)
		}

		known, err := topLevelProperties(v.Schema)
		if err != nil {
			return nil, fmt.Errorf("failed to read properties of %s: %w", url, err)
		}

		c.entries[v.Tag] = &entry{tag: v.Tag, schema: schema, known: known, newFn: v.New}
	}
	return c, nil
}

// Tags lists the registered tags in lexical order.
func (c *Catalog) Tags() []Tag {
	tags := make([]Tag, 0, len(c.entries))
	for t := range c.entries {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

func (c *Catalog) Has(tag Tag) bool {
	_, ok := c.entries[tag]
	return ok
}

// KindOf reports whether tag reads values, reads events or updates history.
func (c *Catalog) KindOf(tag Tag) (Kind, bool) {
	e, ok := c.entries[tag]
	if !ok {
		return 0, false
	}
	return e.newFn().Kind(), true
}

func (c *Catalog) lookup(tag Tag) (*entry, bool) {
	e, ok := c.entries[tag]
	return e, ok
}

func topLevelProperties(schema []byte) (memberSet, error) {
	var doc struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil, err
	}
	known := make(memberSet, len(doc.Properties))
	for name := range doc.Properties {
		known[name] = struct{}{}
	}
	return known, nil
}
