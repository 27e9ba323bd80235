// Package doccache holds the latest known state of DDP documents.
//
// A Cache is owned by exactly one session goroutine and is not safe for
// concurrent use. Readers on other goroutines get a Clone.
package doccache

import (
	"sort"
)

type Fields map[string]any

type Document struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Fields     Fields `json:"fields"`
}

type Cache struct {
	collections map[string]map[string]Fields
}

func New() *Cache {
	return &Cache{collections: make(map[string]map[string]Fields)}
}

func (c *Cache) coll(name string) map[string]Fields {
	docs, ok := c.collections[name]
	if !ok {
		docs = make(map[string]Fields)
		c.collections[name] = docs
	}
	return docs
}

// Added stores the document. An existing document with the same id is replaced.
func (c *Cache) Added(collection, id string, fields Fields) {
	c.coll(collection)[id] = copyFields(fields)
}

// Changed merges fields into the document (top level keys are overwritten)
// and deletes the cleared keys. An unknown id is treated as an add, the
// return value reports whether that happened.
func (c *Cache) Changed(collection, id string, fields Fields, cleared []string) bool {
	docs := c.coll(collection)
	doc, ok := docs[id]
	if !ok {
		doc = Fields{}
		docs[id] = doc
	}
	for k, v := range fields {
		doc[k] = copyValue(v)
	}
	for _, k := range cleared {
		delete(doc, k)
	}
	return !ok
}

// Removed deletes the document and reports whether it was present
func (c *Cache) Removed(collection, id string) bool {
	docs, ok := c.collections[collection]
	if !ok {
		return false
	}
	if _, ok := docs[id]; !ok {
		return false
	}
	delete(docs, id)
	return true
}

// Get returns a copy of the document
func (c *Cache) Get(collection, id string) (Document, bool) {
	doc, ok := c.collections[collection][id]
	if !ok {
		return Document{}, false
	}
	return Document{Collection: collection, ID: id, Fields: copyFields(doc)}, true
}

// Collection returns copies of all documents of a collection ordered by id
func (c *Cache) Collection(collection string) []Document {
	docs := c.collections[collection]
	ret := make([]Document, 0, len(docs))
	for id, f := range docs {
		ret = append(ret, Document{Collection: collection, ID: id, Fields: copyFields(f)})
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID < ret[j].ID })
	return ret
}

func (c *Cache) Collections() []string {
	ret := make([]string, 0, len(c.collections))
	for k := range c.collections {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}

func (c *Cache) Len(collection string) int {
	return len(c.collections[collection])
}

func (c *Cache) Clear() {
	c.collections = make(map[string]map[string]Fields)
}

// Clone returns a deep copy
func (c *Cache) Clone() *Cache {
	ret := New()
	for name, docs := range c.collections {
		target := ret.coll(name)
		for id, f := range docs {
			target[id] = copyFields(f)
		}
	}
	return ret
}

func copyFields(f Fields) Fields {
	ret := make(Fields, len(f))
	for k, v := range f {
		ret[k] = copyValue(v)
	}
	return ret
}

func copyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		ret := make(map[string]any, len(x))
		for k, v := range x {
			ret[k] = copyValue(v)
		}
		return ret
	case Fields:
		return copyFields(x)
	case []any:
		ret := make([]any, len(x))
		for i := range x {
			ret[i] = copyValue(x[i])
		}
		return ret
	default:
		return v
	}
}
