package jfr

import "strconv"

const (
	metadataTypeID   = 0
	checkpointTypeID = 1
)

// element is a node of the metadata tree. Names and attribute keys and
// values are written as indices into the section's string table.
type element struct {
	name     string
	attrs    [][2]string
	children []*element
}

func (e *element) add(name string, attrs ...[2]string) *element {
	c := &element{name: name, attrs: attrs}
	e.children = append(e.children, c)
	return c
}

func (e *element) set(key, value string) { e.attrs = append(e.attrs, [2]string{key, value}) }

func attr(key, value string) [2]string { return [2]string{key, value} }

func idAttr(key string, id int64) [2]string { return attr(key, strconv.FormatInt(id, 10)) }

// metadataTree describes types as class elements. Every field and
// annotation type must already be resolved.
func metadataTree(types []*baseType) (*element, error) {
	root := &element{name: "root"}
	meta := root.add("metadata")
	for _, t := range types {
		cls := meta.add("class", idAttr("id", t.id), attr("name", t.name))
		if t.supertype != "" {
			cls.set("superType", t.supertype)
		}
		if t.IsSimple() {
			cls.set("simpleType", "true")
		}
		if err := addAnnotations(cls, t.annotations); err != nil {
			return nil, err
		}
		for _, f := range t.fields {
			ft, err := concrete(f.Type)
			if err != nil {
				return nil, err
			}
			fe := cls.add("field", attr("name", f.Name), idAttr("class", ft.id))
			if ft.pooled {
				fe.set("constantPool", "true")
			}
			if f.Array {
				fe.set("dimension", "1")
			}
			if err := addAnnotations(fe, f.Annotations); err != nil {
				return nil, err
			}
		}
	}
	root.add("region", attr("locale", "en_US"), attr("gmtOffset", "0"))
	return root, nil
}

func addAnnotations(e *element, anns []Annotation) error {
	for _, a := range anns {
		at, err := concrete(a.Type)
		if err != nil {
			return err
		}
		ae := e.add("annotation", idAttr("class", at.id))
		if a.Value != "" {
			ae.set("value", a.Value)
		}
	}
	return nil
}

// encodeMetadata writes the metadata section: header fields, the string
// table in first-use order, then the element tree.
func encodeMetadata(types []*baseType, startTicks, durationTicks int64) ([]byte, error) {
	root, err := metadataTree(types)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int)
	var table []string
	intern := func(s string) {
		if _, ok := index[s]; !ok {
			index[s] = len(table)
			table = append(table, s)
		}
	}
	var collect func(e *element)
	collect = func(e *element) {
		intern(e.name)
		for _, a := range e.attrs {
			intern(a[0])
			intern(a[1])
		}
		for _, c := range e.children {
			collect(c)
		}
	}
	collect(root)

	w := &lebWriter{}
	w.writeVarint(metadataTypeID)
	w.writeLong(startTicks)
	w.writeLong(durationTicks)
	w.writeLong(1)
	w.writeInt(int32(len(table)))
	for _, s := range table {
		w.writeString(s)
	}
	var write func(e *element)
	write = func(e *element) {
		w.writeInt(int32(index[e.name]))
		w.writeInt(int32(len(e.attrs)))
		for _, a := range e.attrs {
			w.writeInt(int32(index[a[0]]))
			w.writeInt(int32(index[a[1]]))
		}
		w.writeInt(int32(len(e.children)))
		for _, c := range e.children {
			write(c)
		}
	}
	write(root)
	return appendSized(nil, w.buf), nil
}
