package models

// FieldType enumerates the primitive column types the CSV reader can
// cast to.
type FieldType string

const (
	FieldTypeString   FieldType = "string"
	FieldTypeInt      FieldType = "int"
	FieldTypeFloat    FieldType = "double"
	FieldTypeBool     FieldType = "boolean"
	FieldTypeDateTime FieldType = "datetime"
	FieldTypeID       FieldType = "id"
)

// FieldDescribe describes one field of a migrated object as reported by
// the store's metadata service (or the file store's type map).
type FieldDescribe struct {
	Name       string
	Type       FieldType
	Label      string
	Length     int
	Creatable  bool
	Updateable bool
	AutoNumber bool
	NameField  bool

	// IsReference marks lookup and master-detail fields. ReferencedTo
	// lists the possible target objects; more than one entry means the
	// lookup is polymorphic.
	IsReference    bool
	ReferencedTo   []string
	IsMasterDetail bool

	// Person/business split: fields restricted to one sub-entity carry
	// the role they belong to, empty means both.
	PersonRole string
}

// Writable reports whether the field may appear in an insert or update
// payload at all.
func (f FieldDescribe) Writable() bool {
	return f.Creatable || f.Updateable
}

// ReferencesObject reports whether the field can point at the named
// object.
func (f FieldDescribe) ReferencesObject(object string) bool {
	for _, ref := range f.ReferencedTo {
		if ref == object {
			return true
		}
	}
	return false
}

// Person sub-entity roles used by split objects.
const (
	PersonRolePerson   = "person"
	PersonRoleBusiness = "business"
)

// ObjectDescribe describes a migrated object's schema.
type ObjectDescribe struct {
	Name     string
	Label    string
	Readonly bool

	// Fields maps field name to its describe. Lookup by name is the hot
	// path during reconciliation.
	Fields map[string]FieldDescribe

	// IsPersonEnabled marks objects split into person/business
	// sub-entities; DiscriminatorField names the column holding the role.
	IsPersonEnabled    bool
	DiscriminatorField string
}

// Field returns the describe for the named field and whether it exists.
func (d *ObjectDescribe) Field(name string) (FieldDescribe, bool) {
	f, ok := d.Fields[name]
	return f, ok
}

// FieldNames returns all known field names in unspecified order.
func (d *ObjectDescribe) FieldNames() []string {
	out := make([]string, 0, len(d.Fields))
	for name := range d.Fields {
		out = append(out, name)
	}
	return out
}

// LookupFields returns the reference fields of the object.
func (d *ObjectDescribe) LookupFields() []FieldDescribe {
	var out []FieldDescribe
	for _, f := range d.Fields {
		if f.IsReference {
			out = append(out, f)
		}
	}
	return out
}
