package domain

// Column describes one column of a table, possibly nested for struct types.
type Column struct {
	Name            string     `json:"name"`
	DisplayName     string     `json:"displayName,omitempty"`
	Description     string     `json:"description,omitempty"`
	DataType        string     `json:"dataType"`
	DataLength      *int       `json:"dataLength,omitempty"`
	Precision       *int       `json:"precision,omitempty"`
	Scale           *int       `json:"scale,omitempty"`
	OrdinalPosition int        `json:"ordinalPosition,omitempty"`
	Constraint      string     `json:"constraint,omitempty"`
	Tags            []TagLabel `json:"tags,omitempty"`
	Children        []Column   `json:"children,omitempty"`
}

// TableConstraint is a table-level constraint over one or more columns.
type TableConstraint struct {
	ConstraintType string   `json:"constraintType"`
	Columns        []string `json:"columns"`
}

// Table is a versioned table entity.
type Table struct {
	EntityHeader
	TableType        string            `json:"tableType,omitempty"`
	Columns          []Column          `json:"columns,omitempty"`
	TableConstraints []TableConstraint `json:"tableConstraints,omitempty"`
	DatabaseFQN      string            `json:"databaseFQN,omitempty"`
}

func (t *Table) EntityType() string    { return EntityTypeTable }
func (t *Table) Header() *EntityHeader { return &t.EntityHeader }

// Clone returns a deep copy of the table.
func (t *Table) Clone() Entity {
	clone := *t
	clone.EntityHeader = cloneHeader(t.EntityHeader)
	clone.Columns = CopyColumns(t.Columns)
	if t.TableConstraints != nil {
		clone.TableConstraints = make([]TableConstraint, len(t.TableConstraints))
		for i, tc := range t.TableConstraints {
			cols := make([]string, len(tc.Columns))
			copy(cols, tc.Columns)
			clone.TableConstraints[i] = TableConstraint{ConstraintType: tc.ConstraintType, Columns: cols}
		}
	}
	return &clone
}

// CopyColumns deep-copies a column list including nested children.
func CopyColumns(columns []Column) []Column {
	if columns == nil {
		return nil
	}
	out := make([]Column, len(columns))
	for i, c := range columns {
		out[i] = c
		out[i].Tags = copyTags(c.Tags)
		out[i].Children = CopyColumns(c.Children)
		if c.DataLength != nil {
			v := *c.DataLength
			out[i].DataLength = &v
		}
		if c.Precision != nil {
			v := *c.Precision
			out[i].Precision = &v
		}
		if c.Scale != nil {
			v := *c.Scale
			out[i].Scale = &v
		}
	}
	return out
}

// FindColumn returns the column with the given name, searching top-level
// columns only.
func FindColumn(columns []Column, name string) *Column {
	for i := range columns {
		if columns[i].Name == name {
			return &columns[i]
		}
	}
	return nil
}
