package domain

import (
	"fmt"
	"strings"
)

// ElementKind tags the variants of a schema element.
type ElementKind string

const (
	KindTable        ElementKind = "table"
	KindColumn       ElementKind = "column"
	KindRelationship ElementKind = "relationship"
)

// Column describes one column of a live table.
type Column struct {
	Table    string `json:"table"`
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Nullable bool   `json:"nullable"`
}

// Table describes one live table with its columns.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// ColumnNames returns the column names in declaration order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// ForeignKey describes one foreign-key edge between two tables.
type ForeignKey struct {
	Table     string `json:"table"`
	Column    string `json:"column"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
}

// Document renders the table as a text snippet suitable for embedding
// and for LLM prompt context.
func (t Table) Document() string {
	return fmt.Sprintf("Table: %s\nColumns: %s", t.Name, strings.Join(t.ColumnNames(), ", "))
}

// Document renders the column as a text snippet.
func (c Column) Document() string {
	null := "NOT NULL"
	if c.Nullable {
		null = "NULL"
	}
	return fmt.Sprintf("Column %s in table %s, type %s, %s", c.Name, c.Table, c.DataType, null)
}

// Document renders the foreign key as a text snippet.
func (fk ForeignKey) Document() string {
	return fmt.Sprintf("Relationship: %s.%s references %s.%s", fk.Table, fk.Column, fk.RefTable, fk.RefColumn)
}
