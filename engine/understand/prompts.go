package understand

import (
	"fmt"
	"strings"

	"github.com/sageql/sageql/engine/schema"
)

const understandSystemPrompt = `You are a query understanding agent for a SQL analytics system.
Analyze the user's question against the database schema and respond with a single JSON object:
{
  "intent": "short description of what the user wants",
  "tables": ["tables needed, ONLY from the schema provided"],
  "columns": ["columns needed, ONLY from the schema provided"],
  "filters": [{"column": "...", "operator": "=", "value": "...", "type": "string|number|date"}],
  "aggregations": ["count|sum|avg|min|max"],
  "group_by": ["columns to group by"],
  "order_by": {"column": "...", "direction": "asc|desc"},
  "limit": null,
  "ambiguities": ["anything unclear about the question"],
  "needs_clarification": false
}
Never invent table or column names. If the question cannot be answered from
the schema, return empty tables and set needs_clarification to true.`

func understandUserPrompt(query string, snap *schema.Snapshot) string {
	var b strings.Builder
	b.WriteString("Database schema:\n")
	for _, name := range snap.Names {
		b.WriteString(snap.Tables[strings.ToLower(name)].Document())
		b.WriteString("\n")
	}
	if len(snap.ForeignKeys) > 0 {
		b.WriteString("Relationships:\n")
		for _, fk := range snap.ForeignKeys {
			b.WriteString(fk.Document())
			b.WriteString("\n")
		}
	}
	fmt.Fprintf(&b, "\nQuestion: %s\n", query)
	return b.String()
}
