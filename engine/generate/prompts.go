package generate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sageql/sageql/engine/domain"
)

const generateSystemPrompt = `You are a PostgreSQL query generator.
Write exactly one SELECT statement that answers the question, using ONLY
the tables and columns listed in the schema context. Rules:
- SELECT statements only, no data modification of any kind
- use explicit JOINs following the listed relationships
- return only the SQL, no explanation and no markdown
If the question cannot be answered with the provided schema, respond with
"ERROR:" followed by a one-line reason.`

const correctSystemPrompt = `You are a PostgreSQL query repair agent.
A previously generated statement failed. Fix it using ONLY the tables and
columns in the schema context. Return only the corrected SQL, no
explanation and no markdown. If it cannot be fixed with this schema,
respond with "ERROR:" followed by a one-line reason.`

func generateUserPrompt(query string, plan domain.QueryPlan, schemaContext string) string {
	var b strings.Builder
	if schemaContext != "" {
		b.WriteString("Schema context:\n")
		b.WriteString(schemaContext)
		b.WriteString("\n")
	}
	if planJSON, err := json.Marshal(plan); err == nil {
		fmt.Fprintf(&b, "Query plan: %s\n\n", planJSON)
	}
	fmt.Fprintf(&b, "Question: %s\n", query)
	return b.String()
}

func correctUserPrompt(query, prevSQL, failure, schemaContext string) string {
	var b strings.Builder
	if schemaContext != "" {
		b.WriteString("Schema context:\n")
		b.WriteString(schemaContext)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Question: %s\n\n", query)
	fmt.Fprintf(&b, "Failed SQL:\n%s\n\n", prevSQL)
	fmt.Fprintf(&b, "Failure:\n%s\n", failure)
	return b.String()
}
