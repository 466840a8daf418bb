package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"reactsql/internal/llm"
)

// SQLGenerator is stage 3: a single LLM call that turns a UserQuestion plus
// a SchemaSnapshot into a GeneratedSQL, with one bounded retry on malformed
// output.
type SQLGenerator struct {
	client       llm.CompletionClient
	dialect      string
	promptBudget int // soft token budget; 0 disables the check
	encoding     *tiktoken.Tiktoken
}

// NewSQLGenerator builds a SQLGenerator for the given dialect ("MySQL",
// "PostgreSQL", "SQLite"). promptBudget is the soft token ceiling used for
// the prompt-size warning; 0 disables it.
func NewSQLGenerator(client llm.CompletionClient, dialect string, promptBudget int) *SQLGenerator {
	enc, _ := tiktoken.GetEncoding("cl100k_base")
	return &SQLGenerator{client: client, dialect: dialect, promptBudget: promptBudget, encoding: enc}
}

// Generate produces a GeneratedSQL. priorFailure, when non-empty, is
// appended to the prompt as "previous attempt failed with: ..." — used by
// the orchestrator's bounded stage-5-to-3 regeneration loop.
func (g *SQLGenerator) Generate(ctx context.Context, question *UserQuestion, snapshot *SchemaSnapshot, priorFailure string) (*GeneratedSQL, []string, error) {
	sections := g.buildPrompt(question, snapshot, priorFailure)

	var warnings []string
	if g.promptBudget > 0 && g.encoding != nil {
		total := 0
		for _, s := range sections {
			total += len(g.encoding.Encode(s.Content, nil, nil))
		}
		if total > g.promptBudget {
			warnings = append(warnings, fmt.Sprintf("SQLGenerator prompt used %d tokens, exceeding the configured soft budget of %d", total, g.promptBudget))
		}
	}

	statement, err := g.callAndExtract(ctx, sections)
	if err != nil {
		if isMalformed(err) {
			// one retry, following the teacher's single-retry shape for
			// malformed generations
			statement, err = g.callAndExtract(ctx, sections)
		}
		if err != nil {
			return nil, warnings, err
		}
	}

	tables, columns := scanReferences(statement)
	return &GeneratedSQL{
		StatementText:     statement,
		ReferencedTables:  tables,
		ReferencedColumns: columns,
	}, warnings, nil
}

func (g *SQLGenerator) callAndExtract(ctx context.Context, sections []llm.PromptSection) (string, error) {
	response, err := g.client.Complete(ctx, sections, llm.GenerationOptions{Temperature: 0})
	if err != nil {
		return "", newError(ErrGenerationUnavailable, StageSQLGenerator, "llm call failed", err)
	}

	sql := extractSQL(response)
	if sql == "" {
		return "", newError(ErrGenerationMalformed, StageSQLGenerator, "no extractable SQL in model response", nil)
	}
	return sql, nil
}

func isMalformed(err error) bool {
	pe, ok := err.(*Error)
	return ok && pe.Kind == ErrGenerationMalformed
}

// buildPrompt renders the prompt contract of §4.3: the normalized
// question, a compact textual rendering of the snapshot, the dialect in
// use, and the rules the generated SQL must obey.
func (g *SQLGenerator) buildPrompt(question *UserQuestion, snapshot *SchemaSnapshot, priorFailure string) []llm.PromptSection {
	var rules strings.Builder
	rules.WriteString("You are a SQL expert. Generate a single SELECT statement to answer the question.\n")
	fmt.Fprintf(&rules, "Database dialect: %s. Write SQL that strictly follows %s syntax.\n", g.dialect, g.dialect)
	rules.WriteString("Rules:\n")
	rules.WriteString("1. Exactly one statement, SELECT only (a WITH clause ending in SELECT is fine). No DDL or DML.\n")
	rules.WriteString("2. Reference only tables that appear in the schema below.\n")
	rules.WriteString("3. Prefer explicit JOIN syntax over implicit comma joins.\n")
	rules.WriteString("4. Avoid SELECT * when a narrower projection answers the question.\n")
	rules.WriteString("5. Include an ORDER BY when the question asks for a top-N result.\n")
	rules.WriteString("Return the SQL in a ```sql fenced block. Anything outside the block is discarded.\n")

	schemaText := renderSnapshot(snapshot)

	sections := []llm.PromptSection{
		{Role: "system", Content: rules.String()},
		{Role: "schema", Content: schemaText},
		{Role: "question", Content: question.NormalizedText},
	}
	if priorFailure != "" {
		sections = append(sections, llm.PromptSection{
			Role:    "prior_failure",
			Content: "previous attempt failed with: " + priorFailure,
		})
	}
	return sections
}

// renderSnapshot produces the table-qualified column lists with types and
// PK/FK hints the prompt contract requires.
func renderSnapshot(snapshot *SchemaSnapshot) string {
	keys := make([]string, 0, len(snapshot.Tables))
	for k := range snapshot.Tables {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		t := snapshot.Tables[k]
		fmt.Fprintf(&sb, "%s.%s (%s)\n", t.SchemaName, t.TableName, t.Kind)
		for _, c := range t.Columns {
			marker := ""
			if c.IsPrimaryKey {
				marker = " PK"
			}
			nullable := "NOT NULL"
			if c.Nullable {
				nullable = "NULL"
			}
			fmt.Fprintf(&sb, "  - %s %s %s%s\n", c.Name, c.DataType, nullable, marker)
		}
		for _, fk := range t.ForeignKeys {
			fmt.Fprintf(&sb, "  FK %s -> %s.%s(%s)\n",
				strings.Join(fk.LocalColumns, ","), fk.ReferencedSchema, fk.ReferencedTable, strings.Join(fk.ReferencedColumns, ","))
		}
	}
	return sb.String()
}

// extractSQL recovers a single SQL statement from a model response:
// fenced block first, then a bare SELECT/WITH prefix, trimming any trailing
// prose the model appended after the statement.
func extractSQL(response string) string {
	if idx := strings.Index(response, "```sql"); idx >= 0 {
		rest := response[idx+len("```sql"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			response = rest[:end]
		} else {
			response = rest
		}
	} else if idx := strings.Index(response, "```"); idx >= 0 {
		rest := response[idx+3:]
		if end := strings.Index(rest, "```"); end >= 0 {
			response = rest[:end]
		} else {
			response = rest
		}
	}

	response = strings.TrimSpace(response)
	response = strings.TrimSuffix(response, ";")
	response = strings.TrimSpace(response)

	lines := strings.Split(response, "\n")
	firstLine := strings.ToUpper(strings.TrimSpace(firstNonEmpty(lines)))
	if !strings.HasPrefix(firstLine, "SELECT") && !strings.HasPrefix(firstLine, "WITH") {
		return ""
	}

	var sqlLines []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "This ") || strings.HasPrefix(trimmed, "The ") ||
			strings.HasPrefix(trimmed, "Note:") || strings.HasPrefix(trimmed, "Explanation") {
			break
		}
		sqlLines = append(sqlLines, line)
	}
	return strings.TrimSpace(strings.Join(sqlLines, "\n"))
}

func firstNonEmpty(lines []string) string {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return l
		}
	}
	return ""
}

var (
	fromJoinPattern = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([a-zA-Z_][a-zA-Z0-9_\.]*)`)
	dottedColPattern = regexp.MustCompile(`\b([a-zA-Z_][a-zA-Z0-9_]*)\.([a-zA-Z_][a-zA-Z0-9_]*)\b`)
)

// scanReferences recovers the tables and columns a generated statement
// appears to reference via a tolerant identifier scan — used only for
// plausibility checks downstream, never for execution.
func scanReferences(sql string) (map[string]struct{}, map[string]struct{}) {
	tables := make(map[string]struct{})
	for _, m := range fromJoinPattern.FindAllStringSubmatch(sql, -1) {
		tables[m[1]] = struct{}{}
	}

	columns := make(map[string]struct{})
	for _, m := range dottedColPattern.FindAllStringSubmatch(sql, -1) {
		columns[m[1]+"."+m[2]] = struct{}{}
	}
	return tables, columns
}
