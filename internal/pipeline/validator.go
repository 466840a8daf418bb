package pipeline

import (
	"fmt"
	"regexp"
	"strings"
)

// SQLValidator is stage 4: enforce that generated SQL is safe, read-only,
// single-statement, schema-grounded, and bounded in size; rewrite it to
// add a row cap when one is absent. Never touches the database.
type SQLValidator struct {
	dialect           string
	rowCapDefault     int
	rowCapMax         int
	statementMaxBytes int
}

// NewSQLValidator builds a validator for dialect ("MySQL", "PostgreSQL",
// "SQLite") using the bounds from cfg.
func NewSQLValidator(dialect string, cfg ValidatorConfig) *SQLValidator {
	return &SQLValidator{
		dialect:           dialect,
		rowCapDefault:     cfg.RowCapDefault,
		rowCapMax:         cfg.RowCapMax,
		statementMaxBytes: cfg.StatementMaxBytes,
	}
}

var (
	forbiddenKeyword = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|MERGE|TRUNCATE|DROP|ALTER|CREATE|GRANT|REVOKE|EXEC|EXECUTE|SP_\w+)\b`)
	selectIntoTable  = regexp.MustCompile(`(?i)\bSELECT\b[\s\S]*?\bINTO\s+(?:#|TEMP\s|TEMPORARY\s)?(\w+)`)
	batchSeparator   = regexp.MustCompile(`(?im)^\s*GO\s*$`)
	illegalAlias     = regexp.MustCompile(`(?i)\s+AS\s+([a-zA-Z_]+\s*\([^)]*\))`)
	existingRowCap   = regexp.MustCompile(`(?i)\b(LIMIT|TOP|FETCH\s+FIRST)\b`)
	userRowCapLimit  = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)\b`)
)

// Validate runs every rule in §4.4; any failure aborts with a typed Error.
// On success the returned ValidatedSQL always has empty ViolatedRules.
func (v *SQLValidator) Validate(generated *GeneratedSQL, snapshot *SchemaSnapshot, userRowCap *int) (*ValidatedSQL, error) {
	var warnings []string

	// Rule 7: comment stripping runs before all checks.
	stripped := stripComments(generated.StatementText)
	stripped = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(stripped), ";"))

	// Rule 5: size bound (checked against the comment-stripped text so a
	// giant comment can't be used to dodge the limit the other way either).
	if v.statementMaxBytes > 0 && len(stripped) > v.statementMaxBytes {
		return nil, newError(ErrStatementTooLarge, StageValidator,
			fmt.Sprintf("statement is %d bytes, exceeding the configured maximum of %d", len(stripped), v.statementMaxBytes), nil)
	}

	// Rule 1: single statement.
	statements := splitTopLevelStatements(stripped)
	if len(statements) != 1 {
		return nil, newError(ErrMultipleStatements, StageValidator,
			fmt.Sprintf("found %d top-level statements, expected exactly one", len(statements)), nil)
	}
	statement := statements[0]

	masked := maskLiterals(statement)

	// Rule 2 + 3: read-only, no DML/DDL, no batch separators.
	firstWord := strings.ToUpper(firstToken(masked))
	if firstWord != "SELECT" && firstWord != "WITH" {
		return nil, newError(ErrNonReadOnly, StageValidator,
			"top-level statement is not a SELECT or WITH...SELECT", nil)
	}
	if firstWord == "WITH" && !endsInSelect(masked) {
		return nil, newError(ErrNonReadOnly, StageValidator,
			"WITH clause does not terminate in a SELECT", nil)
	}
	if forbiddenKeyword.MatchString(masked) {
		return nil, newError(ErrNonReadOnly, StageValidator,
			"statement contains a data- or schema-modifying keyword", nil)
	}
	if m := selectIntoTable.FindStringSubmatch(masked); m != nil {
		return nil, newError(ErrNonReadOnly, StageValidator,
			"SELECT ... INTO targets a new table, which is a write", nil)
	}
	if batchSeparator.MatchString(masked) {
		return nil, newError(ErrNonReadOnly, StageValidator,
			"statement contains a batch separator", nil)
	}
	if illegalAlias.MatchString(masked) {
		warnings = append(warnings, "statement uses a function call as a bare alias, which some dialects reject")
	}
	if err := checkParentheses(statement); err != nil {
		return nil, newError(ErrNonReadOnly, StageValidator, err.Error(), nil)
	}

	// Rule 4: grounded references.
	for table := range generated.ReferencedTables {
		if !tableKnown(snapshot, table) {
			return nil, newError(ErrUnknownTable, StageValidator,
				fmt.Sprintf("referenced table %q is not present in the schema snapshot", table), nil)
		}
	}
	for col := range generated.ReferencedColumns {
		if !columnKnown(snapshot, col) {
			warnings = append(warnings, fmt.Sprintf("referenced column %q could not be attributed to a known table/column", col))
		}
	}

	// Rule 6: row cap.
	rewritten, effectiveRowCap, capWarning := v.applyRowCap(statement, masked, userRowCap)
	if capWarning != "" {
		warnings = append(warnings, capWarning)
	}

	return &ValidatedSQL{
		StatementText:   rewritten,
		ViolatedRules:   nil,
		Warnings:        warnings,
		EffectiveRowCap: effectiveRowCap,
	}, nil
}

// applyRowCap injects a dialect-appropriate row cap when the statement has
// none, or clamps a user-supplied cap that exceeds rowCapMax. It also
// returns the row cap actually in effect on the rewritten statement, so
// callers that execute the statement (the executor) can materialize rows
// using the very same bound instead of recomputing their own.
func (v *SQLValidator) applyRowCap(statement, masked string, userRowCap *int) (string, int, string) {
	if existingRowCap.MatchString(masked) {
		if m := userRowCapLimit.FindStringSubmatch(masked); m != nil {
			var n int
			fmt.Sscanf(m[1], "%d", &n)
			if n > v.rowCapMax {
				return replaceLimit(statement, v.rowCapMax), v.rowCapMax, fmt.Sprintf(
					"user-supplied row cap %d exceeded the configured maximum; lowered to %d", n, v.rowCapMax)
			}
			return statement, n, ""
		}
		// a cap is present (e.g. TOP/FETCH FIRST) but not in a form this
		// validator can parse back out; rowCapMax is the widest bound it
		// could possibly be, so the executor never truncates prematurely.
		return statement, v.rowCapMax, ""
	}

	rowCap := v.rowCapDefault
	if userRowCap != nil {
		rowCap = *userRowCap
		if rowCap > v.rowCapMax {
			rowCap = v.rowCapMax
		}
	}

	switch strings.ToLower(v.dialect) {
	case "mysql", "postgresql", "sqlite":
		return fmt.Sprintf("%s LIMIT %d", statement, rowCap), rowCap, ""
	default:
		// dialect with no native LIMIT (e.g. SQL Server): inject TOP N
		// right after the leading SELECT.
		return injectTop(statement, rowCap), rowCap, ""
	}
}

func injectTop(statement string, rowCap int) string {
	idx := strings.Index(strings.ToUpper(statement), "SELECT")
	if idx < 0 {
		return statement
	}
	return statement[:idx+len("SELECT")] + fmt.Sprintf(" TOP %d", rowCap) + statement[idx+len("SELECT"):]
}

func replaceLimit(statement string, rowCap int) string {
	return userRowCapLimit.ReplaceAllString(statement, fmt.Sprintf("LIMIT %d", rowCap))
}

// stripComments removes -- line comments and /* */ block comments while
// respecting single-quoted, double-quoted, and backtick-quoted literals, so
// a comment marker inside a string is never treated as a real comment.
func stripComments(sql string) string {
	var out strings.Builder
	runes := []rune(sql)
	i := 0
	var quote rune
	for i < len(runes) {
		c := runes[i]
		if quote != 0 {
			out.WriteRune(c)
			if c == quote {
				quote = 0
			}
			i++
			continue
		}
		switch {
		case c == '\'' || c == '"' || c == '`':
			quote = c
			out.WriteRune(c)
			i++
		case c == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(runes) && runes[i+1] == '*':
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i += 2
		default:
			out.WriteRune(c)
			i++
		}
	}
	return out.String()
}

// maskLiterals replaces the interior of quoted literals with 'x' so keyword
// scanning never matches text that only appears inside a string or a
// quoted identifier.
func maskLiterals(sql string) string {
	var out strings.Builder
	runes := []rune(sql)
	i := 0
	var quote rune
	for i < len(runes) {
		c := runes[i]
		if quote != 0 {
			if c == quote {
				out.WriteRune(c)
				quote = 0
			} else {
				out.WriteRune('x')
			}
			i++
			continue
		}
		if c == '\'' || c == '"' || c == '`' {
			quote = c
			out.WriteRune(c)
			i++
			continue
		}
		out.WriteRune(c)
		i++
	}
	return out.String()
}

// splitTopLevelStatements splits on semicolons that are not nested inside
// parentheses or (already-masked-safe) quotes.
func splitTopLevelStatements(sql string) []string {
	masked := maskLiterals(sql)
	depth := 0
	var stmts []string
	start := 0
	for i, c := range masked {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
		case ';':
			if depth == 0 {
				stmt := strings.TrimSpace(sql[start:i])
				if stmt != "" {
					stmts = append(stmts, stmt)
				}
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(sql[start:]); rest != "" {
		stmts = append(stmts, rest)
	}
	return stmts
}

func firstToken(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// endsInSelect checks that a WITH ... statement's main query is a SELECT,
// by looking for a SELECT keyword at top-level parenthesis depth (outside
// every CTE body).
func endsInSelect(masked string) bool {
	upper := strings.ToUpper(masked)
	depth := 0
	for i := 0; i < len(upper); i++ {
		switch upper[i] {
		case '(':
			depth++
		case ')':
			depth--
		default:
			if depth == 0 && strings.HasPrefix(upper[i:], "SELECT") &&
				(i == 0 || !strings.ContainsRune("ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_", rune(upper[i-1]))) {
				return true
			}
		}
	}
	return false
}

func checkParentheses(sql string) error {
	depth := 0
	for i, c := range sql {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return fmt.Errorf("unmatched closing parenthesis at position %d", i)
			}
		}
	}
	if depth > 0 {
		return fmt.Errorf("unmatched opening parenthesis: %d unclosed", depth)
	}
	return nil
}

func tableKnown(snapshot *SchemaSnapshot, ref string) bool {
	ref = strings.Trim(ref, "`\"")
	for key, t := range snapshot.Tables {
		if strings.EqualFold(key, ref) || strings.EqualFold(t.TableName, ref) {
			return true
		}
	}
	return false
}

func columnKnown(snapshot *SchemaSnapshot, ref string) bool {
	parts := strings.SplitN(ref, ".", 2)
	if len(parts) != 2 {
		return true // unqualified column refs are not attributable; don't warn on those here
	}
	tableRef, colRef := strings.Trim(parts[0], "`\""), strings.Trim(parts[1], "`\"")
	for key, t := range snapshot.Tables {
		if strings.EqualFold(key, tableRef) || strings.EqualFold(t.TableName, tableRef) {
			for _, c := range t.Columns {
				if strings.EqualFold(c.Name, colRef) {
					return true
				}
			}
		}
	}
	return false
}
