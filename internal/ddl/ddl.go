// Package ddl implements the DDL Rewriter: a pure text transform over
// vendor-dumper schema output. It strips DEFINER ownership clauses,
// tokenises/detokenises the source database name, and splits CREATE TABLE
// statements into the three-stage form the Table Restorer applies
// (columns, then keys, then foreign keys).
package ddl

import (
	"fmt"
	"regexp"
	"strings"
)

// Token is the placeholder every tokenised schema uses in place of the
// source database name.
const Token = "#DATABASE#"

// definerRe spans the whole DEFINER directive in vendor-dumper order: an
// optional stray comment closer, the optional /*!NNNNN version gate, the
// DEFINER=user@host pair (backticked or bare, % wildcards allowed), the
// optional trailing SQL SECURITY DEFINER, the closing */ of the version
// gate, and one adjacent space so the match collapses to a single space.
var definerRe = regexp.MustCompile(
	`(\*/\s*)?(/\*!\d+\s*)?DEFINER\s*=\s*(` + "`[^`]*`|[^@\\s]+" + `)\s*@\s*(` + "`[^`]*`|[a-zA-Z0-9_.%]+" + `)(\s+SQL\s+SECURITY\s+DEFINER)?(\s*\*/)?\s?`,
)

// StripDefiner removes DEFINER=<user>@<host> ownership clauses, their
// version-gated comment wrappers, and any trailing SQL SECURITY DEFINER,
// collapsing each match to a single space. Lines beginning with ALTER
// DATABASE are dropped entirely (legacy vendor-dumper behavior).
func StripDefiner(ddl string) string {
	lines := strings.Split(ddl, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "ALTER DATABASE") {
			continue
		}
		out = append(out, definerRe.ReplaceAllString(line, " "))
	}
	return strings.Join(out, "\n")
}

// Tokenise replaces every whole-word occurrence of database with Token.
func Tokenise(ddl, database string) string {
	return replaceWholeWord(ddl, database, Token)
}

// Detokenise replaces every occurrence of Token with target, the inverse of
// Tokenise against a (possibly different) target database name.
func Detokenise(ddl, target string) string {
	return strings.ReplaceAll(ddl, Token, target)
}

func replaceWholeWord(s, word, replacement string) string {
	if word == "" {
		return s
	}
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(word) + `\b`)
	return re.ReplaceAllString(s, replacement)
}

// Stages is the result of splitting tokenised DDL into the three
// restore-time application stages.
type Stages struct {
	// Stage1 holds tables with column definitions only, plus views,
	// functions, and procedures, in source order.
	Stage1 string
	// Stage2 holds, per table, ALTER statements adding AUTO_INCREMENT
	// primary keys and secondary/unique keys.
	Stage2 map[string]string
	// Stage3 holds, per table, ALTER statements adding foreign-key
	// constraints.
	Stage3 map[string]string
}

type splitState int

const (
	stateDatabase splitState = iota
	stateTablePreamble
	stateTable
	stateColumns
)

var (
	tableStructureRe = regexp.MustCompile(`-- Table structure for table '([^']+)'`)
	createTableRe    = regexp.MustCompile("^CREATE TABLE `[^`]+` \\($")
	autoIncrementRe  = regexp.MustCompile(`\bAUTO_INCREMENT\b`)
	columnNameRe     = regexp.MustCompile("^\\s*`([^`]+)`\\s+(.*)$")
	primaryKeyRe     = regexp.MustCompile(`^\s*PRIMARY KEY\s*\(`)
	keyRe            = regexp.MustCompile(`^\s*(UNIQUE\s+)?KEY\s*(` + "`[^`]+`" + `\s*)?\(`)
	constraintRe     = regexp.MustCompile(`^\s*CONSTRAINT\s`)
	engineRe         = regexp.MustCompile(`^\)\s*ENGINE=`)
)

// SplitStages runs the line-oriented state machine described in the DDL
// Rewriter design: it walks tokenised DDL line by line and distributes
// output across the three stage buffers.
func SplitStages(tokenisedDDL string) Stages {
	stages := Stages{
		Stage2: make(map[string]string),
		Stage3: make(map[string]string),
	}

	var stage1 strings.Builder
	var stage2Buf, stage3Buf []string
	var columnBuf []string
	var currentTable string
	var hasAutoIncrement bool

	state := stateDatabase

	flushTable := func() {
		if currentTable == "" {
			return
		}
		if len(stage2Buf) > 0 {
			stages.Stage2[currentTable] = strings.Join(stage2Buf, "\n") + "\n"
		}
		if len(stage3Buf) > 0 {
			stages.Stage3[currentTable] = strings.Join(stage3Buf, "\n") + "\n"
		}
		stage2Buf = nil
		stage3Buf = nil
		columnBuf = nil
		currentTable = ""
		hasAutoIncrement = false
	}

	lines := strings.Split(tokenisedDDL, "\n")
	for _, line := range lines {
		switch state {
		case stateDatabase, stateTablePreamble:
			if m := tableStructureRe.FindStringSubmatch(line); m != nil {
				currentTable = m[1]
				state = stateTablePreamble
				stage1.WriteString(line)
				stage1.WriteString("\n")
				continue
			}
			if createTableRe.MatchString(line) {
				state = stateColumns
				stage1.WriteString(line)
				stage1.WriteString("\n")
				continue
			}
			stage1.WriteString(line)
			stage1.WriteString("\n")

		case stateColumns:
			trimmed := strings.TrimRight(line, "\r")
			bare := strings.TrimSuffix(trimmed, ",")

			switch {
			case engineRe.MatchString(trimmed):
				if len(columnBuf) > 0 {
					stage1.WriteString(strings.Join(columnBuf, ",\n"))
					stage1.WriteString("\n")
				}
				stage1.WriteString(line)
				stage1.WriteString("\n")
				flushTable()
				state = stateDatabase

			case constraintRe.MatchString(strings.TrimSpace(trimmed)):
				stage3Buf = append(stage3Buf, fmt.Sprintf("ALTER TABLE `%s` ADD %s;", currentTable, strings.TrimSuffix(strings.TrimSpace(bare), ",")))

			case primaryKeyRe.MatchString(trimmed):
				if !hasAutoIncrement {
					stage2Buf = append(stage2Buf, fmt.Sprintf("ALTER TABLE `%s` ADD %s;", currentTable, strings.TrimSpace(bare)))
				}

			case keyRe.MatchString(trimmed):
				stage2Buf = append(stage2Buf, fmt.Sprintf("ALTER TABLE `%s` ADD %s;", currentTable, strings.TrimSpace(bare)))

			case autoIncrementRe.MatchString(trimmed):
				m := columnNameRe.FindStringSubmatch(strings.TrimSpace(bare))
				if m != nil {
					col := m[1]
					def := autoIncrementRe.ReplaceAllString(m[2], "")
					def = strings.Join(strings.Fields(def), " ")
					columnBuf = append(columnBuf, fmt.Sprintf("  `%s` %s", col, def))
					stage2Buf = append(stage2Buf, fmt.Sprintf("ALTER TABLE `%s` MODIFY `%s` %s AUTO_INCREMENT PRIMARY KEY;", currentTable, col, def))
					hasAutoIncrement = true
				} else {
					columnBuf = append(columnBuf, bare)
				}

			default:
				columnBuf = append(columnBuf, bare)
			}
		}
	}

	stages.Stage1 = stage1.String()
	return stages
}
