package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/untoldecay/dbport/internal/ir"
	"github.com/untoldecay/dbport/internal/routine"
)

var triggerHeader = regexp.MustCompile(
	`(?is)CREATE\s+(?:TEMP\s+|TEMPORARY\s+)?TRIGGER\s+(?:IF\s+NOT\s+EXISTS\s+)?(?:"[^"]+"|\S+)\s+` +
		`(BEFORE|AFTER|INSTEAD\s+OF)?\s*(INSERT|UPDATE|DELETE)`)

var triggerBody = regexp.MustCompile(`(?is)\bBEGIN\b(.*)\bEND\b\s*;?\s*$`)

// ListTriggers introspects triggers from sqlite_master and classifies
// each against the supported subset (L4).
func (s *SQLite) ListTriggers(ctx context.Context) ([]*ir.Trigger, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, tbl_name, sql FROM sqlite_master WHERE type = 'trigger' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}
	defer rows.Close()

	var triggers []*ir.Trigger
	for rows.Next() {
		var name, tblName string
		var def sql.NullString
		if err := rows.Scan(&name, &tblName, &def); err != nil {
			return nil, err
		}
		trg := parseTrigger(name, tblName, def.String)
		routine.ClassifyTrigger(trg)
		triggers = append(triggers, trg)
	}
	return triggers, rows.Err()
}

func parseTrigger(name, table, definition string) *ir.Trigger {
	trg := &ir.Trigger{
		Name:       name,
		Table:      table,
		Definition: definition,
		Enabled:    true,
		// SQLite triggers are always row-level; FOR EACH ROW is the only
		// (and default) granularity.
		Level: ir.LevelRow,
	}

	m := triggerHeader.FindStringSubmatch(definition)
	if m != nil {
		switch strings.ToUpper(strings.Join(strings.Fields(m[1]), " ")) {
		case "AFTER":
			trg.Timing = ir.TimingAfter
		case "INSTEAD OF":
			trg.Timing = ir.TimingInsteadOf
		default:
			// Omitted timing defaults to BEFORE.
			trg.Timing = ir.TimingBefore
		}
		switch strings.ToUpper(m[2]) {
		case "INSERT":
			trg.Event = ir.EventInsert
		case "UPDATE":
			trg.Event = ir.EventUpdate
		case "DELETE":
			trg.Event = ir.EventDelete
		}
	}

	if body := triggerBody.FindStringSubmatch(definition); body != nil {
		trg.Definition = strings.TrimSpace(body[1])
	}
	return trg
}
