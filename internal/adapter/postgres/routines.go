package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/untoldecay/dbport/internal/ir"
	"github.com/untoldecay/dbport/internal/routine"
	"github.com/untoldecay/dbport/internal/typemap"
)

// ListRoutines introspects user functions and procedures (L3). The body
// source is captured verbatim for risk analysis.
func (p *Postgres) ListRoutines(ctx context.Context) ([]*ir.Routine, error) {
	rows, err := p.querier().QueryContext(ctx, `
		SELECT r.routine_name, COALESCE(r.data_type, ''), COALESCE(r.routine_definition, ''),
		       COALESCE(r.external_language, 'SQL')
		FROM information_schema.routines r
		WHERE r.routine_schema = 'public'
		ORDER BY r.routine_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list routines: %w", err)
	}
	defer rows.Close()

	var routines []*ir.Routine
	for rows.Next() {
		var name, retType, body, lang string
		if err := rows.Scan(&name, &retType, &body, &lang); err != nil {
			return nil, err
		}
		r := &ir.Routine{
			Name:     name,
			Body:     body,
			Language: lang,
		}
		if retType != "" && !strings.EqualFold(retType, "void") {
			ti := typemap.ToIR("postgres", retType)
			r.ReturnType = &ti
		}
		routines = append(routines, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, r := range routines {
		if err := p.readRoutineArgs(ctx, r); err != nil {
			return nil, err
		}
	}
	return routines, nil
}

func (p *Postgres) readRoutineArgs(ctx context.Context, r *ir.Routine) error {
	rows, err := p.querier().QueryContext(ctx, `
		SELECT COALESCE(parameter_name, ''), COALESCE(data_type, ''), COALESCE(parameter_mode, 'IN')
		FROM information_schema.parameters
		WHERE specific_schema = 'public' AND specific_name LIKE $1 || '_%'
		ORDER BY ordinal_position`, r.Name)
	if err != nil {
		return fmt.Errorf("failed to read parameters for %s: %w", r.Name, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, dataType, mode string
		if err := rows.Scan(&name, &dataType, &mode); err != nil {
			return err
		}
		arg := ir.RoutineArg{Name: name, Type: typemap.ToIR("postgres", dataType)}
		switch strings.ToUpper(mode) {
		case "OUT":
			arg.Mode = ir.ModeOut
		case "INOUT":
			arg.Mode = ir.ModeInOut
		default:
			arg.Mode = ir.ModeIn
		}
		r.Arguments = append(r.Arguments, arg)
	}
	return rows.Err()
}

// ListTriggers introspects triggers (L4) and classifies each against the
// supported subset.
func (p *Postgres) ListTriggers(ctx context.Context) ([]*ir.Trigger, error) {
	rows, err := p.querier().QueryContext(ctx, `
		SELECT trigger_name, event_object_table, action_timing,
		       event_manipulation, action_orientation, COALESCE(action_statement, '')
		FROM information_schema.triggers
		WHERE trigger_schema = 'public'
		ORDER BY trigger_name, event_manipulation`)
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}
	defer rows.Close()

	var triggers []*ir.Trigger
	seen := map[string]bool{}
	for rows.Next() {
		var name, table, timing, event, orientation string
		var stmt sql.NullString
		if err := rows.Scan(&name, &table, &timing, &event, &orientation, &stmt); err != nil {
			return nil, err
		}
		// Multi-event triggers repeat per event; keep the first row.
		if seen[name] {
			continue
		}
		seen[name] = true

		trg := &ir.Trigger{
			Name:       name,
			Table:      table,
			Definition: stmt.String,
			Enabled:    true,
		}
		switch strings.ToUpper(timing) {
		case "BEFORE":
			trg.Timing = ir.TimingBefore
		case "AFTER":
			trg.Timing = ir.TimingAfter
		default:
			trg.Timing = ir.TimingInsteadOf
		}
		switch strings.ToUpper(event) {
		case "INSERT":
			trg.Event = ir.EventInsert
		case "UPDATE":
			trg.Event = ir.EventUpdate
		default:
			trg.Event = ir.EventDelete
		}
		if strings.EqualFold(orientation, "ROW") {
			trg.Level = ir.LevelRow
		} else {
			trg.Level = ir.LevelStatement
		}
		routine.ClassifyTrigger(trg)
		triggers = append(triggers, trg)
	}
	return triggers, rows.Err()
}
