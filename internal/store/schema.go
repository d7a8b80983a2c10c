package store

import (
	"context"
	"fmt"
	"sync"
)

// SchemaMode names one of the supported physical layouts.
type SchemaMode string

const (
	ModeUnknown SchemaMode = ""
	// ModeLegacy keeps account, profile and snapshot columns in one "users" table.
	ModeLegacy SchemaMode = "legacy"
	// ModeNormalized splits "accounts" from "student_profiles".
	ModeNormalized SchemaMode = "normalized"
)

// ParseSchemaMode accepts "legacy", "normalized", and "auto"/"" (unknown).
func ParseSchemaMode(s string) (SchemaMode, error) {
	switch s {
	case "", "auto":
		return ModeUnknown, nil
	case string(ModeLegacy):
		return ModeLegacy, nil
	case string(ModeNormalized):
		return ModeNormalized, nil
	}
	return ModeUnknown, fmt.Errorf("unknown schema mode %q", s)
}

// Inspector answers existence questions about the physical schema.
type Inspector interface {
	TableExists(ctx context.Context, table string) (bool, error)
	ColumnExists(ctx context.Context, table, column string) (bool, error)
}

// Probe detects the layout in use and which optional columns exist. Results are cached
// until Invalidate is called.
type Probe struct {
	inspector Inspector

	mu       sync.Mutex
	mode     SchemaMode
	detected bool
	columns  map[string]bool
}

func NewProbe(inspector Inspector) *Probe {
	return &Probe{inspector: inspector, columns: make(map[string]bool)}
}

// Detect returns ModeNormalized when both accounts and student_profiles exist,
// ModeLegacy when users exists, and ModeUnknown for an empty database.
func (p *Probe) Detect(ctx context.Context) (SchemaMode, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.detected {
		return p.mode, nil
	}

	mode, err := p.detect(ctx)
	if err != nil {
		return ModeUnknown, err
	}
	p.mode = mode
	p.detected = mode != ModeUnknown
	return mode, nil
}

func (p *Probe) detect(ctx context.Context) (SchemaMode, error) {
	accounts, err := p.inspector.TableExists(ctx, tableAccounts)
	if err != nil {
		return ModeUnknown, fmt.Errorf("probe %s: %w", tableAccounts, err)
	}
	if accounts {
		profiles, err := p.inspector.TableExists(ctx, tableStudentProfiles)
		if err != nil {
			return ModeUnknown, fmt.Errorf("probe %s: %w", tableStudentProfiles, err)
		}
		if profiles {
			return ModeNormalized, nil
		}
	}
	users, err := p.inspector.TableExists(ctx, tableUsers)
	if err != nil {
		return ModeUnknown, fmt.Errorf("probe %s: %w", tableUsers, err)
	}
	if users {
		return ModeLegacy, nil
	}
	return ModeUnknown, nil
}

// HasColumn reports whether table.column exists. Positive answers are cached; a
// missing column is re-checked so provisioning done elsewhere is picked up.
func (p *Probe) HasColumn(ctx context.Context, table, column string) (bool, error) {
	key := table + "." + column
	p.mu.Lock()
	if p.columns[key] {
		p.mu.Unlock()
		return true, nil
	}
	p.mu.Unlock()

	ok, err := p.inspector.ColumnExists(ctx, table, column)
	if err != nil {
		return false, fmt.Errorf("probe column %s: %w", key, err)
	}
	if ok {
		p.mu.Lock()
		p.columns[key] = true
		p.mu.Unlock()
	}
	return ok, nil
}

// Invalidate drops every cached answer.
func (p *Probe) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detected = false
	p.mode = ModeUnknown
	p.columns = make(map[string]bool)
}
