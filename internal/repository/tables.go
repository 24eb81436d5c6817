package repository

import "sort"

// TableMeta describes one governed table: how rows are aged and which
// columns reference the owning subject. The registry is the only source of
// table and column identifiers used in cleanup and cascade statements;
// caller-supplied names are validated against it and never interpolated raw.
type TableMeta struct {
	Name string
	// TimeColumn is the column used for age-based cleanup: created_at when
	// present, otherwise updated_at, otherwise empty (age cleanup skipped).
	TimeColumn string
	// OwnerColumns reference the subject (owner, assignee, author).
	OwnerColumns []string
	// SoftDelete marks tables carrying a deleted_at column.
	SoftDelete bool
	// Activity tables contribute a section to subject data exports.
	Activity bool
}

var governedTables = map[string]TableMeta{
	"audit_logs": {
		Name:         "audit_logs",
		TimeColumn:   "created_at",
		OwnerColumns: []string{"user_id"},
	},
	"data_export_requests": {
		Name:         "data_export_requests",
		TimeColumn:   "created_at",
		OwnerColumns: []string{"user_id"},
	},
	"data_deletion_requests": {
		Name:         "data_deletion_requests",
		TimeColumn:   "created_at",
		OwnerColumns: []string{"user_id"},
	},
	"leads": {
		Name:         "leads",
		TimeColumn:   "created_at",
		OwnerColumns: []string{"owner_id", "assigned_to"},
		SoftDelete:   true,
		Activity:     true,
	},
	"campaigns": {
		Name:         "campaigns",
		TimeColumn:   "created_at",
		OwnerColumns: []string{"owner_id"},
		SoftDelete:   true,
		Activity:     true,
	},
	"tasks": {
		Name:         "tasks",
		TimeColumn:   "created_at",
		OwnerColumns: []string{"owner_id", "assigned_to"},
		SoftDelete:   true,
		Activity:     true,
	},
	"calendar_events": {
		Name:         "calendar_events",
		TimeColumn:   "created_at",
		OwnerColumns: []string{"owner_id"},
		SoftDelete:   true,
		Activity:     true,
	},
	"notes": {
		Name:         "notes",
		TimeColumn:   "created_at",
		OwnerColumns: []string{"author_id"},
		SoftDelete:   true,
		Activity:     true,
	},
	"consents": {
		Name:         "consents",
		TimeColumn:   "created_at",
		OwnerColumns: []string{"user_id"},
	},
	"privacy_preferences": {
		Name:         "privacy_preferences",
		TimeColumn:   "updated_at",
		OwnerColumns: []string{"user_id"},
	},
	// Ephemeral session tokens carry no timestamp columns; age-based
	// cleanup skips them with a warning.
	"login_tokens": {
		Name:         "login_tokens",
		OwnerColumns: []string{"user_id"},
	},
}

// TableMetaFor resolves metadata for a governed table name.
func TableMetaFor(name string) (TableMeta, bool) {
	meta, ok := governedTables[name]
	return meta, ok
}

// GovernedTableNames lists every governed table in stable order.
func GovernedTableNames() []string {
	names := make([]string, 0, len(governedTables))
	for name := range governedTables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ActivityTables lists the domain tables contributing export sections,
// in stable order.
func ActivityTables() []TableMeta {
	tables := make([]TableMeta, 0, len(governedTables))
	for _, meta := range governedTables {
		if meta.Activity {
			tables = append(tables, meta)
		}
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
	return tables
}

// CascadeTables lists the tables swept by a full deletion cascade:
// every governed table referencing the subject except the deletion request
// trail itself, which is preserved as compliance evidence.
func CascadeTables() []TableMeta {
	tables := make([]TableMeta, 0, len(governedTables))
	for _, meta := range governedTables {
		if meta.Name == "data_deletion_requests" || len(meta.OwnerColumns) == 0 {
			continue
		}
		tables = append(tables, meta)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
	return tables
}
