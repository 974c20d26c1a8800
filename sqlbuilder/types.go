// Package sqlbuilder assembles the 7 statement kinds into dialect-aware
// SQL text. It is the only axis of true polymorphism in this subsystem:
// sqlite and mysql are two concrete implementations of one Dialect
// capability set, not an inheritance tree (spec §9).
package sqlbuilder

import "github.com/cherry-wb/tablereplica/field"

// Kind identifies the statement being assembled.
type Kind int

const (
	CreateTable Kind = iota
	DropTable
	RenameTable
	Insert
	Update
	Delete
	Select
	Grant
	Revoke
)

// AndGroup is an ordered conjunction of equality comparisons; ordering
// within the group is preserved in the emitted SQL.
type AndGroup []field.Column

// Condition is an OR of AndGroups, composed left-to-right with OR
// separators. A nil/empty Condition omits the WHERE clause entirely.
type Condition []AndGroup

// DialectName identifies a concrete SQL dialect.
type DialectName int

const (
	SQLite DialectName = iota
	MySQL
)

func (d DialectName) String() string {
	if d == MySQL {
		return "mysql"
	}
	return "sqlite"
}
