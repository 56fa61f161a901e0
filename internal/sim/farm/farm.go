// Package farm implements the coordination engine: the field tick simulator,
// the BDI planner, the contract-net negotiation rounds, the worker dispatch
// state machine and the inventory ledger. Every component is a sequential
// actor on the bus; the ledger is the only shared mutable state.
package farm

import "fmt"

// Well-known endpoint names.
const (
	PlannerName = "FarmManager"
	BaseName    = "Main-Container"
)

// FieldName is the bus endpoint of a field agent.
func FieldName(id int) string { return fmt.Sprintf("Field-%d", id) }

// FieldLocation is the mobility location of a field.
func FieldLocation(id int) string { return fmt.Sprintf("Field-Container-%d", id) }

// Service directory kinds.
const (
	ServiceSupplier = "supplier"
	ServiceBuyer    = "client"
)

// Dice is the injectable random source. *math/rand.Rand satisfies it; tests
// substitute a deterministic roller.
type Dice interface {
	Float64() float64
	Intn(n int) int
}
