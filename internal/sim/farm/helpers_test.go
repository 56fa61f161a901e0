package farm

import (
	"log"
	"os"
)

// fixedDice always rolls the same values; a roll of 1.0 never triggers the
// disease chance, a roll of 0.0 always does.
type fixedDice struct {
	f float64
	n int
}

func (d fixedDice) Float64() float64 { return d.f }
func (d fixedDice) Intn(n int) int   { return d.n % n }

func testLogger() *log.Logger {
	return log.New(os.Stdout, "[test] ", 0)
}
