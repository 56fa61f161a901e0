package farm

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync"

	"ecofarm.ai/internal/protocol"
	"ecofarm.ai/internal/sim/bus"
	"ecofarm.ai/internal/sim/catalogs"
	"ecofarm.ai/internal/sim/tuning"
)

// Layout describes the population of one farm: which crop each field grows,
// how many workers of each role, and the market counterparties.
type Layout struct {
	Fields     []FieldSpec
	Scanners   int
	Sprayers   int
	Harvesters int
	Irrigators int
	Suppliers  []SupplierSpec
	Buyers     int
}

type FieldSpec struct {
	ID   int
	Crop string
}

type SupplierSpec struct {
	Name  string
	Goods []string
}

// DefaultLayout is the three-field demo farm: one field per crop kind, one
// worker per role, split suppliers and two competing buyers.
func DefaultLayout(cats *catalogs.Catalogs) Layout {
	l := Layout{
		Scanners:   1,
		Sprayers:   1,
		Harvesters: 1,
		Irrigators: 1,
		Buyers:     2,
	}
	for i, crop := range cats.Crops.IDs {
		l.Fields = append(l.Fields, FieldSpec{ID: i + 1, Crop: crop})
	}

	var chems, rest []string
	for _, id := range cats.Items.IDs {
		switch cats.Items.ByID[id].Kind {
		case "CHEMICAL":
			chems = append(chems, id)
		case "RESOURCE":
			rest = append(rest, id)
		}
	}
	l.Suppliers = []SupplierSpec{
		{Name: "Supplier-1", Goods: append(append([]string{}, rest...), chems...)},
		{Name: "Supplier-2", Goods: chems},
	}
	return l
}

// Farm assembles the whole simulation: bus, ledger, fields, workers, planner
// and market counterparties. Construction wires everything; Run starts the
// actor goroutines and blocks until the context is cancelled.
type Farm struct {
	Bus      *bus.Bus
	Ledger   *Ledger
	Registry *Registry
	Planner  *Planner

	fields    []*Field
	workers   []*Worker
	suppliers []*Supplier
	buyers    []*Buyer
}

func New(layout Layout, cats *catalogs.Catalogs, tune tuning.Tuning, seed int64,
	sink protocol.Sink, logger *log.Logger) (*Farm, error) {
	if logger == nil {
		logger = log.New(os.Stdout, "[farm] ", log.LstdFlags|log.Lmicroseconds)
	}

	b := bus.New(logger)
	ledger := NewLedger(tune.InventoryCapacity, tune.InitialBudget)
	for item, qty := range tune.InitialStock {
		if !ledger.Add(item, qty) {
			return nil, fmt.Errorf("initial stock of %s exceeds capacity", item)
		}
	}
	registry := NewRegistry()
	mobility := SimMobility{Travel: tune.TravelTime()}

	negotiator := NewNegotiator(b, registry, ledger, tune, sink, logger)
	planner := NewPlanner(b, cats, tune, ledger, negotiator, sink, logger)

	f := &Farm{
		Bus:      b,
		Ledger:   ledger,
		Registry: registry,
		Planner:  planner,
	}

	for _, fs := range layout.Fields {
		crop, ok := cats.Crops.ByID[fs.Crop]
		if !ok {
			return nil, fmt.Errorf("field %d: unknown crop %s", fs.ID, fs.Crop)
		}
		dice := rand.New(rand.NewSource(seed + int64(fs.ID)))
		f.fields = append(f.fields, NewField(fs.ID, crop, b, cats, tune, dice, sink, logger))
		planner.RegisterField(fs.ID, fs.Crop)
	}

	addWorkers := func(role Role, count int, prefix string) {
		for i := 1; i <= count; i++ {
			name := fmt.Sprintf("%s-%d", prefix, i)
			w := NewWorker(name, role, b, cats, tune, mobility, sink, logger)
			f.workers = append(f.workers, w)
			planner.RegisterWorker(name, role)
		}
	}
	addWorkers(RoleScanner, layout.Scanners, "Drone")
	addWorkers(RoleSprayer, layout.Sprayers, "Sprayer")
	addWorkers(RoleHarvester, layout.Harvesters, "Harvester")
	addWorkers(RoleIrrigator, layout.Irrigators, "Irrigator")

	for i, ss := range layout.Suppliers {
		dice := rand.New(rand.NewSource(seed + 1000 + int64(i)))
		f.suppliers = append(f.suppliers,
			NewSupplier(ss.Name, ss.Goods, b, registry, cats, dice, sink, logger))
	}
	for i := 1; i <= layout.Buyers; i++ {
		dice := rand.New(rand.NewSource(seed + 2000 + int64(i)))
		budget := 500 + 100*float64(i) + dice.Float64()*200
		f.buyers = append(f.buyers,
			NewBuyer(fmt.Sprintf("Client-%d", i), budget, b, registry, cats, dice, sink, logger))
	}

	return f, nil
}

// Run starts every actor and blocks until ctx is done, then tears the bus
// down and waits for the actors to drain.
func (f *Farm) Run(ctx context.Context) {
	var wg sync.WaitGroup
	start := func(run func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
		}()
	}

	start(f.Planner.Run)
	for _, fl := range f.fields {
		start(fl.Run)
	}
	for _, w := range f.workers {
		start(w.Run)
	}
	for _, s := range f.suppliers {
		start(s.Run)
	}
	for _, b := range f.buyers {
		start(b.Run)
	}

	<-ctx.Done()
	f.Bus.Close()
	wg.Wait()
}
