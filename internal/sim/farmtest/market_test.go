package farmtest

import (
	"testing"
	"time"

	"ecofarm.ai/internal/protocol"
	"ecofarm.ai/internal/sim/catalogs"
	"ecofarm.ai/internal/sim/farm"
)

// A fast-growing crop ripens, gets harvested and goes under the hammer; the
// auction settles and the proceeds land in the ledger.
func TestHarvestAndAuctionCycle(t *testing.T) {
	crop := catalogs.CropDef{ID: "CORN", GrowthSpeed: 25, WaterConsume: 0, ScanDecay: 0, CropItem: "CORN", HarvestValue: 50}
	layout := farm.Layout{
		Fields:     []farm.FieldSpec{{ID: 1, Crop: "CORN"}},
		Harvesters: 1,
		Buyers:     2,
	}
	tune := fastTune()
	h := NewHarness(t, layout, demoCats(crop), tune, 11)

	h.WaitField(5*time.Second, func(u protocol.FieldUpdate) bool {
		return u.FieldID == 1 && u.Growth >= 100
	})

	sale := h.WaitMarket(10*time.Second, func(m protocol.MarketEvent) bool {
		return m.Kind == "AUCTION_COMPLETE" && m.Item == "CORN"
	})
	if sale.Payment <= 0 || sale.HighBid < sale.Payment {
		t.Fatalf("settlement = %+v", sale)
	}
	if sale.Party == "" {
		t.Fatal("auction completed without a winner")
	}

	h.WaitUntil(time.Second, func() bool {
		return h.Farm.Ledger.Balance() > tune.InitialBudget
	})
}

// With the pantry empty, deliberation orders supplies and a supplier round
// restocks the ledger against the budget.
func TestProcurementRestocksLowInventory(t *testing.T) {
	crop := catalogs.CropDef{ID: "CORN", GrowthSpeed: 0, WaterConsume: 0, ScanDecay: 0, CropItem: "CORN"}
	layout := farm.Layout{
		Suppliers: []farm.SupplierSpec{{Name: "Supplier-1", Goods: []string{"WATER", "PESTICIDE_A"}}},
	}
	tune := fastTune()
	tune.InitialStock = map[string]int{}
	h := NewHarness(t, layout, demoCats(crop), tune, 13)

	deal := h.WaitMarket(10*time.Second, func(m protocol.MarketEvent) bool {
		return m.Kind == "SALE" && m.Item == "WATER"
	})
	if deal.Party != "Supplier-1" || deal.Price <= 0 {
		t.Fatalf("deal = %+v", deal)
	}

	h.WaitUntil(5*time.Second, func() bool {
		return h.Farm.Ledger.Quantity("WATER") >= 5
	})
	if h.Farm.Ledger.Balance() >= tune.InitialBudget {
		t.Fatal("purchase did not debit the budget")
	}
}
