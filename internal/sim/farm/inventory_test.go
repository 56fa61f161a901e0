package farm

import "testing"

func TestLedgerAddRespectsCapacity(t *testing.T) {
	l := NewLedger(10, 0)
	if !l.Add("WATER", 7) {
		t.Fatal("add within capacity failed")
	}
	if l.Add("CORN", 4) {
		t.Fatal("add beyond capacity succeeded")
	}
	if l.Quantity("CORN") != 0 {
		t.Fatal("failed add mutated inventory")
	}
	if !l.Add("CORN", 3) {
		t.Fatal("add to exact capacity failed")
	}
	if !l.IsFull() {
		t.Fatal("ledger should be full")
	}
	if l.Remaining() != 0 {
		t.Fatalf("remaining = %d", l.Remaining())
	}
}

func TestLedgerAddRejectsNonPositive(t *testing.T) {
	l := NewLedger(10, 0)
	if l.Add("WATER", 0) || l.Add("WATER", -2) {
		t.Fatal("non-positive add succeeded")
	}
}

func TestLedgerRemove(t *testing.T) {
	l := NewLedger(10, 0)
	l.Add("WATER", 3)
	if l.Remove("WATER", 4) {
		t.Fatal("removed more than stored")
	}
	if l.Quantity("WATER") != 3 {
		t.Fatal("failed remove mutated inventory")
	}
	if !l.Remove("WATER", 3) {
		t.Fatal("remove failed")
	}
	if l.Quantity("WATER") != 0 {
		t.Fatalf("quantity = %d", l.Quantity("WATER"))
	}
	if l.Remove("PESTICIDE_A", 1) {
		t.Fatal("removed absent item")
	}
}

func TestLedgerSpendNeverGoesNegative(t *testing.T) {
	l := NewLedger(10, 100)
	if l.Spend(100.01) {
		t.Fatal("overspend succeeded")
	}
	if l.Balance() != 100 {
		t.Fatalf("balance = %v", l.Balance())
	}
	if !l.Spend(100) {
		t.Fatal("spend of exact balance failed")
	}
	if l.Balance() != 0 {
		t.Fatalf("balance = %v", l.Balance())
	}
	if l.Spend(0.01) {
		t.Fatal("spend from empty balance succeeded")
	}
}

func TestLedgerCredit(t *testing.T) {
	l := NewLedger(10, 50)
	l.Credit(25.5)
	if l.Balance() != 75.5 {
		t.Fatalf("balance = %v", l.Balance())
	}
	l.Credit(-10)
	if l.Balance() != 75.5 {
		t.Fatal("negative credit applied")
	}
}

func TestLedgerSnapshotOmitsZeroes(t *testing.T) {
	l := NewLedger(10, 0)
	l.Add("WATER", 2)
	l.Remove("WATER", 2)
	l.Add("CORN", 1)
	items, _ := l.Snapshot()
	if _, ok := items["WATER"]; ok {
		t.Fatal("snapshot contains zero-quantity item")
	}
	if items["CORN"] != 1 {
		t.Fatalf("snapshot = %v", items)
	}
}
