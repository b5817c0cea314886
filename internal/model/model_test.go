package model

import "testing"

func TestPlanCredits(t *testing.T) {
	tests := []struct {
		plan Plan
		want int64
	}{
		{PlanStarter, 10},
		{PlanPro, 30},
		{PlanAgency, 100},
		{PlanNone, 0},
		{Plan("enterprise"), 0},
	}

	for _, tt := range tests {
		if got := PlanCredits(tt.plan); got != tt.want {
			t.Errorf("PlanCredits(%q) = %d, want %d", tt.plan, got, tt.want)
		}
	}
}

func TestPlanCatalogOrder(t *testing.T) {
	catalog := PlanCatalog()

	if len(catalog) != 3 {
		t.Fatalf("catalog size = %d, want 3", len(catalog))
	}

	for i := 1; i < len(catalog); i++ {
		if catalog[i-1].PriceCents >= catalog[i].PriceCents {
			t.Fatalf("catalog not sorted by price: %v", catalog)
		}
	}
}

func TestRoleValid(t *testing.T) {
	for _, r := range []Role{RoleAdmin, RoleReseller, RoleCustomer} {
		if !r.Valid() {
			t.Errorf("role %q must be valid", r)
		}
	}

	if Role("root").Valid() {
		t.Error("unknown role must be invalid")
	}
	if Role("").Valid() {
		t.Error("empty role must be invalid")
	}
}
