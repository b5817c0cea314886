package policy

import (
	"testing"

	"github.com/adsengine/billing-system/internal/model"
)

func TestIsAdmin(t *testing.T) {
	if !IsAdmin(model.RoleAdmin) {
		t.Fatal("admin must pass IsAdmin")
	}
	if IsAdmin(model.RoleReseller) || IsAdmin(model.RoleCustomer) {
		t.Fatal("non-admin roles must not pass IsAdmin")
	}
}

func TestIsResellerOrAdmin(t *testing.T) {
	if !IsResellerOrAdmin(model.RoleAdmin) || !IsResellerOrAdmin(model.RoleReseller) {
		t.Fatal("admin and reseller must pass IsResellerOrAdmin")
	}
	if IsResellerOrAdmin(model.RoleCustomer) {
		t.Fatal("customer must not pass IsResellerOrAdmin")
	}
	if IsResellerOrAdmin(model.Role("unknown")) {
		t.Fatal("unknown role must not pass IsResellerOrAdmin")
	}
}

func TestOwns(t *testing.T) {
	resellerID := int64(7)
	otherID := int64(8)

	linked := &model.Account{ID: 10, Role: model.RoleCustomer, ResellerID: &resellerID}
	foreign := &model.Account{ID: 11, Role: model.RoleCustomer, ResellerID: &otherID}
	unassigned := &model.Account{ID: 12, Role: model.RoleCustomer}

	tests := []struct {
		name       string
		callerRole model.Role
		callerID   int64
		target     *model.Account
		want       bool
	}{
		{"admin owns anyone", model.RoleAdmin, 1, foreign, true},
		{"reseller owns linked client", model.RoleReseller, 7, linked, true},
		{"reseller does not own foreign client", model.RoleReseller, 7, foreign, false},
		{"reseller does not own unassigned client", model.RoleReseller, 7, unassigned, false},
		{"customer owns nobody", model.RoleCustomer, 10, linked, false},
		{"nil target", model.RoleAdmin, 1, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Owns(tt.callerRole, tt.callerID, tt.target); got != tt.want {
				t.Fatalf("Owns() = %v, want %v", got, tt.want)
			}
		})
	}
}
