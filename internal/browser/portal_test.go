package browser

import (
	"testing"

	"github.com/ysmood/gson"
)

func TestDecodeOptionGroups(t *testing.T) {
	v := gson.NewFrom(`[
		{"name": "Body Style", "values": ["4D Pickup", "2D Pickup"], "selected": ""},
		{"name": "Drive Type", "values": ["4WD", "2WD"], "selected": "4WD"}
	]`)

	groups := decodeOptionGroups(v)
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}

	if groups[0].Name != "Body Style" {
		t.Errorf("group 0 name = %q", groups[0].Name)
	}
	if len(groups[0].Values) != 2 || groups[0].Values[0] != "4D Pickup" {
		t.Errorf("group 0 values = %v", groups[0].Values)
	}
	if groups[0].Selected != "" {
		t.Errorf("group 0 selected = %q, want empty", groups[0].Selected)
	}
	if groups[1].Selected != "4WD" {
		t.Errorf("group 1 selected = %q, want 4WD", groups[1].Selected)
	}
}

func TestDecodeOptionGroupsEmpty(t *testing.T) {
	if groups := decodeOptionGroups(gson.NewFrom(`[]`)); len(groups) != 0 {
		t.Errorf("got %d groups from empty array", len(groups))
	}
}

func TestEqualStrings(t *testing.T) {
	tests := []struct {
		a, b []string
		want bool
	}{
		{nil, nil, true},
		{[]string{"x"}, nil, false},
		{[]string{"a", "b"}, []string{"a", "b"}, true},
		{[]string{"a", "b"}, []string{"b", "a"}, false},
	}
	for _, tt := range tests {
		if got := equalStrings(tt.a, tt.b); got != tt.want {
			t.Errorf("equalStrings(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
