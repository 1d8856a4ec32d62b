package navigator

import "testing"

func TestParseGoal(t *testing.T) {
	tests := []struct {
		name string
		goal string
		want VehicleGoal
	}{
		{
			name: "full description",
			goal: "2018 Ford F-150 5.0L XLT 4D Pickup 4WD",
			want: VehicleGoal{
				Year: 2018, Make: "Ford", Model: "F-150",
				Engine: "5.0L", Submodel: "XLT",
				BodyStyle: "4D Pickup", DriveType: "4WD",
			},
		},
		{
			name: "minimal",
			goal: "2020 Honda Civic",
			want: VehicleGoal{Year: 2020, Make: "Honda", Model: "Civic"},
		},
		{
			name: "make alias",
			goal: "2019 Chevy Silverado 1500",
			want: VehicleGoal{Year: 2019, Make: "Chevrolet", Model: "Silverado", Submodel: "1500"},
		},
		{
			name: "two word make",
			goal: "2021 Land Rover Defender",
			want: VehicleGoal{Year: 2021, Make: "Land Rover", Model: "Defender"},
		},
		{
			name: "4x4 folds to 4WD",
			goal: "2015 Toyota Tacoma 4x4",
			want: VehicleGoal{Year: 2015, Make: "Toyota", Model: "Tacoma", DriveType: "4WD"},
		},
		{
			name: "crew cab body style",
			goal: "2022 Ram 1500 Crew Cab 5.7L",
			want: VehicleGoal{
				Year: 2022, Make: "Ram", Model: "1500",
				Engine: "5.7L", BodyStyle: "Crew Cab",
			},
		},
		{
			name: "engine with displacement only",
			goal: "2017 Subaru Outback 2.5 Limited",
			want: VehicleGoal{
				Year: 2017, Make: "Subaru", Model: "Outback",
				Engine: "2.5", Submodel: "Limited",
			},
		},
		{
			name: "no make recognized",
			goal: "2010 Zonda R",
			want: VehicleGoal{Year: 2010, Model: "Zonda", Submodel: "R"},
		},
		{
			name: "no year",
			goal: "Ford Mustang GT",
			want: VehicleGoal{Make: "Ford", Model: "Mustang", Submodel: "GT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseGoal(tt.goal)
			if got.Year != tt.want.Year {
				t.Errorf("Year = %d, want %d", got.Year, tt.want.Year)
			}
			if got.Make != tt.want.Make {
				t.Errorf("Make = %q, want %q", got.Make, tt.want.Make)
			}
			if got.Model != tt.want.Model {
				t.Errorf("Model = %q, want %q", got.Model, tt.want.Model)
			}
			if got.Engine != tt.want.Engine {
				t.Errorf("Engine = %q, want %q", got.Engine, tt.want.Engine)
			}
			if got.Submodel != tt.want.Submodel {
				t.Errorf("Submodel = %q, want %q", got.Submodel, tt.want.Submodel)
			}
			if got.BodyStyle != tt.want.BodyStyle {
				t.Errorf("BodyStyle = %q, want %q", got.BodyStyle, tt.want.BodyStyle)
			}
			if got.DriveType != tt.want.DriveType {
				t.Errorf("DriveType = %q, want %q", got.DriveType, tt.want.DriveType)
			}
		})
	}
}

func TestJoinRoundTrip(t *testing.T) {
	goals := []string{
		"2018 Ford F-150 5.0L XLT 4D Pickup 4WD",
		"2020 Honda Civic",
		"2022 Ram 1500 Crew Cab 5.7L",
		"2021 Land Rover Defender",
	}
	for _, goal := range goals {
		first := ParseGoal(goal)
		second := ParseGoal(first.Join())
		if first.String() != second.String() {
			t.Errorf("round trip of %q:\n first = %s\nsecond = %s", goal, first.String(), second.String())
		}
	}
}

func TestMissingRequired(t *testing.T) {
	tests := []struct {
		goal string
		want string
	}{
		{"2020 Honda Civic", ""},
		{"Honda Civic", "year"},
		{"2020 Frobulator X", "make"},
		{"2020 Honda", "model"},
	}
	for _, tt := range tests {
		if got := ParseGoal(tt.goal).MissingRequired(); got != tt.want {
			t.Errorf("MissingRequired(%q) = %q, want %q", tt.goal, got, tt.want)
		}
	}
}

func TestRemoveOnce(t *testing.T) {
	if got := removeOnce("2018 Ford 2018", "2018"); got != "Ford 2018" {
		t.Errorf("removeOnce = %q", got)
	}
	if got := removeOnce("Ford", "Honda"); got != "Ford" {
		t.Errorf("removeOnce miss = %q", got)
	}
}
