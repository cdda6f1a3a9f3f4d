package fixed

import (
	"testing"
)

func TestPoint_FromInt64(t *testing.T) {
	tests := []struct {
		name  string
		value int64
		scale int
		want  string
	}{
		{"zero", 0, 0, "0"},
		{"positive", 123, 0, "123"},
		{"negative", -456, 0, "-456"},
		{"with scale", 123, 2, "1.23"},
		{"negative with scale", -456, 3, "-0.456"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromInt64(tt.value, tt.scale)
			if got.String() != tt.want {
				t.Errorf("FromInt64(%d, %d) = %s; want %s", tt.value, tt.scale, got.String(), tt.want)
			}
		})
	}
}

func TestPoint_FromString(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    string
		wantErr bool
	}{
		{"integer", "100", "100", false},
		{"decimal", "123.456", "123.456", false},
		{"negative", "-0.5", "-0.5", false},
		{"garbage", "not-a-number", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromString(tt.value)
			if tt.wantErr {
				if err == nil {
					t.Errorf("FromString(%q) expected error, got %s", tt.value, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("FromString(%q) unexpected error: %v", tt.value, err)
			}
			if got.String() != tt.want {
				t.Errorf("FromString(%q) = %s; want %s", tt.value, got.String(), tt.want)
			}
		})
	}
}

func TestPoint_Arithmetic(t *testing.T) {
	tests := []struct {
		name string
		op   func(a, b Point) Point
		a, b string
		want string
	}{
		{"add", Point.Add, "1.5", "2.5", "4"},
		{"sub", Point.Sub, "10", "3.25", "6.75"},
		{"mul", Point.Mul, "100", "0.001", "0.1"},
		{"div", Point.Div, "1", "4", "0.25"},
		{"mul negative", Point.Mul, "-2", "3", "-6"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := MustFromString(tt.a)
			b := MustFromString(tt.b)
			if got := tt.op(a, b); got.String() != tt.want {
				t.Errorf("%s(%s, %s) = %s; want %s", tt.name, tt.a, tt.b, got.String(), tt.want)
			}
		})
	}
}

func TestPoint_Comparisons(t *testing.T) {
	small := MustFromString("1.0")
	big := MustFromString("2")

	if !small.Lt(big) || !big.Gt(small) {
		t.Error("ordering broken")
	}
	if !small.Eq(MustFromString("1")) {
		t.Error("1.0 should equal 1 regardless of scale")
	}
	if !small.Lte(big) || !small.Lte(small) {
		t.Error("Lte broken")
	}
	if !big.Gte(small) || !big.Gte(big) {
		t.Error("Gte broken")
	}
}

func TestPoint_Predicates(t *testing.T) {
	if !Zero.IsZero() || Zero.IsPos() || Zero.IsNeg() {
		t.Error("zero predicates broken")
	}
	if !One.IsPos() || One.IsNeg() {
		t.Error("positive predicates broken")
	}
	if !NegOne.IsNeg() || NegOne.IsPos() {
		t.Error("negative predicates broken")
	}
}

func TestPoint_MinMax(t *testing.T) {
	a := MustFromString("3")
	b := MustFromString("7")

	if got := a.Min(b); !got.Eq(a) {
		t.Errorf("Min = %s; want %s", got, a)
	}
	if got := a.Max(b); !got.Eq(b) {
		t.Errorf("Max = %s; want %s", got, b)
	}
}

func TestPoint_Sqrt(t *testing.T) {
	got := MustFromString("16").Sqrt()
	if !got.Eq(MustFromString("4")) {
		t.Errorf("Sqrt(16) = %s; want 4", got)
	}
}

func TestPoint_TextRoundTrip(t *testing.T) {
	original := MustFromString("1234.5678")
	text, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}

	var decoded Point
	if err := decoded.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if !decoded.Eq(original) {
		t.Errorf("round trip changed value: %s -> %s", original, decoded)
	}
}

func TestMean(t *testing.T) {
	values := []Point{MustFromString("1"), MustFromString("2"), MustFromString("3")}
	if got := Mean(values); !got.Eq(MustFromString("2")) {
		t.Errorf("Mean = %s; want 2", got)
	}
	if got := Mean(nil); !got.IsZero() {
		t.Errorf("Mean(nil) = %s; want 0", got)
	}
}
