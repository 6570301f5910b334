package types

import "testing"

func TestClampUnit(t *testing.T) {
	cases := map[float64]float64{
		-1.5: 0,
		0:    0,
		0.42: 0.42,
		1:    1,
		3.7:  1,
	}
	for in, want := range cases {
		if got := ClampUnit(in); got != want {
			t.Errorf("ClampUnit(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestClampPriority(t *testing.T) {
	cases := map[int]int{
		-5: 1,
		0:  1,
		1:  1,
		5:  5,
		10: 10,
		99: 10,
	}
	for in, want := range cases {
		if got := ClampPriority(in); got != want {
			t.Errorf("ClampPriority(%d) = %d, want %d", in, got, want)
		}
	}
}
