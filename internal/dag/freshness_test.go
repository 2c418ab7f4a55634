package dag

import "testing"

func TestFreshness_Combine(t *testing.T) {
	cases := []struct {
		a, b Freshness
		want Freshness
	}{
		{Fresh, Fresh, Fresh},
		{Fresh, Dirty, Dirty},
		{Dirty, Fresh, Dirty},
		{Dirty, Dirty, Dirty},
	}
	for _, tc := range cases {
		if got := tc.a.Combine(tc.b); got != tc.want {
			t.Fatalf("%s.Combine(%s) = %s, want %s", tc.a, tc.b, got, tc.want)
		}
		if tc.a.Combine(tc.b) != tc.b.Combine(tc.a) {
			t.Fatalf("Combine is not commutative for %s, %s", tc.a, tc.b)
		}
	}
	for _, f := range []Freshness{Fresh, Dirty} {
		if f.Combine(f) != f {
			t.Fatalf("Combine is not idempotent for %s", f)
		}
	}
}
