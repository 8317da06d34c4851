package conv

import "testing"

func TestItoa(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{7, "7"},
		{99, "99"},
		{-17, "-17"},
		{1234567890, "1234567890"},
	}
	var buf [20]byte
	for _, c := range cases {
		if got := string(Itoa(buf[:], c.in)); got != c.want {
			t.Errorf("Itoa(%d) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestUtoa(t *testing.T) {
	var buf [20]byte
	if got := string(Utoa(buf[:], 0)); got != "0" {
		t.Errorf("Utoa(0) = %q", got)
	}
	if got := string(Utoa(buf[:], 5830)); got != "5830" {
		t.Errorf("Utoa(5830) = %q", got)
	}
}
