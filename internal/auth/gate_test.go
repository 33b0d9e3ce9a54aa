package auth

import "testing"

func TestAllow(t *testing.T) {
	g := NewGate(false, "", []string{"u1", "u2"}, []string{"r1"})

	cases := []struct {
		name  string
		user  string
		roles []string
		want  bool
	}{
		{"allowed user", "u1", nil, true},
		{"allowed role", "u9", []string{"r9", "r1"}, true},
		{"neither user nor role", "u9", []string{"r9"}, false},
		{"no roles at all", "u9", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := g.Allow(tc.user, tc.roles); got != tc.want {
				t.Fatalf("Allow(%q, %v) = %v, want %v", tc.user, tc.roles, got, tc.want)
			}
		})
	}
}

func TestAllowDisabledAdmitsEveryone(t *testing.T) {
	g := NewGate(true, "", nil, nil)
	if !g.Allow("anyone", nil) {
		t.Fatal("disabled gate denied a caller")
	}
}

func TestAllowChannel(t *testing.T) {
	g := NewGate(false, "cmd-channel", []string{"u1"}, nil)
	if g.AllowChannel("other-channel") {
		t.Fatal("restricted gate admitted the wrong channel")
	}
	if !g.AllowChannel("cmd-channel") {
		t.Fatal("restricted gate denied its own channel")
	}
	open := NewGate(false, "", nil, nil)
	if !open.AllowChannel("anything") {
		t.Fatal("unrestricted gate denied a channel")
	}
}
