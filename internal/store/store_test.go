package store

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
		wantErr  bool
	}{
		{"/", "/", false},
		{"/foo/", "/foo", false},
		{"/foo//bar", "/foo/bar", false},
		{"/foo%2Fbar", "/foo/bar", false},
		{"", "", true},
		{"foo", "", true},
		{"///", "/", false},
	}
	for _, c := range cases {
		got, err := Normalize(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("Normalize(%q): want error, got %q", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Normalize(%q): unexpected error %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestMatchesAndLongestMatch(t *testing.T) {
	all := map[string]Record{
		"/":          {Target: "http://a"},
		"/user/abc":  {Target: "http://b"},
		"/user/abcd": {Target: "http://c"},
	}

	prefix, rec, ok := LongestMatch(all, "/user/abc/page")
	if !ok || prefix != "/user/abc" || rec.Target != "http://b" {
		t.Fatalf("got prefix=%q rec=%+v ok=%v", prefix, rec, ok)
	}

	prefix, _, ok = LongestMatch(all, "/user/xyz")
	if !ok || prefix != "/" {
		t.Fatalf("want root fallback, got prefix=%q ok=%v", prefix, ok)
	}

	if Matches("/user/abc", "/user/abcd") {
		t.Fatalf("/user/abc must not match /user/abcd (needs a following slash)")
	}
}

func TestMergeData(t *testing.T) {
	base := []byte(`{"a":1,"b":2}`)
	patch := []byte(`{"b":3,"c":4}`)
	merged, err := MergeData(base, patch)
	if err != nil {
		t.Fatal(err)
	}
	got := string(merged)
	// order of map keys in json.Marshal is sorted, so this is deterministic.
	want := `{"a":1,"b":3,"c":4}`
	if got != want {
		t.Fatalf("MergeData = %s, want %s", got, want)
	}
}
