package core

import "testing"

func baseHashInput() HashInput {
	return HashInput{
		Inputs: &InputSet{Inputs: []Input{
			{Path: "/w/a.txt", Content: []byte("a")},
			{Path: "/w/b.txt", Content: []byte("b")},
		}},
		Command:    "cc -o out a.txt b.txt",
		Env:        map[string]string{"CC": "gcc", "LANG": "C"},
		Outputs:    []string{"out"},
		WorkingDir: "/w",
	}
}

func TestComputeHash_Deterministic(t *testing.T) {
	h := NewTaskHasher()
	first := h.ComputeHash(baseHashInput())
	for i := 0; i < 10; i++ {
		if got := h.ComputeHash(baseHashInput()); got != first {
			t.Fatalf("run %d: got %s want %s", i, got, first)
		}
	}
	if len(first) != 64 {
		t.Fatalf("expected hex sha256, got %q", first)
	}
}

func TestComputeHash_EachFieldMatters(t *testing.T) {
	h := NewTaskHasher()
	base := h.ComputeHash(baseHashInput())

	cases := map[string]func(*HashInput){
		"content": func(in *HashInput) { in.Inputs.Inputs[0].Content = []byte("A") },
		"path":    func(in *HashInput) { in.Inputs.Inputs[0].Path = "/w/c.txt" },
		"command": func(in *HashInput) { in.Command = "cc -O2 -o out a.txt b.txt" },
		"env":     func(in *HashInput) { in.Env["CC"] = "clang" },
		"outputs": func(in *HashInput) { in.Outputs = []string{"out", "out.map"} },
		"workdir": func(in *HashInput) { in.WorkingDir = "/elsewhere" },
		"no inputs": func(in *HashInput) {
			in.Inputs = nil
		},
	}
	for name, mutate := range cases {
		in := baseHashInput()
		mutate(&in)
		if got := h.ComputeHash(in); got == base {
			t.Errorf("%s: hash did not change", name)
		}
	}
}

func TestComputeHash_UnorderedCollections(t *testing.T) {
	h := NewTaskHasher()
	a := baseHashInput()
	b := baseHashInput()
	b.Outputs = []string{"z", "out"}
	a.Outputs = []string{"out", "z"}
	b.Env = map[string]string{"LANG": "C", "CC": "gcc"}
	if h.ComputeHash(a) != h.ComputeHash(b) {
		t.Fatalf("env and output order must not matter")
	}
}

func TestComputeHash_FieldBoundaries(t *testing.T) {
	h := NewTaskHasher()
	a := HashInput{Env: map[string]string{"AB": "C"}}
	b := HashInput{Env: map[string]string{"A": "BC"}}
	if h.ComputeHash(a) == h.ComputeHash(b) {
		t.Fatalf("length prefixes must separate env keys from values")
	}

	c := HashInput{Command: "ab", WorkingDir: "c"}
	d := HashInput{Command: "a", WorkingDir: "bc"}
	if h.ComputeHash(c) == h.ComputeHash(d) {
		t.Fatalf("length prefixes must separate fields")
	}
}
