package volumeio

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestListPatients(t *testing.T) {
	root := t.TempDir()
	for _, p := range []string{"p2", "p1"} {
		if err := os.MkdirAll(filepath.Join(root, p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(root, p, "metadata.yaml"), []byte("fov_cm: 40\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), nil, 0644); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		arg      string
		expected []string
	}{
		{root, []string{filepath.Join(root, "p1"), filepath.Join(root, "p2")}},
		{filepath.Join(root, "p2") + "/", []string{filepath.Join(root, "p2")}},
		{"a, b,,gs://bucket/c/", []string{"a", "b", "gs://bucket/c"}},
		{"gs://bucket/c", []string{"gs://bucket/c"}},
	}
	for _, c := range cases {
		got, err := ListPatients(c.arg)
		if err != nil {
			t.Fatalf("%q: %v", c.arg, err)
		}
		if !reflect.DeepEqual(got, c.expected) {
			t.Errorf("%q: got %v, expected %v", c.arg, got, c.expected)
		}
	}

	if _, err := ListPatients(filepath.Join(root, "missing")); err == nil {
		t.Error("expected an error for a missing directory")
	}
}
