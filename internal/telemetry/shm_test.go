//go:build linux

package telemetry

import "testing"

func TestRegion_CreateWriteReadClose(t *testing.T) {
	r, err := CreateRegion(4096)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if r.Size() != 4096 {
		t.Fatalf("expected size 4096, got %d", r.Size())
	}
	if r.FD() < 0 {
		t.Fatalf("expected valid fd, got %d", r.FD())
	}

	payload := []byte(`{"hello":"world"}`)
	if err := r.Write(payload); err != nil {
		t.Fatal(err)
	}
	got := r.Read()
	if string(got) != string(payload) {
		t.Fatalf("expected round-tripped payload %q, got %q", payload, got)
	}
}

func TestRegion_WriteTooLarge(t *testing.T) {
	r, err := CreateRegion(8)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if err := r.Write([]byte("this payload does not fit")); err == nil {
		t.Fatal("expected error writing a payload larger than the region")
	}
}

func TestRegion_OpenSharesBackingMemory(t *testing.T) {
	r, err := CreateRegion(4096)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	opened, err := OpenRegion(r.FD(), r.Size())
	if err != nil {
		t.Fatal(err)
	}
	defer opened.Close()

	if err := r.Write([]byte("shared")); err != nil {
		t.Fatal(err)
	}
	if got := string(opened.Read()); got != "shared" {
		t.Fatalf("expected OpenRegion to observe the writer's update, got %q", got)
	}
}
