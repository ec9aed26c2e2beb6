package main

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func writeSysFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func fakeSysCPU(t *testing.T, online string, topo map[int][2]int) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "cpu")
	writeSysFile(t, filepath.Join(root, "online"), online)
	for cpu, ids := range topo {
		dir := filepath.Join(root, "cpu"+strconv.Itoa(cpu), "topology")
		writeSysFile(t, filepath.Join(dir, "core_id"), strconv.Itoa(ids[0]))
		writeSysFile(t, filepath.Join(dir, "physical_package_id"), strconv.Itoa(ids[1]))
	}
	return root
}

func TestEnumerateCpusParsesRangeList(t *testing.T) {
	root := fakeSysCPU(t, "0-1,3", map[int][2]int{
		0: {0, 0},
		1: {1, 0},
		3: {1, 1},
	})

	cpus, err := enumerateCpus(root)
	if err != nil {
		t.Fatalf("enumerateCpus: %v", err)
	}
	if len(cpus) != 3 {
		t.Fatalf("got %d cpus, want 3: %+v", len(cpus), cpus)
	}
	if int(cpus[2].Cpu) != 3 || cpus[2].Core.CoreID != 1 || cpus[2].Core.PackageID != 1 {
		t.Errorf("cpu 3 topology = %+v, want core 1 pkg 1", cpus[2])
	}
}

func TestEnumerateCpusMissingOnlineFileErrors(t *testing.T) {
	if _, err := enumerateCpus(filepath.Join(t.TempDir(), "does-not-exist")); err == nil {
		t.Fatal("expected an error for a missing online file")
	}
}
