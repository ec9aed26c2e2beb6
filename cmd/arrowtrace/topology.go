package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/arrowtrace/profiler/scope"
)

// cpuInfo is one online logical CPU's topology coordinates, as read
// from /sys/devices/system/cpu, per spec.md §6's "CPU topology
// (cores/packages)" external interface.
type cpuInfo struct {
	Cpu  scope.Cpu
	Core scope.Core
	Pkg  scope.Package
}

// enumerateCpus reads /sys/devices/system/cpu/online and each online
// CPU's topology/{core_id,physical_package_id} files, the same sysfs
// surface spec.md's external-interfaces section names for PMU cpumask
// parsing (perfevent/attr.go's pmuCPUSet). CPU-set mode uses this to
// build the one-monitor-per-CPU scope list control.Session needs.
func enumerateCpus(sysCPUDir string) ([]cpuInfo, error) {
	online, err := readCPURangeFile(sysCPUDir + "/online")
	if err != nil {
		return nil, fmt.Errorf("topology: reading online CPU list: %w", err)
	}

	out := make([]cpuInfo, 0, len(online))
	for _, cpu := range online {
		coreID, err := readSysInt(fmt.Sprintf("%s/cpu%d/topology/core_id", sysCPUDir, cpu))
		if err != nil {
			return nil, err
		}
		pkgID, err := readSysInt(fmt.Sprintf("%s/cpu%d/topology/physical_package_id", sysCPUDir, cpu))
		if err != nil {
			return nil, err
		}
		out = append(out, cpuInfo{
			Cpu:  scope.Cpu(cpu),
			Core: scope.Core{CoreID: int32(coreID), PackageID: int32(pkgID)},
			Pkg:  scope.Package(pkgID),
		})
	}
	return out, nil
}

func readSysInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("topology: reading %s: %w", path, err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("topology: parsing %s: %w", path, err)
	}
	return n, nil
}

// readCPURangeFile parses a comma/dash range-list sysfs file such as
// "0-3,8-11", the same grammar perfevent.parseCPURangeList handles for
// PMU cpumask files; duplicated here rather than exported from
// perfevent since this is topology enumeration, a distinct concern
// from event-source PMU affinity.
func readCPURangeFile(path string) ([]int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	str := strings.TrimSpace(string(b))
	if str == "" {
		return nil, nil
	}
	var out []int
	for _, r := range strings.Split(str, ",") {
		var lo, hi int
		if dash := strings.IndexByte(r, '-'); dash == -1 {
			n, err := strconv.Atoi(r)
			if err != nil {
				return nil, fmt.Errorf("parsing cpu %q: %w", r, err)
			}
			lo, hi = n, n
		} else {
			var err error
			lo, err = strconv.Atoi(r[:dash])
			if err != nil {
				return nil, fmt.Errorf("parsing cpu range %q: %w", r, err)
			}
			hi, err = strconv.Atoi(r[dash+1:])
			if err != nil {
				return nil, fmt.Errorf("parsing cpu range %q: %w", r, err)
			}
		}
		for cpu := lo; cpu <= hi; cpu++ {
			out = append(out, cpu)
		}
	}
	return out, nil
}
