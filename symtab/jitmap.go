package symtab

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/arrowtrace/profiler/archive"
)

// jitRegion is one line of a perf-<pid>.map file: start, length, name.
type jitRegion struct {
	start, size uint64
	name        string
}

// JITMapResolver resolves addresses against a process's
// /tmp/perf-<pid>.map, the convention JIT runtimes (the JVM, V8, LuaJIT)
// use to publish symbol names for their generated code, per spec.md
// §4.3's "JIT perf-<pid>.map" backend.
type JITMapResolver struct {
	regions []jitRegion // sorted by start
}

// LoadJITMap reads /tmp/perf-<pid>.map for pid. Each line is
// "<hex start> <hex size> <name>".
func LoadJITMap(pid int) (*JITMapResolver, error) {
	path := fmt.Sprintf("/tmp/perf-%d.map", pid)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("symtab: opening %s: %w", path, err)
	}
	defer f.Close()
	r, err := parseJITMap(f)
	if err != nil {
		return nil, fmt.Errorf("symtab: reading %s: %w", path, err)
	}
	return r, nil
}

func parseJITMap(rd io.Reader) (*JITMapResolver, error) {
	res := &JITMapResolver{}
	sc := bufio.NewScanner(rd)
	for sc.Scan() {
		fields := strings.SplitN(sc.Text(), " ", 3)
		if len(fields) != 3 {
			continue
		}
		start, err1 := strconv.ParseUint(fields[0], 16, 64)
		size, err2 := strconv.ParseUint(fields[1], 16, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		res.regions = append(res.regions, jitRegion{start, size, fields[2]})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	sort.Slice(res.regions, func(i, j int) bool { return res.regions[i].start < res.regions[j].start })
	return res, nil
}

// LookupLineInfo finds the JIT region containing addr. JIT maps carry
// no file/line information.
func (r *JITMapResolver) LookupLineInfo(addr uint64) (archive.LineInfo, error) {
	i := sort.Search(len(r.regions), func(i int) bool { return r.regions[i].start+r.regions[i].size > addr })
	if i < len(r.regions) && r.regions[i].start <= addr && addr < r.regions[i].start+r.regions[i].size {
		return archive.LineInfo{Function: r.regions[i].name, Dso: "[perf-map]"}, nil
	}
	return archive.LineInfo{}, fmt.Errorf("symtab: no JIT region at %#x", addr)
}
