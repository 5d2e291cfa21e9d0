// btbench runs the index benchmark sweep (B+-tree vs Pebble) and renders
// the measured latencies as a bar chart.
package main

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"BTreeDB/bench"
	"BTreeDB/btree"
	"BTreeDB/bufmgr"
	"BTreeDB/diskmgr"
	"BTreeDB/types"
)

const scale = 100000

func main() {
	workDir, err := os.MkdirTemp("", "btbench")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(workDir)

	out, err := os.Create("bench_results.csv")
	if err != nil {
		log.Fatal(err)
	}
	w := csv.NewWriter(out)
	w.Write([]string{"Structure", "Config", "TestType", "LatencyNs", "MemMB", "HeapObjects"})

	// --- B+ tree over the disk/buffer stack ---
	disk, err := diskmgr.Open(filepath.Join(workDir, "bench.db"))
	if err != nil {
		log.Fatal(err)
	}
	pool, err := bufmgr.New(disk, 256)
	if err != nil {
		log.Fatal(err)
	}
	tree, err := btree.Create("bench", btree.IntKeyType, 8, btree.DeleteNaive, pool, disk)
	if err != nil {
		log.Fatal(err)
	}
	btIdx := bench.NewBTreeIndex(tree)
	runSuite(w, "B+Tree", btIdx, scale)
	btIdx.Close()
	pool.Close()
	disk.Close()

	// --- Pebble for comparison ---
	lsm, err := bench.OpenLSM(filepath.Join(workDir, "lsm"))
	if err != nil {
		log.Fatal(err)
	}
	runSuite(w, "LSM (Pebble)", lsm, scale)
	lsm.Close()

	w.Flush()
	out.Close()

	if err := plotResults("bench_results.csv", "bench_latency.png"); err != nil {
		log.Fatal(err)
	}
	fmt.Println("Benchmark complete: bench_results.csv, bench_latency.png")
}

func runSuite(w *csv.Writer, name string, idx bench.Index, n int) {
	fmt.Printf("Testing %s\n", name)

	// 1. Pure insert (initial load)
	start := time.Now()
	for k := 0; k < n; k++ {
		if err := idx.Insert(int64(k), types.RID{PageNo: types.PageId(k >> 8), SlotNo: int16(k & 0xff)}); err != nil {
			log.Fatalf("%s: insert %d: %v", name, k, err)
		}
	}
	insertLatency := time.Since(start).Nanoseconds() / int64(n)

	stats := bench.GetDetailedMem()
	bench.Record(w, bench.BenchResult{
		Name:      name,
		Operation: "Insert",
		LatencyNs: insertLatency,
		MemMB:     stats.AllocMB,
		Objects:   stats.HeapObjects,
	})

	// 2. OLTP (read heavy)
	start = time.Now()
	if err := bench.ExecuteWorkload(idx, bench.OLTP, n/2); err != nil {
		log.Fatalf("%s: OLTP: %v", name, err)
	}
	bench.Record(w, bench.BenchResult{Name: name, Operation: "Workload_OLTP",
		LatencyNs: time.Since(start).Nanoseconds() / int64(n/2), MemMB: bench.GetDetailedMem().AllocMB})

	// 3. OLAP (write heavy)
	start = time.Now()
	if err := bench.ExecuteWorkload(idx, bench.OLAP, n/2); err != nil {
		log.Fatalf("%s: OLAP: %v", name, err)
	}
	bench.Record(w, bench.BenchResult{Name: name, Operation: "Workload_OLAP",
		LatencyNs: time.Since(start).Nanoseconds() / int64(n/2), MemMB: bench.GetDetailedMem().AllocMB})

	// 4. Range scans
	start = time.Now()
	if err := bench.ExecuteWorkload(idx, bench.Reporting, 100); err != nil {
		log.Fatalf("%s: range: %v", name, err)
	}
	bench.Record(w, bench.BenchResult{Name: name, Operation: "Workload_Range",
		LatencyNs: time.Since(start).Nanoseconds() / 100, MemMB: bench.GetDetailedMem().AllocMB})
}

// plotResults renders the latency columns of the CSV as grouped bars,
// one group per test type, one bar color per structure.
func plotResults(csvPath, outPath string) error {
	f, err := os.Open(csvPath)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return err
	}

	// structure -> operation -> latency
	latencies := make(map[string]map[string]float64)
	var structures, ops []string
	for _, row := range rows[1:] {
		name, op := row[0], row[2]
		ns, err := strconv.ParseFloat(row[3], 64)
		if err != nil {
			return err
		}
		if _, ok := latencies[name]; !ok {
			latencies[name] = make(map[string]float64)
			structures = append(structures, name)
		}
		if _, ok := latencies[name][op]; !ok {
			latencies[name][op] = ns
		}
		seen := false
		for _, o := range ops {
			if o == op {
				seen = true
				break
			}
		}
		if !seen {
			ops = append(ops, op)
		}
	}

	p := plot.New()
	p.Title.Text = "Index latency by workload"
	p.Y.Label.Text = "ns/op"

	barWidth := vg.Points(20)
	for i, name := range structures {
		values := make(plotter.Values, len(ops))
		for j, op := range ops {
			values[j] = latencies[name][op]
		}
		bars, err := plotter.NewBarChart(values, barWidth)
		if err != nil {
			return err
		}
		bars.Color = plotutil.Color(i)
		bars.Offset = barWidth * vg.Length(i)
		p.Add(bars)
		p.Legend.Add(name, bars)
	}
	p.Legend.Top = true
	p.NominalX(ops...)

	return p.Save(8*vg.Inch, 4*vg.Inch, outPath)
}
