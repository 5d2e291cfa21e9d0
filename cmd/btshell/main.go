// btshell is an interactive REPL over one B+-tree index file.
//
// Commands:
//
//	insert <key> <pageNo> <slotNo>
//	delete <key> <pageNo> <slotNo>
//	scan [lo hi]
//	dump
//	destroy
//	exit
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"BTreeDB/btree"
	"BTreeDB/bufmgr"
	"BTreeDB/diskmgr"
	"BTreeDB/types"
)

func main() {
	dbPath := "btshell.db"
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}

	disk, err := diskmgr.Open(dbPath)
	if err != nil {
		log.Fatal(err)
	}
	defer disk.Close()

	pool, err := bufmgr.New(disk, 64)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	tree, err := btree.Create("shell", btree.IntKeyType, 8, btree.DeleteFull, pool, disk)
	if err != nil {
		log.Fatal(err)
	}
	destroyed := false
	defer func() {
		if !destroyed {
			tree.Close()
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("bt> ")
		if !scanner.Scan() {
			break
		}
		fields := strings.Fields(strings.TrimSpace(scanner.Text()))
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "exit":
			return

		case "insert", "delete":
			if len(fields) != 4 {
				fmt.Printf("usage: %s <key> <pageNo> <slotNo>\n", fields[0])
				continue
			}
			key, rid, err := parseEntry(fields[1:])
			if err != nil {
				fmt.Println(err)
				continue
			}
			if fields[0] == "insert" {
				if err := tree.Insert(key, rid); err != nil {
					fmt.Printf("insert failed: %v\n", err)
				}
			} else {
				ok, err := tree.Delete(key, rid)
				if err != nil {
					fmt.Printf("delete failed: %v\n", err)
				} else if !ok {
					fmt.Println("no such entry")
				}
			}

		case "scan":
			var lo, hi btree.Key
			if len(fields) == 3 {
				l, err1 := strconv.Atoi(fields[1])
				h, err2 := strconv.Atoi(fields[2])
				if err1 != nil || err2 != nil {
					fmt.Println("usage: scan [lo hi]")
					continue
				}
				lo, hi = btree.IntKey(l), btree.IntKey(h)
			}
			scan, err := tree.NewScan(lo, hi)
			if err != nil {
				fmt.Printf("scan failed: %v\n", err)
				continue
			}
			count := 0
			for scan.Next() {
				fmt.Printf("  %s -> (%d,%d)\n", scan.Key(), scan.Rid().PageNo, scan.Rid().SlotNo)
				count++
			}
			if err := scan.Err(); err != nil {
				fmt.Printf("scan error: %v\n", err)
			}
			scan.Close()
			fmt.Printf("%d entries\n", count)

		case "dump":
			if err := tree.DumpTo(os.Stdout); err != nil {
				fmt.Printf("dump failed: %v\n", err)
			}

		case "destroy":
			if err := tree.Destroy(); err != nil {
				fmt.Printf("destroy failed: %v\n", err)
				continue
			}
			destroyed = true
			fmt.Println("tree destroyed")
			return

		default:
			fmt.Println("commands: insert, delete, scan, dump, destroy, exit")
		}
	}
}

func parseEntry(fields []string) (btree.Key, types.RID, error) {
	key, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, types.RID{}, fmt.Errorf("bad key %q", fields[0])
	}
	pageNo, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, types.RID{}, fmt.Errorf("bad pageNo %q", fields[1])
	}
	slotNo, err := strconv.Atoi(fields[2])
	if err != nil {
		return nil, types.RID{}, fmt.Errorf("bad slotNo %q", fields[2])
	}
	return btree.IntKey(key), types.RID{PageNo: types.PageId(pageNo), SlotNo: int16(slotNo)}, nil
}
