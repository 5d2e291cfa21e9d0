package bench

import (
	"math/rand"

	"BTreeDB/types"
)

type WorkloadType string

const (
	OLTP      WorkloadType = "OLTP (90/10)"
	OLAP      WorkloadType = "OLAP (10/90)"
	Reporting WorkloadType = "Reporting (Range)"
)

// ExecuteWorkload runs a mixed distribution of ops against the index.
func ExecuteWorkload(idx Index, wType WorkloadType, ops int) error {
	for i := 0; i < ops; i++ {
		choice := rand.Intn(100)
		key := int64(rand.Intn(ops))

		switch wType {
		case OLTP:
			if choice < 90 {
				if _, _, err := idx.Lookup(key); err != nil {
					return err
				}
			} else if err := idx.Insert(key, ridFor(key)); err != nil {
				return err
			}
		case OLAP:
			if choice < 10 {
				if _, _, err := idx.Lookup(key); err != nil {
					return err
				}
			} else if err := idx.Insert(key, ridFor(key)); err != nil {
				return err
			}
		case Reporting:
			it, err := idx.Scan(key, key+100)
			if err != nil {
				return err
			}
			for it.Next() {
			}
			it.Close()
		}
	}
	return nil
}

// ridFor derives a synthetic record id for a key so workload inserts
// stay deterministic.
func ridFor(key int64) types.RID {
	return types.RID{PageNo: types.PageId(key >> 8), SlotNo: int16(key & 0xff)}
}
