package maple

import (
	"testing"

	"github.com/ValentinKolb/dMeta/lib/db"
	dbtesting "github.com/ValentinKolb/dMeta/lib/db/testing"
)

func Test(t *testing.T) {
	dbtesting.RunKVDBTests(t, "MapleDB", func() db.KVDB {
		return NewMapleDB(nil)
	})
}

func Benchmark(b *testing.B) {
	dbtesting.RunKVDBBenchmarks(b, "MapleDB", func() db.KVDB {
		return NewMapleDB(nil)
	})
}
