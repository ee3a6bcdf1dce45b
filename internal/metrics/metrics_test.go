package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveStore(t *testing.T) {
	c := New()

	c.ObserveStore("insert_item", time.Now(), nil)
	c.ObserveStore("insert_item", time.Now(), nil)
	c.ObserveStore("insert_item", time.Now(), errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.StoreOps.WithLabelValues("insert_item", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.StoreOps.WithLabelValues("insert_item", ResultError)))
	assert.Equal(t, 1, testutil.CollectAndCount(c.StoreLatency))
}

func TestCounters(t *testing.T) {
	c := New()

	c.Decoded(3)
	c.Decoded(0)
	c.Archived("export", "item", 4)
	c.Archived("export", "item", -1)
	c.Notified("items", 1)
	c.Notified("items", 0)
	c.Published("replace", nil)

	assert.Equal(t, 3.0, testutil.ToFloat64(c.LegacyDecoded))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.ArchiveItems.WithLabelValues("export", "item")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Notifications.WithLabelValues("items")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.EventsPublished.WithLabelValues("replace", ResultOK)))
}

func TestNilCollector(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.ObserveStore("get_item", time.Now(), nil)
		c.Notified("items", 2)
		c.Decoded(1)
		c.Archived("import", "snapshot", 1)
		c.Published("save", nil)
	})
	assert.Nil(t, c.Registry())
	assert.NoError(t, c.WriteTextfile("/nonexistent/ledger.prom"))
}

func TestWriteTextfile(t *testing.T) {
	c := New()
	c.ObserveStore("replace_for_date", time.Now(), nil)

	path := filepath.Join(t.TempDir(), "ledger.prom")
	require.NoError(t, c.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `dailyledger_store_operations_total{op="replace_for_date",result="ok"} 1`))
}
