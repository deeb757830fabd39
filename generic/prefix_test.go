package generic_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/finance-engine/generic"
)

func TestTypeCode_Prefixes(t *testing.T) {
	assert.Equal(t, []generic.TypeCode{"AFM-B.2", "AFM-B", "AFM"}, generic.TypeCode(" afm-b.2 ").Prefixes())
	assert.Nil(t, generic.TypeCode("").Prefixes())
	assert.Equal(t, generic.TypeCode("FRH"), generic.TypeCode("FRH-H").Root())
	assert.True(t, generic.TypeCode("FRH-H").IsDescendantOf("frh"))
	assert.False(t, generic.TypeCode("FRHX").IsDescendantOf("FRH"))
}

func TestPrefixTable_MostSpecificWins(t *testing.T) {
	table := generic.PrefixTableOf(map[string]string{
		"AFM":   "general",
		"afm-b": "specific",
	})

	v, p, ok := table.Resolve("AFM-B.7")
	assert.True(t, ok)
	assert.Equal(t, "specific", v)
	assert.Equal(t, generic.TypeCode("AFM-B"), p)

	v, p, ok = table.Resolve("AFM-G")
	assert.True(t, ok)
	assert.Equal(t, "general", v)
	assert.Equal(t, generic.TypeCode("AFM"), p)

	_, _, ok = table.Resolve("FRH")
	assert.False(t, ok)

	_, ok = table.Get("AFM-B.7")
	assert.False(t, ok)
	assert.Equal(t, []generic.TypeCode{"AFM", "AFM-B"}, table.Keys())
	assert.Equal(t, 2, table.Len())

	var empty *generic.PrefixTable[int]
	_, _, ok = empty.Resolve("AFM")
	assert.False(t, ok)
	assert.Zero(t, empty.Len())
}
