package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDictPreservesInsertionOrder(t *testing.T) {
	d := NewDict()
	d.Set("z", "1")
	d.Set("a", "2")
	d.Set("m", "3")
	assert.Equal(t, []string{"z", "a", "m"}, d.Keys())
}

func TestDictResetKeepsPosition(t *testing.T) {
	d := DictOf("a", "1", "b", "2", "c", "3")
	d.Set("a", "changed")
	assert.Equal(t, []string{"a", "b", "c"}, d.Keys())
	assert.Equal(t, "changed", d.Get("a"))
	assert.Equal(t, 3, d.Len())
}

func TestDictLookup(t *testing.T) {
	d := DictOf("k", "v")

	v, ok := d.Lookup("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	_, ok = d.Lookup("missing")
	assert.False(t, ok)
	assert.Equal(t, "", d.Get("missing"))
}

func TestDictEqualIncludesOrder(t *testing.T) {
	a := DictOf("x", "1", "y", "2")
	b := DictOf("x", "1", "y", "2")
	c := DictOf("y", "2", "x", "1")

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestDictClone(t *testing.T) {
	a := DictOf("x", "1")
	b := a.Clone()
	b.Set("x", "2")
	assert.Equal(t, "1", a.Get("x"))
	assert.Equal(t, "2", b.Get("x"))
}
