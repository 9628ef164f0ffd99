package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/anvil/pkg/version"
)

func TestCloneRetainsAndCloseReleases(t *testing.T) {
	var idleVersions []version.Version
	active := version.NewActive(func(v version.Version) {
		idleVersions = append(idleVersions, v)
	})

	stamp := version.Stamp{Version: 1}
	data := new(int)

	tx := New(stamp, data, active)
	assert.Equal(t, 1, active.Count(1))

	clone := tx.Clone()
	assert.Equal(t, 2, active.Count(1))

	clone.Close()
	assert.Equal(t, 1, active.Count(1))
	assert.Empty(t, idleVersions)

	tx.Close()
	assert.Equal(t, 0, active.Count(1))
	assert.Equal(t, []version.Version{1}, idleVersions)
}

func TestCloseIsIdempotent(t *testing.T) {
	active := version.NewActive(nil)
	tx := New(version.Stamp{Version: 1}, nil, active)

	tx.Close()
	tx.Close()

	assert.Equal(t, 0, active.Count(1))
}

func TestEquivalentRequiresSameVersionAndData(t *testing.T) {
	active := version.NewActive(nil)
	data := new(int)
	otherData := new(int)

	a := New(version.Stamp{Version: 1}, data, active)
	defer a.Close()
	b := New(version.Stamp{Version: 1}, data, active)
	defer b.Close()
	c := New(version.Stamp{Version: 2}, data, active)
	defer c.Close()
	d := New(version.Stamp{Version: 1}, otherData, active)
	defer d.Close()

	assert.True(t, a.Equivalent(b))
	assert.False(t, a.Equivalent(c))
	assert.False(t, a.Equivalent(d))
}
