package device

import (
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/halcyon/engine/renderer/metadata"
)

// stubDevice satisfies Device without implementing anything; the registry
// never calls through it.
type stubDevice struct{ Device }

func TestRegisterAndOpen(t *testing.T) {
	var captured Options
	Register("registry-test-mock", func(opts Options) (Device, error) {
		captured = opts
		return stubDevice{}, nil
	})

	want := Options{Extent: metadata.Extent2D{Width: 320, Height: 200}, Slots: 2}
	dev, err := Open("registry-test-mock", want)
	require.NoError(t, err)
	assert.NotNil(t, dev)
	assert.Equal(t, want, captured, "options pass through to the factory unchanged")
}

func TestOpenUnknownBackend(t *testing.T) {
	Register("registry-test-known", func(Options) (Device, error) {
		return stubDevice{}, nil
	})

	_, err := Open("registry-test-missing", Options{})
	require.Error(t, err)

	var unknown *UnknownBackendError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "registry-test-missing", unknown.Name)
	assert.Contains(t, unknown.Known, "registry-test-known")
	assert.Contains(t, err.Error(), "registry-test-missing")
}

func TestRegisterDuplicatePanics(t *testing.T) {
	Register("registry-test-dup", func(Options) (Device, error) {
		return stubDevice{}, nil
	})
	assert.Panics(t, func() {
		Register("registry-test-dup", func(Options) (Device, error) {
			return stubDevice{}, nil
		})
	})
}

func TestRegisterNilFactoryPanics(t *testing.T) {
	assert.Panics(t, func() {
		Register("registry-test-nil", nil)
	})
}

func TestBackendsSorted(t *testing.T) {
	Register("registry-test-zz", func(Options) (Device, error) { return stubDevice{}, nil })
	Register("registry-test-aa", func(Options) (Device, error) { return stubDevice{}, nil })

	names := Backends()
	assert.True(t, sort.StringsAreSorted(names))
	assert.Contains(t, names, "registry-test-aa")
	assert.Contains(t, names, "registry-test-zz")
}
