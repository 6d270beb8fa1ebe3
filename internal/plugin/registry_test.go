package plugin

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/countyops/countysync/internal/domain/auth"
	apperrors "github.com/countyops/countysync/internal/errors"
)

type nopRunner struct{}

func (nopRunner) Submit(context.Context, json.RawMessage) (Handle, error) { return nil, nil }
func (nopRunner) Execute(context.Context, Handle) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}
func (nopRunner) Cancel(context.Context, Handle) error { return nil }

func descriptor(name string) Descriptor {
	return Descriptor{Name: name, Version: "1.0.0", Action: auth.ActionExport, Runner: nopRunner{}}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(descriptor("gis-export")))

	d, err := r.Get("gis-export")
	require.NoError(t, err)
	assert.Equal(t, "gis-export", d.Name)
	assert.Equal(t, auth.ActionExport, d.Action)
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("nope")
	require.Error(t, err)
	assert.True(t, apperrors.IsUnknownPlugin(err))
}

func TestRegistry_DuplicateName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(descriptor("gis-export")))
	require.Error(t, r.Register(descriptor("gis-export")))
}

func TestRegistry_FrozenRejectsRegistration(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(descriptor("gis-export")))
	r.Freeze()
	r.Freeze() // idempotent

	err := r.Register(descriptor("market-analysis"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frozen")

	// Existing registrations still readable.
	_, err = r.Get("gis-export")
	require.NoError(t, err)
}

func TestRegistry_ValidatesDescriptor(t *testing.T) {
	r := NewRegistry()

	missingName := descriptor(" ")
	require.Error(t, r.Register(missingName))

	missingAction := descriptor("x")
	missingAction.Action = ""
	require.Error(t, r.Register(missingAction))

	missingRunner := descriptor("y")
	missingRunner.Runner = nil
	require.Error(t, r.Register(missingRunner))
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(descriptor("market-analysis")))
	require.NoError(t, r.Register(descriptor("gis-export")))

	assert.Equal(t, []string{"gis-export", "market-analysis"}, r.Names())
}
