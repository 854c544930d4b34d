package catalogue

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kirillkom/pidsync/internal/infrastructure/catalogue/dspace"
	"github.com/kirillkom/pidsync/internal/infrastructure/catalogue/legacy"
)

func TestNewSelectsVariant(t *testing.T) {
	current, err := New(Options{BaseURL: "http://catalogue/server"})
	require.NoError(t, err)
	require.Equal(t, dspace.SourceName, current.Name())

	old, err := New(Options{Variant: " Legacy ", BaseURL: "http://catalogue"})
	require.NoError(t, err)
	require.Equal(t, legacy.SourceName, old.Name())

	_, err = New(Options{Variant: "eprints"})
	require.Error(t, err)
}
