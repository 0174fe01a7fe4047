package unitwork

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOptionsFromYAML(t *testing.T) {
	t.Parallel()
	o, err := OptionsFromYAML([]byte(`
allow_partial_success: true
combine_on_duplicate: true
permission_mode: strict
sharing_mode: inherit
`))
	require.NoError(t, err)
	assert.True(t, o.AllowPartialSuccess)
	assert.True(t, o.CombineOnDuplicate)
	assert.Equal(t, "strict", o.PermissionMode)
	assert.Equal(t, "inherit", o.SharingMode)

	_, err = OptionsFromYAML([]byte(`allow_partial_success: {`))
	assert.Error(t, err)
}

func TestWithOptionsKeepsLogger(t *testing.T) {
	t.Parallel()
	log := zap.NewNop()
	var o Options
	WithLogger(log)(&o)
	WithOptions(Options{AllowPartialSuccess: true})(&o)
	assert.True(t, o.AllowPartialSuccess)
	assert.Same(t, log, o.Logger)
}
