package loader

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clapcheck/clapcheck/internal/clap"
	"github.com/clapcheck/clapcheck/internal/clap/claptest"
)

func TestOpenWithWrapsOpenerError(t *testing.T) {
	open := func(path string) (clap.Library, error) {
		return nil, errors.New("dlopen: no such file")
	}

	_, err := OpenWith(open, "/missing/plugin.clap")
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrLoad))

	var loadErr *LoadError
	assert.True(t, errors.As(err, &loadErr))
	assert.Equal(t, "/missing/plugin.clap", loadErr.Path)
}

func TestMetadata(t *testing.T) {
	fake := claptest.NewLibrary("/plugins/pair.clap",
		claptest.NewEffectPlugin("com.example.gain", "Gain"),
		claptest.NewInstrumentPlugin("com.example.synth", "Synth"),
	)

	lib, err := OpenWith(fake.Opener(), "/plugins/pair.clap")
	assert.NoError(t, err)
	defer lib.Close()

	meta, err := lib.Metadata()
	assert.NoError(t, err)
	assert.Equal(t, "/plugins/pair.clap", meta.Path)
	assert.Equal(t, clap.Version{Major: 1, Minor: 2, Revision: 2}, meta.Version)
	assert.Len(t, meta.Plugins, 2)

	desc, ok := meta.Descriptor("com.example.synth")
	assert.True(t, ok)
	assert.Equal(t, "Synth", desc.Name)

	_, ok = meta.Descriptor("com.example.missing")
	assert.False(t, ok)
}

func TestMetadataRequiredFields(t *testing.T) {
	tests := []struct {
		name   string
		mangle func(*claptest.Plugin)
		field  string
	}{
		{
			name:   "empty id",
			mangle: func(p *claptest.Plugin) { p.Desc.ID = "" },
			field:  "id",
		},
		{
			name:   "null name pointer",
			mangle: func(p *claptest.Plugin) { p.Desc.Name = ""; p.Desc.AbsentFields = []string{"name"} },
			field:  "name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plugin := claptest.NewEffectPlugin("com.example.gain", "Gain")
			tt.mangle(plugin)
			fake := claptest.NewLibrary("/plugins/mangled.clap", plugin)

			lib, err := OpenWith(fake.Opener(), "/plugins/mangled.clap")
			assert.NoError(t, err)
			defer lib.Close()

			_, err = lib.Metadata()
			assert.True(t, errors.Is(err, ErrMalformedDescriptor))

			var malformed *MalformedDescriptorError
			assert.True(t, errors.As(err, &malformed))
			assert.Equal(t, tt.field, malformed.Field)
			assert.Equal(t, 0, malformed.Index)
		})
	}
}

func TestMetadataDuplicateID(t *testing.T) {
	fake := claptest.NewLibrary("/plugins/dup.clap",
		claptest.NewEffectPlugin("com.example.gain", "Gain"),
		claptest.NewEffectPlugin("com.example.gain", "Gain Copy"),
	)

	lib, err := OpenWith(fake.Opener(), "/plugins/dup.clap")
	assert.NoError(t, err)
	defer lib.Close()

	_, err = lib.Metadata()
	assert.True(t, errors.Is(err, ErrDuplicatePluginID))

	var dup *DuplicatePluginIDError
	assert.True(t, errors.As(err, &dup))
	assert.Equal(t, "com.example.gain", dup.ID)
}

func TestMetadataEnumerationFault(t *testing.T) {
	fake := claptest.NewLibrary("/plugins/faulty.clap")
	fake.DescriptorsErr = errors.New("factory returned a null descriptor at index 0 of 1")

	lib, err := OpenWith(fake.Opener(), "/plugins/faulty.clap")
	assert.NoError(t, err)
	defer lib.Close()

	_, err = lib.Metadata()
	assert.True(t, errors.Is(err, ErrLoad))
	assert.Contains(t, err.Error(), "null descriptor")
}

func TestCreateInstanceUnknownID(t *testing.T) {
	fake := claptest.NewLibrary("/plugins/gain.clap", claptest.NewEffectPlugin("com.example.gain", "Gain"))

	lib, err := OpenWith(fake.Opener(), "/plugins/gain.clap")
	assert.NoError(t, err)
	defer lib.Close()

	_, err = lib.CreateInstance(nil, "com.example.other")
	assert.True(t, errors.Is(err, clap.ErrNotFound))
}
