package pkgvalidate

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rawprogram0 = `<?xml version="1.0" encoding="UTF-8" ?>
<data>
<program SECTOR_SIZE_IN_BYTES="4096" file_sector_offset="0" filename="gpt_main0.bin" label="PrimaryGPT" num_partition_sectors="6" physical_partition_number="0" size_in_KB="24.0" sparse="false" start_sector="0"/>
<program SECTOR_SIZE_IN_BYTES="4096" filename="" label="super" num_partition_sectors="100" physical_partition_number="0" start_sector="1000"/>
<program SECTOR_SIZE_IN_BYTES="4096" filename="" label="persist" num_partition_sectors="10" physical_partition_number="0" start_sector="2000"/>
</data>
`

const rawprogram0MissingAsset = `<?xml version="1.0" encoding="UTF-8" ?>
<data>
<program SECTOR_SIZE_IN_BYTES="4096" filename="" label="boot_a" num_partition_sectors="10" physical_partition_number="0" start_sector="3000"/>
</data>
`

func writeBasicPackage(t *testing.T, fs afero.Fs, rawprogram0Body string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, "/pkg/META/super_def.oldest.json", []byte(`{}`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/pkg/META/super_def.zzz.json", []byte(`{}`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/pkg/IMAGES/rawprogram0.xml", []byte(rawprogram0Body), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/pkg/IMAGES/patch0.xml", []byte(`<?xml version="1.0" encoding="UTF-8" ?><data></data>`), 0o644))
}

func TestValidateHappyPath(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeBasicPackage(t, fs, rawprogram0)

	pkg, err := Validate(fs, "/pkg", false)
	require.NoError(t, err)

	assert.Equal(t, "/pkg/META/super_def.zzz.json", pkg.SuperDefPath)
	assert.Equal(t, []string{"/pkg/IMAGES/rawprogram0.xml"}, pkg.RawProgramFiles)
	assert.Equal(t, []string{"/pkg/IMAGES/patch0.xml"}, pkg.PatchFiles)
	assert.True(t, pkg.IsMissSuperImage)
	assert.False(t, pkg.IsMissFile)

	require.Len(t, pkg.RawPrograms, 2)
	assert.Equal(t, "PrimaryGPT", pkg.RawPrograms[0].Label)
	assert.Equal(t, "gpt_main0.bin", pkg.RawPrograms[0].Filename)
	assert.Contains(t, string(pkg.RawPrograms[0].Document), `label="PrimaryGPT"`)
	assert.Contains(t, string(pkg.RawPrograms[0].Document), "<data>")
	assert.Equal(t, "super", pkg.RawPrograms[1].Label)
	assert.Empty(t, pkg.RawPrograms[1].Filename)
}

func TestValidateMissingMeta(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/pkg/IMAGES/rawprogram0.xml", []byte(rawprogram0), 0o644))

	_, err := Validate(fs, "/pkg", false)
	require.Error(t, err)
	var pErr *Error
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, "meta-missing", pErr.Category)
}

func TestValidateMissingSuperDef(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/pkg/META", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/pkg/IMAGES/rawprogram0.xml", []byte(rawprogram0), 0o644))

	_, err := Validate(fs, "/pkg", false)
	require.Error(t, err)
	var pErr *Error
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, "super-def-missing", pErr.Category)
}

func TestValidateMissingRawprogram(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/pkg/META/super_def.oldest.json", []byte(`{}`), 0o644))

	_, err := Validate(fs, "/pkg", false)
	require.Error(t, err)
	var pErr *Error
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, "rawprogram-missing", pErr.Category)
}

func TestValidateFailsOnMissingAsset(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeBasicPackage(t, fs, rawprogram0MissingAsset)

	_, err := Validate(fs, "/pkg", false)
	require.Error(t, err)
	var pErr *Error
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, "asset-missing", pErr.Category)
	assert.Equal(t, "boot_a", pErr.Detail)
}

func TestValidateMissingPatchFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/pkg/META/super_def.oldest.json", []byte(`{}`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/pkg/IMAGES/rawprogram0.xml", []byte(rawprogram0), 0o644))

	_, err := Validate(fs, "/pkg", false)
	require.Error(t, err)
	var pErr *Error
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, "patch-missing", pErr.Category)
}

func TestValidateProtectLUN5NarrowsRange(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeBasicPackage(t, fs, rawprogram0)
	require.NoError(t, afero.WriteFile(fs, "/pkg/IMAGES/rawprogram5.xml", []byte(rawprogram0), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/pkg/IMAGES/patch5.xml", []byte(`<data></data>`), 0o644))

	pkg, err := Validate(fs, "/pkg", true)
	require.NoError(t, err)
	assert.NotContains(t, pkg.RawProgramFiles, "/pkg/IMAGES/rawprogram5.xml")
}

func TestParseRawProgramFileStandalone(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/pkg/IMAGES/rawprogram0.xml", []byte(rawprogram0), 0o644))

	entries, err := ParseRawProgramFile(fs, "/pkg/IMAGES/rawprogram0.xml")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "PrimaryGPT", entries[0].Label)
	assert.Equal(t, "gpt_main0.bin", entries[0].Filename)
	assert.Equal(t, "/pkg/IMAGES", entries[0].SourceDir)
	assert.Empty(t, entries[1].Filename)
	assert.Equal(t, "super", entries[1].Label)
}

func TestBuildSingleEntryDocEscapesAttrs(t *testing.T) {
	fs := afero.NewMemMapFs()
	body := `<?xml version="1.0" encoding="UTF-8" ?><data>
<program SECTOR_SIZE_IN_BYTES="4096" filename="a&b.bin" label="weird" num_partition_sectors="1" physical_partition_number="0" start_sector="0"/>
</data>`
	writeBasicPackage(t, fs, body)

	pkg, err := Validate(fs, "/pkg", false)
	require.NoError(t, err)
	require.Len(t, pkg.RawPrograms, 1)
	assert.Contains(t, string(pkg.RawPrograms[0].Document), "a&amp;b.bin")
}
