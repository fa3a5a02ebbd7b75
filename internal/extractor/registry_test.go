package extractor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nalpari/jppc/internal/crawler"
)

func TestDefaultRegistry(t *testing.T) {
	t.Parallel()

	r := Default()
	require.Equal(t, []string{"tepco", "kepco", "chubu", "chugoku"}, r.Codes())

	e, err := r.Get(" TEPCO ")
	require.NoError(t, err)
	require.Equal(t, "tepco", e.Source().Code)

	_, err = r.Get("okinawa")
	require.ErrorIs(t, err, crawler.ErrUnknownSource)
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	r := Default()
	all, err := r.Resolve(nil)
	require.NoError(t, err)
	require.Len(t, all, 4)

	picked, err := r.Resolve([]string{"chugoku", "KEPCO", "chugoku"})
	require.NoError(t, err)
	require.Len(t, picked, 2)
	require.Equal(t, "chugoku", picked[0].Source().Code)
	require.Equal(t, "kepco", picked[1].Source().Code)

	_, err = r.Resolve([]string{"tepco", "bogus"})
	require.ErrorIs(t, err, crawler.ErrUnknownSource)
}

func TestCatalogApply(t *testing.T) {
	t.Parallel()

	cat, err := ParseCatalog([]byte(`
sources:
  - code: kepco
    enabled: false
  - code: tepco
    name: TEPCO EP
    base_url: https://staging.example.jp/
`))
	require.NoError(t, err)

	r, err := cat.Apply(Default())
	require.NoError(t, err)
	require.Equal(t, []string{"tepco", "chubu", "chugoku"}, r.Codes())

	tepco, err := r.Get("tepco")
	require.NoError(t, err)
	src := tepco.Source()
	require.Equal(t, "TEPCO EP", src.Name)
	require.Equal(t, "https://staging.example.jp/ep/private/plan/standard/chargelist01.html", src.PageURL(src.Pages[0]))

	// The base registry is untouched.
	orig, err := Default().Get("tepco")
	require.NoError(t, err)
	require.Equal(t, "https://www.tepco.co.jp", orig.Source().BaseURL)
}

func TestCatalogErrors(t *testing.T) {
	t.Parallel()

	_, err := ParseCatalog([]byte("sources:\n  - enabled: true\n"))
	require.Error(t, err)

	_, err = ParseCatalog([]byte("sources: [oops"))
	require.Error(t, err)

	cat, err := ParseCatalog([]byte("sources:\n  - code: hokuden\n"))
	require.NoError(t, err)
	_, err = cat.Apply(Default())
	require.ErrorIs(t, err, crawler.ErrUnknownSource)
}

func TestLoadCatalog(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sources:\n  - code: chubu\n    enabled: false\n"), 0o600))

	cat, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, cat.Sources, 1)

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
