package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/ikun245/telegram-linkstools/internal/check"
)

func TestGatherLinksPriority(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "links.txt", []byte("@fromfile"), 0o644))

	links, err := gatherLinks(fsys, []string{"@arg", "@arg"}, "links.txt", strings.NewReader("@stdin"))
	require.NoError(t, err)
	require.Equal(t, []string{"@arg"}, links, "arguments win over file and stdin")

	links, err = gatherLinks(fsys, nil, "links.txt", strings.NewReader("@stdin"))
	require.NoError(t, err)
	require.Equal(t, []string{"@fromfile"}, links)

	links, err = gatherLinks(fsys, nil, "", strings.NewReader("@stdin\n@stdin\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"@stdin"}, links)
}

func TestGatherLinksAcceptsBareUsernames(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "links.txt", []byte("durov\ntelegram\n\n  durov  \n"), 0o644))

	links, err := gatherLinks(fsys, nil, "links.txt", strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, []string{"durov", "telegram"}, links)

	links, err = gatherLinks(fsys, nil, "", strings.NewReader("durov\nhttps://t.me/telegram\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"durov", "https://t.me/telegram"}, links)
}

func TestExtractCommand(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader("join @alpha or https://t.me/beta, again @alpha"))
	root.SetArgs([]string{"extract"})

	require.NoError(t, root.Execute())
	lines := strings.Fields(out.String())
	require.Equal(t, []string{
		check.CanonicalHost + "alpha",
		check.CanonicalHost + "beta",
	}, lines)
}

func TestCompareCommandRequiresTwoFiles(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"compare", "only-one.txt"})

	require.Error(t, root.Execute())
}
