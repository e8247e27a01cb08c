package importer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/yuridevx/proxyhub/domain"
	"github.com/yuridevx/proxyhub/pkg/providers"
	"github.com/yuridevx/proxyhub/pkg/proxyline"
	"github.com/yuridevx/proxyhub/pkg/store"
	"github.com/yuridevx/proxyhub/pkg/store/boltstore"
	"go.uber.org/zap"
)

func newImporter(t *testing.T) (*Importer, *boltstore.Store) {
	t.Helper()
	st, err := boltstore.Open(filepath.Join(t.TempDir(), "import.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(zap.NewNop(), st, providers.NewTextList(zap.NewNop(), nil), nil, nil), st
}

func TestImportMixedLines(t *testing.T) {
	im, st := newImporter(t)
	text := "1.2.3.4:8080\n" +
		"not a proxy\n" +
		"\n" +
		"   \n" +
		"socks5://u:p@5.6.7.8:1080\n" +
		"9.9.9.9:abc\n" +
		"10.0.0.1:3128:bob:secret\n"

	report := im.Import(context.Background(), 1, text, nil)
	require.Equal(t, 3, report.Imported)
	require.Equal(t, 2, report.Errors)
	require.Len(t, report.ErrorDetails, 2)
	require.Contains(t, report.ErrorDetails[0], "not a proxy")
	require.Contains(t, report.ErrorDetails[1], "9.9.9.9:abc")
	require.Len(t, report.Proxies, 3)

	for _, p := range report.Proxies {
		require.Equal(t, domain.StatusPending, p.Status)
		require.Equal(t, []string{"Default"}, p.TagNames())
	}
	require.Equal(t, domain.SchemeSOCKS5, report.Proxies[1].Scheme)
	require.Equal(t, "bob", report.Proxies[2].Username)

	all, total, err := st.ListProxies(context.Background(), 1, domain.ListQuery{})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, all, 3)
}

func TestImportValidationErrorsAreReported(t *testing.T) {
	im, _ := newImporter(t)

	report := im.Import(context.Background(), 1, "bad_host!:80\n1.2.3.4:70000\n1.2.3.4:0", []string{"x"})
	require.Zero(t, report.Imported)
	require.Equal(t, 3, report.Errors)
	require.Equal(t, "bad_host!:80: invalid host format", report.ErrorDetails[0])
	require.Equal(t, "1.2.3.4:70000: port must be between 1-65535", report.ErrorDetails[1])
	require.Equal(t, "1.2.3.4:0: host and port are required", report.ErrorDetails[2])
}

func TestImportReusesTags(t *testing.T) {
	im, st := newImporter(t)
	ctx := context.Background()

	im.Import(ctx, 1, "1.1.1.1:80", []string{"eu", " eu ", "fast"})
	im.Import(ctx, 2, "2.2.2.2:80", []string{"eu"})

	tags, err := st.ListTags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 2)
}

func TestImportEmptyText(t *testing.T) {
	im, _ := newImporter(t)
	report := im.Import(context.Background(), 1, "\n\n  \n", nil)
	require.Zero(t, report.Imported)
	require.Zero(t, report.Errors)
	require.NotNil(t, report.ErrorDetails)
	require.NotNil(t, report.Proxies)
}

func TestImportURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("1.2.3.4:80\nhttps://5.6.7.8:443\ngarbage\n"))
	}))
	defer srv.Close()

	im, _ := newImporter(t)
	report, err := im.ImportURL(context.Background(), 1, srv.URL, []string{"remote"})
	require.NoError(t, err)
	require.Equal(t, 2, report.Imported)
	require.Equal(t, 1, report.Errors)
	require.Equal(t, []string{"remote"}, report.Proxies[0].TagNames())

	_, err = im.ImportURL(context.Background(), 1, "ftp://nope", nil)
	require.Error(t, err)
}

func TestAddAndUpdateProxy(t *testing.T) {
	im, _ := newImporter(t)
	ctx := context.Background()

	p, err := im.AddProxy(ctx, 1, domain.ProxyInput{
		Candidate: domain.Candidate{Scheme: "SOCKS5", Host: " 10.0.0.1 ", Port: 1080},
		Tags:      []string{"a"},
	})
	require.NoError(t, err)
	require.Equal(t, domain.SchemeSOCKS5, p.Scheme)
	require.Equal(t, "10.0.0.1", p.Host)
	require.Equal(t, "10.0.0.1:1080", p.Name)

	_, err = im.AddProxy(ctx, 1, domain.ProxyInput{Candidate: domain.Candidate{Scheme: "ftp", Host: "h", Port: 1}})
	var verr *proxyline.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "invalid proxy type", verr.Reason)

	up, err := im.UpdateProxy(ctx, 1, p.ID, domain.ProxyInput{
		Candidate: domain.Candidate{Scheme: domain.SchemeHTTP, Host: "10.0.0.2", Port: 8080, Name: "renamed"},
	})
	require.NoError(t, err)
	require.Equal(t, "renamed", up.Name)
	require.Equal(t, []string{"a"}, up.TagNames())

	_, err = im.UpdateProxy(ctx, 2, p.ID, domain.ProxyInput{Candidate: up.Candidate()})
	require.True(t, errors.Is(err, store.ErrNotFound))
}
