package credentials_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/fulfillment/internal/credentials"
	"github.com/tournevent/fulfillment/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

type stubSource struct {
	cfg *credentials.SellerConfig
	err error
}

func (s stubSource) SellerConfig(context.Context) (*credentials.SellerConfig, error) {
	return s.cfg, s.err
}

func nopLogger() *otelzap.Logger {
	return otelzap.New(zap.NewNop())
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		`  ops@example.com `: "ops@example.com",
		`"secret"`:           "secret",
		`'secret'`:           "secret",
		` "secret" `:         "secret",
		`""secret""`:         `"secret"`,
		`"secret'`:           `"secret'`,
		`"`:                  `"`,
		`''`:                 "",
		"":                   "",
	}
	for in, want := range cases {
		assert.Equal(t, want, credentials.Normalize(in), "input %q", in)
	}
}

func TestResolve_SellerFirst(t *testing.T) {
	r := credentials.NewResolver(shipper.Credentials{Email: "default@example.com", Password: "dflt"}, nil, nopLogger())

	got, err := r.Resolve(&credentials.SellerConfig{Email: ` "seller@example.com" `, Password: "'pw'"})

	require.NoError(t, err)
	assert.Equal(t, shipper.Credentials{Email: "seller@example.com", Password: "pw"}, got)
}

func TestResolve_IncompleteSellerFallsBack(t *testing.T) {
	r := credentials.NewResolver(shipper.Credentials{Email: "default@example.com", Password: `"dflt"`}, nil, nopLogger())

	got, err := r.Resolve(&credentials.SellerConfig{Email: "seller@example.com", Password: `""`})

	require.NoError(t, err)
	assert.Equal(t, shipper.Credentials{Email: "default@example.com", Password: "dflt"}, got)
}

func TestResolve_Missing(t *testing.T) {
	r := credentials.NewResolver(shipper.Credentials{Email: "default@example.com"}, nil, nopLogger())

	_, err := r.Resolve(nil)

	assert.True(t, errors.Is(err, shipper.ErrMissingCredentials))
}

func TestCredentials_SourceErrorUsesDefaults(t *testing.T) {
	src := stubSource{err: errors.New("disk on fire")}
	r := credentials.NewResolver(shipper.Credentials{Email: "d@example.com", Password: "p"}, src, nopLogger())

	got, err := r.Credentials(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "d@example.com", got.Email)
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seller.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
seller_id: acme
shiprocket:
  email: "ops@acme.example"
  password: "'quoted'"
`), 0o600))

	r := credentials.NewResolver(shipper.Credentials{}, credentials.NewFileSource(path), nopLogger())
	got, err := r.Credentials(context.Background())

	require.NoError(t, err)
	assert.Equal(t, shipper.Credentials{Email: "ops@acme.example", Password: "quoted"}, got)

	cfg, err := credentials.NewFileSource(path).SellerConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "acme", cfg.SellerID)
}

func TestFileSource_MissingFile(t *testing.T) {
	cfg, err := credentials.NewFileSource(filepath.Join(t.TempDir(), "nope.yaml")).SellerConfig(context.Background())

	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestFileSource_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("shiprocket: [unclosed"), 0o600))

	_, err := credentials.NewFileSource(path).SellerConfig(context.Background())

	assert.Error(t, err)
}
