package server

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/tenantguard/internal/logging"
	"github.com/dmitrijs2005/tenantguard/internal/server/auth"
	"github.com/dmitrijs2005/tenantguard/internal/server/auth/keystore"
	"github.com/dmitrijs2005/tenantguard/internal/server/config"
	"github.com/dmitrijs2005/tenantguard/internal/server/geo"
	"github.com/dmitrijs2005/tenantguard/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSource struct{}

func (failingSource) Load(context.Context) (keystore.KeyPair, error) {
	return keystore.KeyPair{}, errors.New("no keys")
}

func testConfig() *config.Config {
	c := &config.Config{}
	c.LoadDefaults()
	c.EndpointAddrGRPC = "127.0.0.1:0"
	c.MetricsAddr = "127.0.0.1:0"
	return c
}

func writeKeys(t *testing.T) (string, string) {
	t.Helper()
	key, err := auth.GenerateKeyPair(auth.DefaultKeyBits)
	require.NoError(t, err)
	priv, pub, err := keystore.WriteFiles(t.TempDir(), key)
	require.NoError(t, err)
	return priv, pub
}

func TestNewKeySource(t *testing.T) {
	c := testConfig()

	c.KeySource = config.KeySourceFile
	src, err := NewKeySource(context.Background(), c)
	require.NoError(t, err)
	assert.IsType(t, &keystore.FileSource{}, src)

	c.KeySource = "vault"
	_, err = NewKeySource(context.Background(), c)
	assert.ErrorContains(t, err, "unknown key source")
}

func TestNewGeoResolver(t *testing.T) {
	c := testConfig()
	c.GeoDatabasePath = ""
	r, err := NewGeoResolver(c)
	require.NoError(t, err)
	assert.IsType(t, geo.Nop{}, r)

	path := filepath.Join(t.TempDir(), "geo.csv")
	require.NoError(t, os.WriteFile(path, []byte("10.0.0.0/8,LV/Riga\n"), 0o600))
	c.GeoDatabasePath = path
	r, err = NewGeoResolver(c)
	require.NoError(t, err)
	loc, err := r.Lookup(context.Background(), "10.1.2.3")
	require.NoError(t, err)
	assert.Equal(t, "LV/Riga", loc)

	c.GeoDatabasePath = filepath.Join(t.TempDir(), "missing.csv")
	_, err = NewGeoResolver(c)
	assert.Error(t, err)
}

func TestNewApp_KeyLoadFailureIsFatal(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewApp(context.Background(), testConfig(), db, repomanager.NewPostgresRepositoryManager(), failingSource{}, logging.NewNopLogger())
	assert.ErrorContains(t, err, "key load error")
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()

	priv, pub := writeKeys(t)
	app, err := NewApp(context.Background(), testConfig(), db, repomanager.NewPostgresRepositoryManager(), keystore.NewFileSource(priv, pub), logging.NewNopLogger())
	require.NoError(t, err)
	require.NotNil(t, app.Auth)
	require.NotNil(t, app.Access)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		app.Run(ctx)
		close(done)
	}()

	time.Sleep(150 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("app did not stop after cancel")
	}
	require.NoError(t, mock.ExpectationsWereMet())
}
