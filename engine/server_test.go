package engine

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/loadnetwork/load-el/log"
)

var testSecret = common.FromHex("0x7365637265747365637265747365637265747365637265747365637265747365")

const clientVersionBody = `{"jsonrpc":"2.0","method":"web3_clientVersion","params":[],"id":1}`

func newAuthServer(t *testing.T) *httptest.Server {
	t.Helper()
	_, api := newTestAPI(t)
	srv := httptest.NewServer(NewServer(api, testSecret, log.Discard()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, token, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(out)
}

func TestServer_JWT(t *testing.T) {
	srv := newAuthServer(t)

	good, err := NewJWTToken(testSecret, time.Now())
	require.NoError(t, err)
	code, body := post(t, srv.URL, good, clientVersionBody)
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, ClientVersionString())

	stale, err := NewJWTToken(testSecret, time.Now().Add(-2*time.Minute))
	require.NoError(t, err)
	wrongKey, err := NewJWTToken(make([]byte, 32), time.Now())
	require.NoError(t, err)

	for name, token := range map[string]string{"missing": "", "stale": stale, "wrong key": wrongKey, "garbage": "abc.def.ghi"} {
		t.Run(name, func(t *testing.T) {
			code, _ := post(t, srv.URL, token, clientVersionBody)
			require.Equal(t, http.StatusUnauthorized, code)
		})
	}
}

func TestServer_MethodAndSize(t *testing.T) {
	_, api := newTestAPI(t)
	s := NewServer(api, nil, log.Discard())
	s.maxBytes = 128
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	code, _ := post(t, srv.URL, "", strings.Repeat(" ", 256)+clientVersionBody)
	require.Equal(t, http.StatusRequestEntityTooLarge, code)

	code, body := post(t, srv.URL, "", clientVersionBody)
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, `"result"`)
}

func TestServer_StartStop(t *testing.T) {
	_, api := newTestAPI(t)
	s := NewServer(api, nil, log.Discard())
	require.Nil(t, s.Addr())
	require.NoError(t, s.Start("127.0.0.1:0"))

	code, _ := post(t, "http://"+s.Addr().String(), "", clientVersionBody)
	require.Equal(t, http.StatusOK, code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestLoadJWTSecret(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "jwt.hex")
	require.NoError(t, os.WriteFile(good, []byte("0x"+common.Bytes2Hex(testSecret)+"\n"), 0o600))
	secret, err := LoadJWTSecret(good)
	require.NoError(t, err)
	require.Equal(t, testSecret, secret)

	short := filepath.Join(dir, "short.hex")
	require.NoError(t, os.WriteFile(short, []byte("0xdeadbeef"), 0o600))
	_, err = LoadJWTSecret(short)
	require.ErrorIs(t, err, ErrJWTSecretLength)

	_, err = LoadJWTSecret(filepath.Join(dir, "missing"))
	require.Error(t, err)
}
