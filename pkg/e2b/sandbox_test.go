package e2b

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newEnvdSandbox wires a sandbox handle to a fake envd server.
func newEnvdSandbox(t *testing.T, envd *httptest.Server) *Sandbox {
	t.Helper()
	c, err := NewClient(ClientConfig{
		APIKey:  "test-key",
		Domain:  "test.local",
		APIURL:  "http://unused.invalid",
		EnvdURL: envd.URL,
	})
	require.NoError(t, err)
	return &Sandbox{id: "sbx-1", domain: "test.local", accessToken: "tok", client: c}
}

func TestHostFormat(t *testing.T) {
	s := &Sandbox{id: "sbx-1", domain: "e2b.app"}
	assert.Equal(t, "3000-sbx-1.e2b.app", s.Host(3000))
}

func TestEnvdBaseURLDerivesFromDomain(t *testing.T) {
	c, err := NewClient(ClientConfig{APIKey: "k", Domain: "e2b.app"})
	require.NoError(t, err)
	s := &Sandbox{id: "sbx-1", domain: "e2b.app", client: c}
	assert.Equal(t, "https://49983-sbx-1.e2b.app", s.envdBaseURL())
}

func TestListFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/files", r.URL.Path)
		assert.Equal(t, "/home/user", r.URL.Query().Get("path"))
		assert.Equal(t, "tok", r.Header.Get("X-Access-Token"))

		json.NewEncoder(w).Encode([]FileInfo{
			{Name: "main.go", Path: "/home/user/main.go", IsDir: false, Size: 120},
			{Name: "src", Path: "/home/user/src", IsDir: true},
		})
	}))
	defer srv.Close()

	s := newEnvdSandbox(t, srv)
	entries, err := s.ListFiles(context.Background(), "/home/user")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "main.go", entries[0].Name)
	assert.True(t, entries[1].IsDir)
}

func TestPingUsesRootListing(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Query().Get("path")
		json.NewEncoder(w).Encode([]FileInfo{})
	}))
	defer srv.Close()

	s := newEnvdSandbox(t, srv)
	require.NoError(t, s.Ping(context.Background()))
	assert.Equal(t, "/", gotPath)
}

func TestPingFailsOnEnvdError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := newEnvdSandbox(t, srv)
	err := s.Ping(context.Background())
	require.Error(t, err)
	assert.Equal(t, FailureConnection, Classify(err))
}

func TestReadFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/app/main.py", r.URL.Query().Get("path"))
		w.Write([]byte("print('hi')\n"))
	}))
	defer srv.Close()

	s := newEnvdSandbox(t, srv)
	data, err := s.ReadFile(context.Background(), "/app/main.py")
	require.NoError(t, err)
	assert.Equal(t, "print('hi')\n", string(data))
}

func TestWriteFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/app/out.txt", r.URL.Query().Get("path"))
		assert.Equal(t, "tok", r.Header.Get("X-Access-Token"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()

		buf := make([]byte, 16)
		n, _ := file.Read(buf)
		assert.Equal(t, "hello", string(buf[:n]))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newEnvdSandbox(t, srv)
	require.NoError(t, s.WriteFile(context.Background(), "/app/out.txt", []byte("hello")))
}

func TestWriteFileSurfacesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "disk full", http.StatusInsufficientStorage)
	}))
	defer srv.Close()

	s := newEnvdSandbox(t, srv)
	err := s.WriteFile(context.Background(), "/app/out.txt", []byte("x"))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInsufficientStorage, apiErr.StatusCode)
}

func TestRemoveFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/tmp/scratch", r.URL.Query().Get("path"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newEnvdSandbox(t, srv)
	require.NoError(t, s.RemoveFile(context.Background(), "/tmp/scratch"))
}

func TestRunCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/commands/run", r.URL.Path)

		var req runCommandRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "/bin/bash", req.Cmd)
		assert.Equal(t, []string{"-l", "-c", "ls -la"}, req.Args)
		assert.Equal(t, "/app", req.Cwd)

		json.NewEncoder(w).Encode(runCommandResponse{
			Stdout:   "total 0\n",
			Stderr:   "",
			ExitCode: 0,
		})
	}))
	defer srv.Close()

	s := newEnvdSandbox(t, srv)
	result, err := s.RunCommand(context.Background(), "ls -la", "/app")
	require.NoError(t, err)
	assert.Equal(t, "total 0\n", result.Stdout)
	assert.Equal(t, 0, result.ExitCode)
	assert.GreaterOrEqual(t, result.Duration.Nanoseconds(), int64(0))
}

func TestRunCommandNonZeroExit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(runCommandResponse{
			Stderr:   "no such file\n",
			ExitCode: 2,
		})
	}))
	defer srv.Close()

	s := newEnvdSandbox(t, srv)
	result, err := s.RunCommand(context.Background(), "cat /missing", "")
	require.NoError(t, err)
	assert.Equal(t, 2, result.ExitCode)
	assert.Contains(t, result.Stderr, "no such file")
}
