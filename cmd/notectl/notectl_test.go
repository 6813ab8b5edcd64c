package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msea200/clipshare/internal/domain"
	"github.com/msea200/clipshare/internal/dto"
)

func TestParseLine(t *testing.T) {
	cases := []struct {
		line, cmd, arg string
		isCommand      bool
	}{
		{"hello", "", "hello", false},
		{"/add", "add", "", true},
		{"/DEL  n1 ", "del", "n1", true},
		{"/set new text here", "set", "new text here", true},
		{"//not a command", "", "/not a command", false},
	}
	for _, tc := range cases {
		cmd, arg, isCommand := parseLine(tc.line)
		assert.Equal(t, tc.cmd, cmd, tc.line)
		assert.Equal(t, tc.arg, arg, tc.line)
		assert.Equal(t, tc.isCommand, isCommand, tc.line)
	}
}

func TestLengthWarning(t *testing.T) {
	assert.Empty(t, lengthWarning(strings.Repeat("a", domain.MaxTextLength)))
	assert.Contains(t, lengthWarning(strings.Repeat("é", domain.MaxTextLength+1)), "10001 chars")
}

func TestCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "creds.json")

	creds, err := loadCredentials(path)
	require.NoError(t, err)
	assert.Nil(t, creds)

	want := &credentials{Server: "http://x", Token: "tok", Identity: &domain.Identity{UserID: 2, Role: domain.RoleMember}}
	require.NoError(t, saveCredentials(path, want))
	got, err := loadCredentials(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, removeCredentials(path))
	require.NoError(t, removeCredentials(path))
}

func TestPrintNotes(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printNotes(&buf, []domain.Note{
		{ID: "n2", Text: "second", CreatedAt: now.Add(-2 * time.Minute).UnixMilli(), Author: &domain.Author{DisplayName: "Ada"}},
		{ID: "n1", Text: "line1\nline2", CreatedAt: now.Add(-3 * time.Hour).UnixMilli()},
	}, now)

	out := buf.String()
	assert.Contains(t, out, "[n2] 2m ago by Ada, 6 chars")
	assert.Contains(t, out, "[n1] 3h ago, 11 chars")
	assert.Contains(t, out, "    line2\n")
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(append(args, "--credentials", filepath.Join(t.TempDir(), "creds.json")))
	err := cmd.Execute()
	return out.String(), err
}

func TestCreateCommand(t *testing.T) {
	var gotScheme string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/rooms", r.URL.Path)
		var req dto.CreateRoomRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotScheme = req.Scheme
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(dto.RoomPayload{Code: "261016-001", ExpiresAt: time.Now().Add(time.Hour).UnixMilli()})
	}))
	defer srv.Close()

	out, err := runCommand(t, "create", "--dated", "--server", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "dated", gotScheme)
	assert.Contains(t, out, "Room 261016-001")
	assert.Contains(t, out, "(no notes)")
}

func TestJoinCommand_RoomMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"Room not found"}`))
	}))
	defer srv.Close()

	_, err := runCommand(t, "join", "ABC-123", "--server", srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "room ABC-123 does not exist")
}

func TestAdminCommand_Forbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Authorization header required"}`))
	}))
	defer srv.Close()

	_, err := runCommand(t, "admin", "list", "--server", srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sign in first")
}
