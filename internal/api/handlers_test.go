package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DhanujMalik/Collaborative-Whiteboard-Development/internal/roomcode"
	"github.com/DhanujMalik/Collaborative-Whiteboard-Development/internal/session"
	"github.com/DhanujMalik/Collaborative-Whiteboard-Development/internal/store"
	"github.com/DhanujMalik/Collaborative-Whiteboard-Development/internal/ws"
)

func setupTestAPI(t *testing.T) (*gin.Engine, *store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tmpDir, err := os.MkdirTemp("", "whiteboard-api-test-*")
	require.NoError(t, err, "Failed to create temp dir")

	st, err := store.New(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err, "Failed to create store")

	flusher := session.NewFlusher(st)
	hub := ws.NewHub(session.NewRegistry(st, 10), flusher)
	go hub.Run()

	router := gin.New()
	New(hub, st).Register(router)

	t.Cleanup(func() {
		flusher.Stop()
		st.Close()
		os.RemoveAll(tmpDir)
	})

	return router, st
}

func postJSON(router *gin.Engine, path string, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router, _ := setupTestAPI(t)

	w := get(router, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestJoinRoomCreatesAndNormalizes(t *testing.T) {
	router, _ := setupTestAPI(t)

	w := postJSON(router, "/api/rooms/join", `{"roomId":"  abc123 "}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		RoomID         string `json:"roomId"`
		Created        bool   `json:"created"`
		HasDrawingData bool   `json:"hasDrawingData"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ABC123", resp.RoomID)
	assert.True(t, resp.Created)
	assert.False(t, resp.HasDrawingData)

	// Joining again finds the existing room
	w = postJSON(router, "/api/rooms/join", `{"roomId":"ABC123"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Created)
}

func TestJoinRoomRequiresID(t *testing.T) {
	router, _ := setupTestAPI(t)

	for _, body := range []string{`{}`, `{"roomId":"   "}`, `not json`} {
		w := postJSON(router, "/api/rooms/join", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body: %s", body)
		assert.Contains(t, w.Body.String(), "error")
	}
}

func TestJoinRoomReportsDrawingData(t *testing.T) {
	router, st := setupTestAPI(t)

	require.NoError(t, st.SaveDrawing("DRAWN1", []byte(`[{"kind":"stroke-start"}]`), time.Now()))

	w := postJSON(router, "/api/rooms/join", `{"roomId":"DRAWN1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"hasDrawingData":true`)

	// A cleared canvas persists an empty array, which reads back as no data
	require.NoError(t, st.SaveDrawing("DRAWN1", []byte("[]"), time.Now()))
	w = postJSON(router, "/api/rooms/join", `{"roomId":"DRAWN1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"hasDrawingData":false`)
}

func TestCreateRoomGeneratesCode(t *testing.T) {
	router, _ := setupTestAPI(t)

	w := postJSON(router, "/api/rooms/create", `{}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		RoomID  string `json:"roomId"`
		Created bool   `json:"created"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Created)
	assert.Len(t, resp.RoomID, roomcode.Length)
	for _, r := range resp.RoomID {
		assert.True(t, strings.ContainsRune(roomcode.Alphabet, r),
			"code %q contains %q outside alphabet", resp.RoomID, r)
	}

	// Back-to-back creations never hand out the same code
	w2 := postJSON(router, "/api/rooms/create", `{}`)
	require.Equal(t, http.StatusOK, w2.Code)
	var resp2 struct {
		RoomID string `json:"roomId"`
	}
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &resp2))
	assert.NotEqual(t, resp.RoomID, resp2.RoomID)
}

func TestGetRoom(t *testing.T) {
	router, _ := setupTestAPI(t)

	w := get(router, "/api/rooms/NOSUCH")
	assert.Equal(t, http.StatusNotFound, w.Code)

	postJSON(router, "/api/rooms/join", `{"roomId":"ABC123"}`)

	w = get(router, "/api/rooms/abc123")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		RoomID              string `json:"roomId"`
		HasDrawingData      bool   `json:"hasDrawingData"`
		DrawingCommandCount int    `json:"drawingCommandCount"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ABC123", resp.RoomID)
	assert.False(t, resp.HasDrawingData)
	assert.Zero(t, resp.DrawingCommandCount)
}

func TestRoomStats(t *testing.T) {
	router, st := setupTestAPI(t)

	w := get(router, "/api/rooms/NOSUCH/stats")
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, st.SaveDrawing("ABC123",
		[]byte(`[{"kind":"stroke-start"},{"kind":"stroke-end"}]`), time.Now()))

	w = get(router, "/api/rooms/ABC123/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		RoomID               string `json:"roomId"`
		TotalDrawingCommands int    `json:"totalDrawingCommands"`
		ActiveUsers          int    `json:"activeUsers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ABC123", resp.RoomID)
	assert.Equal(t, 2, resp.TotalDrawingCommands)
	assert.Zero(t, resp.ActiveUsers)
}

func TestStats(t *testing.T) {
	router, _ := setupTestAPI(t)

	postJSON(router, "/api/rooms/join", `{"roomId":"ABC123"}`)

	w := get(router, "/api/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp, "active_rooms")
	assert.Contains(t, resp, "active_clients")
	assert.EqualValues(t, 1, resp["total_rooms"])
}
